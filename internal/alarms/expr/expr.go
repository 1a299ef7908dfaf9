// Package expr evaluates alert rule conditions over a machine snapshot.
//
// The language is a small whitelist: the identifiers listed in Identifiers,
// number and string literals, arithmetic, comparisons (chainable), boolean
// operators and parentheses. Nothing else can be referenced or called.
package expr

import (
	"fmt"
	"math"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// Identifiers are the names a condition may reference.
var Identifiers = []string{"rpm", "feed_rate", "feed", "state", "duration_seconds", "duration_min"}

var allowed = func() map[string]struct{} {
	out := make(map[string]struct{}, len(Identifiers))
	for _, name := range Identifiers {
		out[name] = struct{}{}
	}
	return out
}()

// Env is the snapshot a condition is evaluated against.
type Env struct {
	RPM             float64
	FeedRate        float64
	State           string
	DurationSeconds float64
}

func (e Env) lookup(name string) value {
	switch name {
	case "rpm":
		return number(e.RPM)
	case "feed_rate", "feed":
		return number(e.FeedRate)
	case "state":
		return value{kind: kindString, str: e.State}
	case "duration_seconds":
		return number(e.DurationSeconds)
	case "duration_min":
		return number(e.DurationSeconds / 60)
	}
	return value{}
}

// Program is a compiled condition.
type Program struct {
	source string
	root   node
	idents map[string]struct{}
}

// Compile parses src. Errors wrap alarms.ErrConditionEvaluation.
func Compile(src string) (*Program, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alarms.ErrConditionEvaluation, err)
	}
	p := &parser{tokens: tokens, idents: make(map[string]struct{})}
	root, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alarms.ErrConditionEvaluation, err)
	}
	return &Program{source: src, root: root, idents: p.idents}, nil
}

// References reports whether the condition mentions any of names.
func (p *Program) References(names ...string) bool {
	for _, name := range names {
		if _, ok := p.idents[name]; ok {
			return true
		}
	}
	return false
}

// String returns the source text.
func (p *Program) String() string { return p.source }

// Eval evaluates the condition. A non-boolean result is an error.
func (p *Program) Eval(env Env) (bool, error) {
	v, err := eval(p.root, env)
	if err != nil {
		return false, fmt.Errorf("%w: %v", alarms.ErrConditionEvaluation, err)
	}
	if v.kind != kindBool {
		return false, fmt.Errorf("%w: condition yields %s, not bool", alarms.ErrConditionEvaluation, v.kind)
	}
	return v.b, nil
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, env Env) (bool, error) {
	prog, err := Compile(src)
	if err != nil {
		return false, err
	}
	return prog.Eval(env)
}

type kind int

const (
	kindNumber kind = iota
	kindString
	kindBool
)

func (k kind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	default:
		return "bool"
	}
}

type value struct {
	kind kind
	num  float64
	str  string
	b    bool
}

func number(v float64) value { return value{kind: kindNumber, num: v} }

func boolean(v bool) value { return value{kind: kindBool, b: v} }

func eval(n node, env Env) (value, error) {
	switch n := n.(type) {
	case numberLit:
		return number(n.value), nil
	case stringLit:
		return value{kind: kindString, str: n.value}, nil
	case boolLit:
		return boolean(n.value), nil
	case ident:
		return env.lookup(n.name), nil
	case unary:
		x, err := eval(n.x, env)
		if err != nil {
			return value{}, err
		}
		if n.op == tokNot {
			if x.kind != kindBool {
				return value{}, fmt.Errorf("not applied to %s", x.kind)
			}
			return boolean(!x.b), nil
		}
		if x.kind != kindNumber {
			return value{}, fmt.Errorf("unary minus applied to %s", x.kind)
		}
		return number(-x.num), nil
	case binary:
		if n.op == tokAnd || n.op == tokOr {
			return evalLogical(n, env)
		}
		return evalArithmetic(n, env)
	case compare:
		return evalCompare(n, env)
	}
	return value{}, fmt.Errorf("unsupported expression")
}

func evalLogical(n binary, env Env) (value, error) {
	left, err := eval(n.l, env)
	if err != nil {
		return value{}, err
	}
	if left.kind != kindBool {
		return value{}, fmt.Errorf("logical operand is %s", left.kind)
	}
	if n.op == tokAnd && !left.b {
		return boolean(false), nil
	}
	if n.op == tokOr && left.b {
		return boolean(true), nil
	}
	right, err := eval(n.r, env)
	if err != nil {
		return value{}, err
	}
	if right.kind != kindBool {
		return value{}, fmt.Errorf("logical operand is %s", right.kind)
	}
	return right, nil
}

func evalArithmetic(n binary, env Env) (value, error) {
	left, err := eval(n.l, env)
	if err != nil {
		return value{}, err
	}
	right, err := eval(n.r, env)
	if err != nil {
		return value{}, err
	}
	if left.kind != kindNumber || right.kind != kindNumber {
		return value{}, fmt.Errorf("arithmetic on %s and %s", left.kind, right.kind)
	}
	a, b := left.num, right.num
	switch n.op {
	case tokPlus:
		return number(a + b), nil
	case tokMinus:
		return number(a - b), nil
	case tokStar:
		return number(a * b), nil
	case tokSlash:
		if b == 0 {
			return value{}, fmt.Errorf("division by zero")
		}
		return number(a / b), nil
	case tokPercent:
		if b == 0 {
			return value{}, fmt.Errorf("modulo by zero")
		}
		// Result takes the sign of the divisor.
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return number(r), nil
	}
	return value{}, fmt.Errorf("unsupported operator")
}

func evalCompare(n compare, env Env) (value, error) {
	left, err := eval(n.operands[0], env)
	if err != nil {
		return value{}, err
	}
	for i, op := range n.ops {
		right, err := eval(n.operands[i+1], env)
		if err != nil {
			return value{}, err
		}
		ok, err := compareValues(op, left, right)
		if err != nil {
			return value{}, err
		}
		if !ok {
			return boolean(false), nil
		}
		left = right
	}
	return boolean(true), nil
}

func compareValues(op tokenKind, a, b value) (bool, error) {
	if a.kind != b.kind {
		return false, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case kindNumber:
		return ordered(op, a.num, b.num), nil
	case kindString:
		return ordered(op, a.str, b.str), nil
	default:
		switch op {
		case tokEQ:
			return a.b == b.b, nil
		case tokNE:
			return a.b != b.b, nil
		}
		return false, fmt.Errorf("booleans are not ordered")
	}
}

func ordered[T float64 | string](op tokenKind, a, b T) bool {
	switch op {
	case tokLT:
		return a < b
	case tokLE:
		return a <= b
	case tokGT:
		return a > b
	case tokGE:
		return a >= b
	case tokEQ:
		return a == b
	default:
		return a != b
	}
}
