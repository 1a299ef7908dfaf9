package expr

import "fmt"

type node interface{}

type numberLit struct{ value float64 }

type stringLit struct{ value string }

type boolLit struct{ value bool }

type ident struct{ name string }

type unary struct {
	op tokenKind
	x  node
}

type binary struct {
	op   tokenKind
	l, r node
}

// compare holds a comparison chain: a < b <= c means a < b and b <= c.
type compare struct {
	ops      []tokenKind
	operands []node
}

type parser struct {
	tokens []token
	pos    int
	idents map[string]struct{}
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parse() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{op: tokOr, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binary{op: tokAnd, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{op: tokNot, x: x}, nil
	}
	return p.parseCompare()
}

func isComparison(kind tokenKind) bool {
	switch kind {
	case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
		return true
	default:
		return false
	}
}

func (p *parser) parseCompare() (node, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !isComparison(p.peek().kind) {
		return first, nil
	}
	chain := compare{operands: []node{first}}
	for isComparison(p.peek().kind) {
		chain.ops = append(chain.ops, p.next().kind)
		operand, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		chain.operands = append(chain.operands, operand)
	}
	return chain, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for kind := p.peek().kind; kind == tokPlus || kind == tokMinus; kind = p.peek().kind {
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binary{op: kind, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for kind := p.peek().kind; kind == tokStar || kind == tokSlash || kind == tokPercent; kind = p.peek().kind {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: kind, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.peek().kind {
	case tokMinus:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{op: tokMinus, x: x}, nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return numberLit{value: tok.num}, nil
	case tokString:
		return stringLit{value: tok.text}, nil
	case tokTrue:
		return boolLit{value: true}, nil
	case tokFalse:
		return boolLit{value: false}, nil
	case tokIdent:
		if _, ok := allowed[tok.text]; !ok {
			return nil, fmt.Errorf("unknown identifier %q at %d", tok.text, tok.pos)
		}
		p.idents[tok.text] = struct{}{}
		return ident{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at %d", closing.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
}
