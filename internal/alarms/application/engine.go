package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/expr"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/notify"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/tracing"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	DefaultActiveWindow    = 5 * time.Minute
	DefaultLookback        = 120 * time.Second
	DefaultSampleLimit     = 100
	DefaultDedupeWindow    = 60 * time.Second
	DefaultSampleInterval  = 2 * time.Second
	DefaultDispatchTimeout = 5 * time.Second

	markerTimeout = 2 * time.Second
)

// SampleSource is the sample store view the engine needs.
type SampleSource interface {
	DistinctActiveMachines(ctx context.Context, since time.Time) ([]string, error)
	RecentSamples(ctx context.Context, machineID string, since time.Time, limit int) ([]telemetry.Sample, error)
}

// Dispatcher delivers rendered messages to rule channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, deliveries []notify.Delivery) notify.Outcome
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	AlertsFired      int `json:"alerts_fired"`
	MachinesChecked  int `json:"machines_checked"`
	Suppressed       int `json:"suppressed"`
	EvaluationErrors int `json:"evaluation_errors"`
}

// Engine evaluates alert rules against recent machine samples.
type Engine struct {
	mu sync.Mutex

	rules      alarms.RuleSource
	samples    SampleSource
	dedup      alarms.DedupStore
	dispatcher Dispatcher
	notifier   FiringNotifier
	clock      Clock
	logger     *log.Logger
	tracer     trace.Tracer
	entropy    io.Reader
	programs   map[string]*expr.Program

	activeWindow    time.Duration
	lookback        time.Duration
	dedupeWindow    time.Duration
	sampleInterval  time.Duration
	dispatchTimeout time.Duration
	sampleLimit     int
}

// Option customizes the engine.
type Option func(*Engine)

// WithNotifier assigns a firing notifier.
func WithNotifier(notifier FiringNotifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithActiveWindow sets how recent a sample must be for a machine to be checked.
func WithActiveWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.activeWindow = window
		}
	}
}

// WithLookback sets the default recent-sample window.
func WithLookback(lookback time.Duration) Option {
	return func(e *Engine) {
		if lookback > 0 {
			e.lookback = lookback
		}
	}
}

// WithDedupeWindow sets the default dedup marker TTL.
func WithDedupeWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.dedupeWindow = window
		}
	}
}

// WithSampleInterval sets the nominal spacing used for state durations.
func WithSampleInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.sampleInterval = interval
		}
	}
}

// WithDispatchTimeout bounds one dispatch to all channels of a firing.
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.dispatchTimeout = timeout
		}
	}
}

// WithSampleLimit caps the recent samples read per machine.
func WithSampleLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.sampleLimit = limit
		}
	}
}

// NewEngine constructs an alert engine.
func NewEngine(rules alarms.RuleSource, samples SampleSource, dedup alarms.DedupStore, dispatcher Dispatcher, opts ...Option) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("alarms: nil rule source")
	}
	if samples == nil {
		return nil, errors.New("alarms: nil sample source")
	}
	if dedup == nil {
		return nil, errors.New("alarms: nil dedup store")
	}
	if dispatcher == nil {
		return nil, errors.New("alarms: nil dispatcher")
	}
	e := &Engine{
		rules:           rules,
		samples:         samples,
		dedup:           dedup,
		dispatcher:      dispatcher,
		clock:           systemClock{},
		logger:          log.Default(),
		tracer:          tracing.Tracer("alarms/engine"),
		entropy:         ulid.Monotonic(rand.Reader, 0),
		programs:        make(map[string]*expr.Program),
		activeWindow:    DefaultActiveWindow,
		lookback:        DefaultLookback,
		dedupeWindow:    DefaultDedupeWindow,
		sampleInterval:  DefaultSampleInterval,
		dispatchTimeout: DefaultDispatchTimeout,
		sampleLimit:     DefaultSampleLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns the currently configured rule set.
func (e *Engine) Rules(ctx context.Context) (alarms.RuleSet, error) {
	return e.rules.LoadRules(ctx)
}

// RunCycle evaluates every enabled rule against every active machine.
// Concurrent calls are serialized.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "alarms.cycle")
	defer span.End()

	result, err := e.runCycle(ctx)
	span.SetAttributes(
		attribute.Int("alerts_fired", result.AlertsFired),
		attribute.Int("machines_checked", result.MachinesChecked),
		attribute.Int("suppressed", result.Suppressed),
		attribute.Int("evaluation_errors", result.EvaluationErrors),
	)
	status := metrics.ResultSuccess
	if err != nil {
		status = metrics.ResultError
		span.RecordError(err)
		e.logger.Printf("alarms: cycle failed: err=%v", err)
	}
	metrics.ObserveAlertCycle(status, time.Since(started), result.Suppressed, result.EvaluationErrors)
	e.logger.Printf("alarms: cycle complete: machines=%d fired=%d suppressed=%d eval_errors=%d",
		result.MachinesChecked, result.AlertsFired, result.Suppressed, result.EvaluationErrors)
	return result, err
}

func (e *Engine) runCycle(ctx context.Context) (CycleResult, error) {
	set, err := e.rules.LoadRules(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("alarms: load rules: %w", err)
	}
	rules := make([]alarms.Rule, 0, len(set.Rules))
	for _, rule := range set.Rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	lookback := e.lookback
	if set.Lookback > 0 {
		lookback = set.Lookback
	}
	window := e.dedupeWindow
	if set.DedupeWindow > 0 {
		window = set.DedupeWindow
	}
	lookback = e.ruleLookback(rules, lookback)
	limit := e.sampleLimit
	if n := int(lookback/e.sampleInterval) + 1; n > limit {
		limit = n
	}

	now := e.clock.Now().UTC()
	machines, err := e.samples.DistinctActiveMachines(ctx, now.Add(-e.activeWindow))
	if err != nil {
		if errors.Is(err, telemetry.ErrDataUnavailable) {
			e.logger.Printf("alarms: sample dataset unavailable: err=%v", err)
			return CycleResult{}, nil
		}
		return CycleResult{}, fmt.Errorf("alarms: active machines: %w", err)
	}

	result := CycleResult{MachinesChecked: len(machines)}
	if len(rules) == 0 {
		return result, nil
	}
	for _, machineID := range machines {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		samples, err := e.samples.RecentSamples(ctx, machineID, now.Add(-lookback), limit)
		if err != nil {
			e.logger.Printf("alarms: recent samples failed: machine=%s err=%v", machineID, err)
			continue
		}
		if len(samples) == 0 {
			continue
		}
		for _, rule := range rules {
			if rule.AppliesTo(machineID) {
				e.evaluate(ctx, rule, machineID, samples, window, now, &result)
			}
		}
	}
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, rule alarms.Rule, machineID string, samples []telemetry.Sample, window time.Duration, now time.Time, result *CycleResult) {
	prog, err := e.program(rule.Condition)
	if err != nil {
		result.EvaluationErrors++
		e.logger.Printf("alarms: condition invalid: rule=%s machine=%s err=%v", rule.Name, machineID, err)
		return
	}

	current := samples[0]
	env := expr.Env{RPM: current.RPM, FeedRate: current.FeedRate, State: string(current.State)}
	if rule.DurationSeconds > 0 || prog.References("duration_seconds", "duration_min") {
		env.DurationSeconds = DurationInState(samples, current.State, e.sampleInterval)
	}

	key := alarms.DedupKey(rule.Name, machineID)
	suppressed, err := e.dedup.Exists(ctx, key)
	if err != nil {
		e.logger.Printf("alarms: dedup check failed: key=%s err=%v", key, err)
		suppressed = false
	}

	matched, err := prog.Eval(env)
	if err != nil {
		result.EvaluationErrors++
		e.logger.Printf("alarms: condition evaluation failed: rule=%s machine=%s err=%v", rule.Name, machineID, err)
		return
	}
	if !matched || env.DurationSeconds < float64(rule.DurationSeconds) {
		return
	}
	if suppressed {
		result.Suppressed++
		e.logger.Printf("alarms: alert suppressed: rule=%s machine=%s", rule.Name, machineID)
		return
	}

	if !e.claim(ctx, key, rule.DedupeWindow(window)) {
		result.Suppressed++
		e.logger.Printf("alarms: alert claimed elsewhere: rule=%s machine=%s", rule.Name, machineID)
		return
	}
	e.fire(ctx, rule, machineID, env, now)
	result.AlertsFired++
}

// ruleLookback widens lookback so the longest enabled duration gate can be
// satisfied by the samples read.
func (e *Engine) ruleLookback(rules []alarms.Rule, lookback time.Duration) time.Duration {
	for _, rule := range rules {
		if need := time.Duration(rule.DurationSeconds)*time.Second + e.sampleInterval; need > lookback {
			lookback = need
		}
	}
	return lookback
}

func (e *Engine) fire(ctx context.Context, rule alarms.Rule, machineID string, env expr.Env, now time.Time) {
	data := notify.TemplateData{
		MachineID:       machineID,
		RuleName:        rule.Name,
		RPM:             env.RPM,
		FeedRate:        env.FeedRate,
		State:           env.State,
		DurationSeconds: env.DurationSeconds,
		Severity:        rule.Severity,
	}
	text := e.render(rule.MessageTemplate(), data)

	firing := alarms.Firing{
		ID:        ulid.MustNew(ulid.Timestamp(now), e.entropy).String(),
		Rule:      rule.Name,
		MachineID: machineID,
		Severity:  rule.Severity,
		Message:   text,
		Data: alarms.FiringData{
			RPM:             env.RPM,
			FeedRate:        env.FeedRate,
			State:           env.State,
			DurationSeconds: env.DurationSeconds,
		},
		FiredAt: now,
	}
	base := notify.Message{
		AlertID:   firing.ID,
		Rule:      rule.Name,
		MachineID: machineID,
		Severity:  rule.Severity,
		Text:      text,
		Data:      firing.Data,
		Timestamp: now,
	}

	deliveries := make([]notify.Delivery, 0, len(rule.Channels))
	for _, ch := range rule.Channels {
		if !ch.Enabled {
			continue
		}
		msg := base
		if ch.Template != "" && ch.Template != rule.MessageTemplate() {
			msg.Text = e.render(ch.Template, data)
		}
		deliveries = append(deliveries, notify.Delivery{Spec: ch, Message: msg})
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	outcome := e.dispatcher.Dispatch(dispatchCtx, deliveries)
	cancel()
	firing.ChannelsOK = append([]string{}, outcome.OK...)
	firing.ChannelsFailed = append([]string{}, outcome.Failed...)

	if e.notifier != nil {
		e.notifier.Notify(ctx, firing)
	}
	metrics.IncAlertFired(rule.Name, rule.Severity)
	e.logger.Printf("alarms: alert fired: rule=%s machine=%s id=%s ok=%d failed=%d",
		rule.Name, machineID, firing.ID, len(firing.ChannelsOK), len(firing.ChannelsFailed))
}

// claim writes the dedup marker before dispatch and reports whether this
// engine owns the firing. The write uses a context detached from ctx so a
// cancelled cycle still holds the marker. A store error allows the firing.
func (e *Engine) claim(ctx context.Context, key string, ttl time.Duration) bool {
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markerTimeout)
	defer cancel()
	claimed, err := e.dedup.SetNX(claimCtx, key, ttl)
	if err != nil {
		e.logger.Printf("alarms: dedup marker failed: key=%s err=%v", key, err)
		return true
	}
	return claimed
}

func (e *Engine) render(tpl string, data notify.TemplateData) string {
	text, err := notify.FormatMessage(tpl, data)
	if err != nil {
		e.logger.Printf("alarms: template render failed: rule=%s machine=%s err=%v", data.RuleName, data.MachineID, err)
	}
	return text
}

func (e *Engine) program(condition string) (*expr.Program, error) {
	if prog, ok := e.programs[condition]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(condition)
	if err != nil {
		return nil, err
	}
	e.programs[condition] = prog
	return prog, nil
}
