package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
	dedupmem "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/infrastructure/memory"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/infrastructure/rulefile"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/notify"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
	samplemem "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type staticRules struct {
	set alarms.RuleSet
}

func (s staticRules) LoadRules(context.Context) (alarms.RuleSet, error) {
	return s.set, nil
}

type recordingDispatcher struct {
	mu         sync.Mutex
	deliveries []notify.Delivery
	onDispatch func()
}

func (d *recordingDispatcher) Dispatch(_ context.Context, deliveries []notify.Delivery) notify.Outcome {
	d.mu.Lock()
	d.deliveries = append(d.deliveries, deliveries...)
	d.mu.Unlock()
	if d.onDispatch != nil {
		d.onDispatch()
	}
	var outcome notify.Outcome
	for _, delivery := range deliveries {
		outcome.OK = append(outcome.OK, string(delivery.Spec.Type))
	}
	return outcome
}

func (d *recordingDispatcher) sent() []notify.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Delivery(nil), d.deliveries...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	firings []alarms.Firing
}

func (n *recordingNotifier) Notify(_ context.Context, firing alarms.Firing) {
	n.mu.Lock()
	n.firings = append(n.firings, firing)
	n.mu.Unlock()
}

var t0 = time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

func seedStates(t *testing.T, store *samplemem.Store, machineID string, newest time.Time, rpm float64, statesNewestFirst ...telemetry.State) {
	t.Helper()
	samples := make([]telemetry.Sample, 0, len(statesNewestFirst))
	for i, state := range statesNewestFirst {
		samples = append(samples, telemetry.Sample{
			MachineID: machineID,
			Timestamp: newest.Add(-time.Duration(i) * 2 * time.Second),
			RPM:       rpm,
			FeedRate:  1200,
			State:     state,
		})
	}
	require.NoError(t, store.UpsertSamples(context.Background(), samples))
}

func repeat(state telemetry.State, n int) []telemetry.State {
	out := make([]telemetry.State, n)
	for i := range out {
		out[i] = state
	}
	return out
}

func stalledRule() alarms.Rule {
	return alarms.Rule{
		Name:      "spindle_stalled",
		MachineID: alarms.MachineWildcard,
		Condition: "rpm == 0 and state == 'running'",
		Severity:  alarms.SeverityCritical,
		Enabled:   true,
		Channels: []alarms.ChannelSpec{
			{Type: alarms.ChannelSlack, URL: "https://hooks.slack.test", Enabled: true},
		},
	}
}

type harness struct {
	clock      *fakeClock
	store      *samplemem.Store
	dedup      *dedupmem.DedupStore
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	engine     *Engine
}

func newHarness(t *testing.T, set alarms.RuleSet, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:      &fakeClock{now: t0},
		store:      samplemem.NewStore(),
		dispatcher: &recordingDispatcher{},
		notifier:   &recordingNotifier{},
	}
	h.dedup = dedupmem.NewDedupStore(h.clock)
	opts = append([]Option{WithClock(h.clock), WithNotifier(h.notifier)}, opts...)
	engine, err := NewEngine(staticRules{set: set}, h.store, h.dedup, h.dispatcher, opts...)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func TestRunCycleDedupWindow(t *testing.T) {
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{stalledRule()}})
	seedStates(t, h.store, "CNC-1", t0, 0, repeat(telemetry.StateRunning, 10)...)
	ctx := context.Background()

	result, err := h.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{AlertsFired: 1, MachinesChecked: 1}, result)

	h.clock.Set(t0.Add(30 * time.Second))
	result, err = h.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleResult{MachinesChecked: 1, Suppressed: 1}, result)

	h.clock.Set(t0.Add(61 * time.Second))
	result, err = h.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)

	assert.Len(t, h.dispatcher.sent(), 2)
}

func TestRunCycleRuleWindowOverridesGlobal(t *testing.T) {
	rule := stalledRule()
	rule.DedupeWindowSeconds = 300
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{rule}, DedupeWindow: 10 * time.Second})
	seedStates(t, h.store, "CNC-1", t0, 0, repeat(telemetry.StateRunning, 5)...)

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	h.clock.Set(t0.Add(100 * time.Second))
	seedStates(t, h.store, "CNC-1", t0.Add(100*time.Second), 0, repeat(telemetry.StateRunning, 5)...)
	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Suppressed)
	assert.Zero(t, result.AlertsFired)
}

func TestRunCycleRequiresMinimumDuration(t *testing.T) {
	rule := stalledRule()
	rule.DurationSeconds = 10
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{rule}})
	seedStates(t, h.store, "CNC-1", t0, 0,
		telemetry.StateRunning, telemetry.StateRunning, telemetry.StateRunning, telemetry.StateIdle, telemetry.StateRunning)

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.AlertsFired)

	seedStates(t, h.store, "CNC-2", t0, 0, repeat(telemetry.StateRunning, 6)...)
	result, err = h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)
	require.Len(t, h.notifier.firings, 1)
	assert.Equal(t, "CNC-2", h.notifier.firings[0].MachineID)
	assert.Equal(t, 12.0, h.notifier.firings[0].Data.DurationSeconds)
}

func TestRunCycleDurationConditionUsesCurrentState(t *testing.T) {
	rule := alarms.Rule{
		Name:      "long_stop",
		Condition: "state == 'stopped' and duration_min >= 0.1",
		Severity:  alarms.SeverityWarning,
		Enabled:   true,
		Template:  "{machine_id} stopped {duration_seconds:.0f}s",
		Channels:  []alarms.ChannelSpec{{Type: alarms.ChannelWebhook, URL: "http://hook", Enabled: true}},
	}
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{rule}})
	seedStates(t, h.store, "CNC-1", t0, 0, repeat(telemetry.StateStopped, 4)...)

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)

	sent := h.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "CNC-1 stopped 8s", sent[0].Message.Text)
	assert.Equal(t, alarms.SeverityWarning, sent[0].Message.Severity)
}

func TestRunCycleCountsEvaluationErrors(t *testing.T) {
	bad := stalledRule()
	bad.Name = "bad"
	bad.Condition = "spindle_load > 10"
	mismatch := stalledRule()
	mismatch.Name = "mismatch"
	mismatch.Condition = "state > 3"
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{bad, mismatch}})
	seedStates(t, h.store, "CNC-1", t0, 0, telemetry.StateRunning)

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.EvaluationErrors)
	assert.Zero(t, result.AlertsFired)
	assert.Empty(t, h.dispatcher.sent())
}

func TestRunCycleSkipsDisabledAndOtherMachines(t *testing.T) {
	disabled := stalledRule()
	disabled.Name = "disabled"
	disabled.Enabled = false
	other := stalledRule()
	other.Name = "other"
	other.MachineID = "CNC-9"
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{disabled, other}})
	seedStates(t, h.store, "CNC-1", t0, 0, telemetry.StateRunning)

	result, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{MachinesChecked: 1}, result)
}

func TestRunCycleTemplateFallbackAndChannels(t *testing.T) {
	rule := stalledRule()
	rule.Template = "{operator} needed on {machine_id}"
	rule.Channels = []alarms.ChannelSpec{
		{Type: alarms.ChannelSlack, URL: "https://hooks.slack.test", Enabled: true},
		{Type: alarms.ChannelWebhook, URL: "http://hook", Template: "{machine_id}/{rule_name}", Enabled: true},
		{Type: alarms.ChannelWebhook, URL: "http://off", Enabled: false},
	}
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{rule}})
	seedStates(t, h.store, "CNC-1", t0, 0, telemetry.StateRunning)

	_, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)

	sent := h.dispatcher.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Message.Text, "CNC-1 alert: spindle_stalled (template error: ")
	assert.Equal(t, "CNC-1/spindle_stalled", sent[1].Message.Text)

	require.Len(t, h.notifier.firings, 1)
	firing := h.notifier.firings[0]
	assert.Len(t, firing.ID, 26)
	assert.Equal(t, sent[0].Message.AlertID, firing.ID)
	assert.Equal(t, []string{"slack", "webhook"}, firing.ChannelsOK)
	assert.Empty(t, firing.ChannelsFailed)
	assert.Equal(t, t0, firing.FiredAt)
}

func TestRunCycleMarksDedupAfterCancellation(t *testing.T) {
	h := newHarness(t, alarms.RuleSet{Rules: []alarms.Rule{stalledRule()}})
	seedStates(t, h.store, "CNC-1", t0, 0, telemetry.StateRunning)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.onDispatch = cancel

	result, err := h.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)

	exists, err := h.dedup.Exists(context.Background(), alarms.DedupKey("spindle_stalled", "CNC-1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

// staleExists hides existing markers, as when two engines check the store
// before either has written.
type staleExists struct {
	*dedupmem.DedupStore
}

func (staleExists) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func TestRunCycleSharedDedupFiresOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	store := samplemem.NewStore()
	seedStates(t, store, "CNC-1", t0, 0, telemetry.StateRunning)
	shared := staleExists{DedupStore: dedupmem.NewDedupStore(clock)}
	set := alarms.RuleSet{Rules: []alarms.Rule{stalledRule()}}

	first := &recordingDispatcher{}
	second := &recordingDispatcher{}
	engine1, err := NewEngine(staticRules{set: set}, store, shared, first, WithClock(clock))
	require.NoError(t, err)
	engine2, err := NewEngine(staticRules{set: set}, store, shared, second, WithClock(clock))
	require.NoError(t, err)

	result1, err := engine1.RunCycle(context.Background())
	require.NoError(t, err)
	result2, err := engine2.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleResult{AlertsFired: 1, MachinesChecked: 1}, result1)
	assert.Equal(t, CycleResult{Suppressed: 1, MachinesChecked: 1}, result2)
	assert.Len(t, first.sent(), 1)
	assert.Empty(t, second.sent())
}

func TestRunCycleConcurrentEnginesFireOnce(t *testing.T) {
	clock := &fakeClock{now: t0}
	store := samplemem.NewStore()
	seedStates(t, store, "CNC-1", t0, 0, telemetry.StateRunning)
	shared := dedupmem.NewDedupStore(clock)
	set := alarms.RuleSet{Rules: []alarms.Rule{stalledRule()}}

	dispatchers := []*recordingDispatcher{{}, {}}
	results := make([]CycleResult, len(dispatchers))
	var wg sync.WaitGroup
	for i, dispatcher := range dispatchers {
		engine, err := NewEngine(staticRules{set: set}, store, shared, dispatcher, WithClock(clock))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = engine.RunCycle(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results[0].AlertsFired+results[1].AlertsFired)
	assert.Equal(t, 1, results[0].Suppressed+results[1].Suppressed)
	assert.Len(t, append(dispatchers[0].sent(), dispatchers[1].sent()...), 1)
}

func TestRunCycleShippedLongStopRule(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.test/T000")
	t.Setenv("ALERT_WEBHOOK_URL", "")
	clock := &fakeClock{now: t0}
	store := samplemem.NewStore()
	seedStates(t, store, "CNC-1", t0, 0, repeat(telemetry.StateStopped, 300)...)
	dispatcher := &recordingDispatcher{}
	engine, err := NewEngine(rulefile.NewLoader("../../../configs/alerts.yaml", nil), store,
		dedupmem.NewDedupStore(clock), dispatcher, WithClock(clock))
	require.NoError(t, err)

	result, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)
	assert.Zero(t, result.EvaluationErrors)

	sent := dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "long_stop", sent[0].Message.Rule)
	assert.Equal(t, "CNC-1 stopped for 5.1 min", sent[0].Message.Text)
	assert.Equal(t, 304.0, sent[0].Message.Data.DurationSeconds)
}

func TestRuleLookbackCoversDurationGate(t *testing.T) {
	engine, err := NewEngine(staticRules{}, samplemem.NewStore(), dedupmem.NewDedupStore(nil), &recordingDispatcher{})
	require.NoError(t, err)
	short := stalledRule()
	short.DurationSeconds = 10
	long := stalledRule()
	long.DurationSeconds = 300

	assert.Equal(t, 120*time.Second, engine.ruleLookback([]alarms.Rule{short}, 120*time.Second))
	assert.Equal(t, 302*time.Second, engine.ruleLookback([]alarms.Rule{short, long}, 120*time.Second))
}

type unavailableSource struct{}

func (unavailableSource) DistinctActiveMachines(context.Context, time.Time) ([]string, error) {
	return nil, telemetry.ErrDataUnavailable
}

func (unavailableSource) RecentSamples(context.Context, string, time.Time, int) ([]telemetry.Sample, error) {
	return nil, telemetry.ErrDataUnavailable
}

func TestRunCycleMissingDatasetIsEmpty(t *testing.T) {
	engine, err := NewEngine(staticRules{set: alarms.RuleSet{Rules: []alarms.Rule{stalledRule()}}},
		unavailableSource{}, dedupmem.NewDedupStore(nil), &recordingDispatcher{})
	require.NoError(t, err)

	result, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleResult{}, result)
}

type slowSource struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *slowSource) DistinctActiveMachines(context.Context, time.Time) ([]string, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return nil, nil
}

func (s *slowSource) RecentSamples(context.Context, string, time.Time, int) ([]telemetry.Sample, error) {
	return nil, nil
}

func TestRunCycleDoesNotOverlap(t *testing.T) {
	source := &slowSource{}
	engine, err := NewEngine(staticRules{}, source, dedupmem.NewDedupStore(nil), &recordingDispatcher{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.RunCycle(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), source.maxSeen.Load())
}

func TestNewEngineRejectsNilDeps(t *testing.T) {
	_, err := NewEngine(nil, samplemem.NewStore(), dedupmem.NewDedupStore(nil), &recordingDispatcher{})
	assert.Error(t, err)
	_, err = NewEngine(staticRules{}, samplemem.NewStore(), nil, &recordingDispatcher{})
	assert.Error(t, err)
}

func TestDurationInState(t *testing.T) {
	states := []telemetry.State{
		telemetry.StateRunning, telemetry.StateRunning, telemetry.StateRunning, telemetry.StateIdle, telemetry.StateRunning,
	}
	samples := make([]telemetry.Sample, len(states))
	for i, state := range states {
		samples[i] = telemetry.Sample{State: state}
	}

	assert.Equal(t, 6.0, DurationInState(samples, telemetry.StateRunning, 2*time.Second))
	assert.Zero(t, DurationInState(samples, telemetry.StateIdle, 2*time.Second))
	assert.Zero(t, DurationInState(nil, telemetry.StateRunning, 2*time.Second))
	assert.Equal(t, 1.5, DurationInState(samples[:3], telemetry.StateRunning, 500*time.Millisecond))
}
