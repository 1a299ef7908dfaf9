package collector

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingIngester struct {
	mu      sync.Mutex
	samples []telemetry.Sample
	err     error
}

func (r *recordingIngester) Ingest(_ context.Context, sample telemetry.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, sample)
	return nil
}

func (r *recordingIngester) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type healthRecorder struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (h *healthRecorder) Success(string) {
	h.mu.Lock()
	h.successes++
	h.mu.Unlock()
}

func (h *healthRecorder) Failure(string, error) {
	h.mu.Lock()
	h.failures++
	h.mu.Unlock()
}

type failingSource struct{}

func (failingSource) Read(context.Context) (telemetry.Sample, error) {
	return telemetry.Sample{}, ErrNoSnapshot
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSimulatorPhases(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sim, err := NewSimulator("CNC-1", fixedClock{now: now})
	require.NoError(t, err)

	states := make([]telemetry.State, 0, 302)
	var last telemetry.Sample
	for i := 0; i < 302; i++ {
		last, err = sim.Read(context.Background())
		require.NoError(t, err)
		states = append(states, last.State)
		if i == 50 {
			assert.Equal(t, 3500.0, last.RPM)
			assert.Equal(t, 1200.0, last.FeedRate)
			assert.Equal(t, now, last.Timestamp)
			assert.Equal(t, "CNC-1", last.MachineID)
		}
	}

	assert.Equal(t, telemetry.StateIdle, states[8])
	assert.Equal(t, telemetry.StateRunning, states[9])
	assert.Equal(t, telemetry.StateRunning, states[198])
	assert.Equal(t, telemetry.StateStopped, states[199])
	assert.Equal(t, telemetry.StateStopped, states[218])
	assert.Equal(t, telemetry.StateIdle, states[219])
	assert.Equal(t, telemetry.StateIdle, states[300])
	// the tick counter wraps after 300, so the next read starts a new idle phase
	assert.Equal(t, telemetry.StateIdle, states[301])
	assert.Zero(t, last.RPM)
	require.NotNil(t, last.Sequence)
	assert.EqualValues(t, 302, *last.Sequence)
	assert.NoError(t, last.Validate())
}

func TestNewSimulatorRejectsBadMachineID(t *testing.T) {
	_, err := NewSimulator("bad id", nil)
	assert.Error(t, err)
}

func TestWorkerPollRecordsHealth(t *testing.T) {
	sim, err := NewSimulator("CNC-1", nil)
	require.NoError(t, err)
	ingester := &recordingIngester{}
	health := &healthRecorder{}
	worker, err := NewWorker("simulator", sim, ingester, WithHealth(health), WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, worker.Poll(context.Background()))
	assert.Equal(t, 1, ingester.count())
	assert.Equal(t, 1, health.successes)

	ingester.err = errors.New("store down")
	assert.Error(t, worker.Poll(context.Background()))
	assert.Equal(t, 1, health.failures)

	failing, err := NewWorker("opcua", failingSource{}, &recordingIngester{}, WithHealth(health), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, failing.Poll(context.Background()), ErrNoSnapshot)
	assert.Equal(t, 2, health.failures)
}

func TestWorkerStartStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim, err := NewSimulator("CNC-1", nil)
	require.NoError(t, err)
	ingester := &recordingIngester{}
	worker, err := NewWorker("simulator", sim, ingester, WithInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Start(ctx)
	}()
	require.Eventually(t, func() bool { return ingester.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewWorkerRejectsNilDeps(t *testing.T) {
	_, err := NewWorker("x", nil, &recordingIngester{})
	assert.Error(t, err)
	_, err = NewWorker("x", failingSource{}, nil)
	assert.Error(t, err)
}

func TestOPCUASourceAppliesNotifications(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	source, err := NewOPCUASource(OPCUAConfig{
		Endpoint:  "opc.tcp://localhost:4840",
		MachineID: "CNC-7",
		RPMNode:   "ns=2;s=Spindle.RPM",
		FeedNode:  "ns=2;s=Axis.Feed",
		StateNode: "ns=2;s=Execution",
	}, fixedClock{now: now}, quietLogger())
	require.NoError(t, err)

	_, err = source.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)

	source.apply(&ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		{ClientHandle: handleRPM, Value: &ua.DataValue{Value: ua.MustVariant(float64(3200))}},
		{ClientHandle: handleFeed, Value: &ua.DataValue{Value: ua.MustVariant(int32(850))}},
	}})
	_, err = source.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)

	source.apply(&ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		{ClientHandle: handleState, Value: &ua.DataValue{Value: ua.MustVariant("EXECUTING")}},
	}})
	sample, err := source.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CNC-7", sample.MachineID)
	assert.Equal(t, 3200.0, sample.RPM)
	assert.Equal(t, 850.0, sample.FeedRate)
	assert.Equal(t, telemetry.StateRunning, sample.State)
	assert.Equal(t, now, sample.Timestamp)

	source.apply(&ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		{ClientHandle: handleState, Value: &ua.DataValue{Value: ua.MustVariant("garbage")}},
		{ClientHandle: handleRPM, Value: &ua.DataValue{Value: ua.MustVariant(true)}},
	}})
	sample, err = source.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.StateRunning, sample.State)
	assert.Equal(t, 3200.0, sample.RPM)
}

func TestVariantToState(t *testing.T) {
	cases := []struct {
		in   *ua.Variant
		want telemetry.State
		ok   bool
	}{
		{ua.MustVariant("EXECUTING"), telemetry.StateRunning, true},
		{ua.MustVariant("stopped"), telemetry.StateStopped, true},
		{ua.MustVariant("ALARM"), telemetry.StateStopped, true},
		{ua.MustVariant("READY"), telemetry.StateIdle, true},
		{ua.MustVariant(int32(1)), telemetry.StateRunning, true},
		{ua.MustVariant(uint16(2)), telemetry.StateStopped, true},
		{ua.MustVariant(int32(0)), telemetry.StateIdle, true},
		{ua.MustVariant("warming"), "", false},
		{nil, "", false},
	}
	for _, tc := range cases {
		got, ok := variantToState(tc.in)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.want, got)
	}
}

func TestOPCUAConfigValidation(t *testing.T) {
	_, err := NewOPCUASource(OPCUAConfig{MachineID: "CNC-1"}, nil, nil)
	assert.Error(t, err)
	_, err = NewOPCUASource(OPCUAConfig{Endpoint: "opc.tcp://x:4840", MachineID: "CNC-1", RPMNode: "ns=2;s=a"}, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, "SignAndEncrypt", normalizeSecurityMode("signandencrypt"))
	assert.Equal(t, "None", normalizeSecurityMode(""))
}
