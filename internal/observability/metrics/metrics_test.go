package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordAfterInit(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	Init(nil, nil)

	ObserveIngest("", 15*time.Millisecond)
	ObserveIngest(ResultError, time.Millisecond)
	IncIngestError("validation")
	if got := testutil.ToFloat64(ingestRequests.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("ingest success: got %v", got)
	}
	if got := testutil.ToFloat64(ingestErrors.WithLabelValues("validation")); got != 1 {
		t.Fatalf("ingest errors: got %v", got)
	}

	ObserveAlertCycle(ResultSuccess, 20*time.Millisecond, 2, 1)
	IncAlertFired("spindle_stopped", "warning")
	IncAlertDispatch("slack", ResultError)
	if got := testutil.ToFloat64(alertSuppressed); got != 2 {
		t.Fatalf("suppressed: got %v", got)
	}
	if got := testutil.ToFloat64(alertEvalErrors); got != 1 {
		t.Fatalf("eval errors: got %v", got)
	}
	if got := testutil.ToFloat64(alertFiredTotal.WithLabelValues("spindle_stopped", "warning")); got != 1 {
		t.Fatalf("fired: got %v", got)
	}
	if samples := testutil.CollectAndCount(alertCycleLatency); samples != 1 {
		t.Fatalf("cycle latency samples: got %d", samples)
	}

	ObserveHistory("5m", ResultEmpty, time.Millisecond)
	ObserveOEE("morning", "", time.Millisecond)
	IncOEEExport("csv", "")
	ObserveRollupWindow("1h", ResultSuccess, time.Millisecond)
	IncCollectorSnapshot("simulator", "")
	if got := testutil.ToFloat64(historyQueries.WithLabelValues("5m", ResultEmpty)); got != 1 {
		t.Fatalf("history: got %v", got)
	}
	if got := testutil.ToFloat64(collectorSnapshots.WithLabelValues("simulator", ResultSuccess)); got != 1 {
		t.Fatalf("collector: got %v", got)
	}
}
