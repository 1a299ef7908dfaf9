package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "cnc_"

	resultSuccess = "success"
	resultError   = "error"
	resultEmpty   = "empty"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	historyQueries *prometheus.CounterVec
	historyLatency *prometheus.HistogramVec

	oeeComputeTotal   *prometheus.CounterVec
	oeeComputeLatency *prometheus.HistogramVec
	oeeExportTotal    *prometheus.CounterVec

	alertCycleTotal    *prometheus.CounterVec
	alertCycleLatency  prometheus.Histogram
	alertFiredTotal    *prometheus.CounterVec
	alertSuppressed    prometheus.Counter
	alertEvalErrors    prometheus.Counter
	alertDispatchTotal *prometheus.CounterVec

	rollupWindowTotal   *prometheus.CounterVec
	rollupWindowLatency *prometheus.HistogramVec

	collectorSnapshots *prometheus.CounterVec
)

// Init registers service metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		historyQueries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_queries_total",
				Help: "Total history queries by resolution and result",
			},
			[]string{"resolution", "result"},
		)
		historyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_latency_seconds",
				Help:    "History query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resolution"},
		)

		oeeComputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "oee_compute_total",
				Help: "Total OEE computations by shift and result",
			},
			[]string{"shift", "result"},
		)
		oeeComputeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "oee_compute_latency_seconds",
				Help:    "OEE computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"shift"},
		)
		oeeExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "oee_export_total",
				Help: "Total OEE exports by format and result",
			},
			[]string{"format", "result"},
		)

		alertCycleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_cycles_total",
				Help: "Total alert evaluation cycles by result",
			},
			[]string{"result"},
		)
		alertCycleLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_cycle_latency_seconds",
				Help:    "Alert evaluation cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		alertFiredTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fired_total",
				Help: "Total alerts fired by rule and severity",
			},
			[]string{"rule", "severity"},
		)
		alertSuppressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Total rule evaluations suppressed by the dedup window",
			},
		)
		alertEvalErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_condition_errors_total",
				Help: "Total alert conditions that failed to parse or evaluate",
			},
		)
		alertDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_dispatch_total",
				Help: "Total alert channel deliveries by channel type and result",
			},
			[]string{"channel", "result"},
		)

		rollupWindowTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_window_total",
				Help: "Total rollup windows closed by resolution and result",
			},
			[]string{"resolution", "result"},
		)
		rollupWindowLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rollup_window_latency_seconds",
				Help:    "Rollup window latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resolution"},
		)

		collectorSnapshots = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "collector_snapshots_total",
				Help: "Total collector snapshots by source and result",
			},
			[]string{"source", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			historyQueries,
			historyLatency,
			oeeComputeTotal,
			oeeComputeLatency,
			oeeExportTotal,
			alertCycleTotal,
			alertCycleLatency,
			alertFiredTotal,
			alertSuppressed,
			alertEvalErrors,
			alertDispatchTotal,
			rollupWindowTotal,
			rollupWindowLatency,
			collectorSnapshots,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveHistory records a history query.
func ObserveHistory(resolution, result string, duration time.Duration) {
	if resolution == "" {
		resolution = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if historyQueries != nil {
		historyQueries.WithLabelValues(resolution, result).Inc()
	}
	if historyLatency != nil {
		historyLatency.WithLabelValues(resolution).Observe(duration.Seconds())
	}
}

// ObserveOEE records an OEE computation.
func ObserveOEE(shift, result string, duration time.Duration) {
	if shift == "" {
		shift = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if oeeComputeTotal != nil {
		oeeComputeTotal.WithLabelValues(shift, result).Inc()
	}
	if oeeComputeLatency != nil {
		oeeComputeLatency.WithLabelValues(shift).Observe(duration.Seconds())
	}
}

// IncOEEExport counts an OEE export.
func IncOEEExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if oeeExportTotal != nil {
		oeeExportTotal.WithLabelValues(format, result).Inc()
	}
}

// ObserveAlertCycle records one alert engine cycle.
func ObserveAlertCycle(result string, duration time.Duration, suppressed, evalErrors int) {
	if result == "" {
		result = resultSuccess
	}
	if alertCycleTotal != nil {
		alertCycleTotal.WithLabelValues(result).Inc()
	}
	if alertCycleLatency != nil {
		alertCycleLatency.Observe(duration.Seconds())
	}
	if alertSuppressed != nil && suppressed > 0 {
		alertSuppressed.Add(float64(suppressed))
	}
	if alertEvalErrors != nil && evalErrors > 0 {
		alertEvalErrors.Add(float64(evalErrors))
	}
}

// IncAlertFired counts a fired alert.
func IncAlertFired(rule, severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertFiredTotal != nil {
		alertFiredTotal.WithLabelValues(rule, severity).Inc()
	}
}

// IncAlertDispatch counts a channel delivery.
func IncAlertDispatch(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if alertDispatchTotal != nil {
		alertDispatchTotal.WithLabelValues(channel, result).Inc()
	}
}

// ObserveRollupWindow records a rollup window close.
func ObserveRollupWindow(resolution, result string, duration time.Duration) {
	if resolution == "" {
		resolution = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if rollupWindowTotal != nil {
		rollupWindowTotal.WithLabelValues(resolution, result).Inc()
	}
	if rollupWindowLatency != nil {
		rollupWindowLatency.WithLabelValues(resolution).Observe(duration.Seconds())
	}
}

// IncCollectorSnapshot counts a collector read.
func IncCollectorSnapshot(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if collectorSnapshots != nil {
		collectorSnapshots.WithLabelValues(source, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultEmpty   = resultEmpty
)
