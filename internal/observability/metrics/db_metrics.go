package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "active_machines",
			Help: "Machines with a sample in the last 5 minutes",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(DISTINCT machine_id) FROM telemetry WHERE ts >= NOW() - INTERVAL '5 minutes'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "samples_last_hour",
			Help: "Raw samples stored for the last hour",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM telemetry WHERE ts >= NOW() - INTERVAL '1 hour'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
