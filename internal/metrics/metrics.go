// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "statusd_check_duration_seconds",
			Help:    "Time spent executing check commands",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusd_checks_total",
			Help: "Total number of check commands executed",
		},
		[]string{"result"},
	)

	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statusd_service_up",
			Help: "Result of the latest check per service (1=up, 0=down)",
		},
		[]string{"service_id", "service"},
	)

	RolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusd_rollovers_total",
			Help: "Per-service day aggregations performed",
		},
		[]string{"result"},
	)

	SnapshotRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusd_snapshot_refreshes_total",
			Help: "Snapshot cache refreshes",
		},
		[]string{"result"},
	)
)

// RecordCheck records the outcome of one check command.
func RecordCheck(id uint64, name string, ok bool, duration time.Duration) {
	CheckDuration.Observe(duration.Seconds())
	ChecksTotal.WithLabelValues(resultLabel(ok)).Inc()
	up := 0.0
	if ok {
		up = 1
	}
	ServiceUp.WithLabelValues(strconv.FormatUint(id, 10), name).Set(up)
}

// RecordRollover records one per-service day aggregation.
func RecordRollover(result string) {
	RolloversTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records one snapshot refresh attempt.
func RecordRefresh(ok bool) {
	SnapshotRefreshes.WithLabelValues(resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
