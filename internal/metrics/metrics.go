package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Partition outcomes.
const (
	OutcomeUpdated = "updated"
	OutcomeCurrent = "current"
	OutcomeFailed  = "failed"
)

var (
	// PartitionsSynced counts processed partitions by outcome (updated|current|failed).
	PartitionsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvd_partitions_synced_total",
			Help: "Total number of feed partitions processed by sync runs",
		},
		[]string{"outcome"},
	)

	// RecordsWritten counts records upserted into the local cache.
	RecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nvd_records_written_total",
			Help: "Total number of records written to the local cache",
		},
	)

	// RecordsSkipped counts records dropped for being newer than the cutoff.
	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nvd_records_skipped_total",
			Help: "Total number of records skipped because they were newer than the partition cutoff",
		},
	)

	// SyncDuration measures whole sync runs by result (success|error).
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvd_sync_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	// LastSuccess is the unix time of the last sync run that completed without error.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nvd_last_successful_sync_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync run",
		},
	)
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
