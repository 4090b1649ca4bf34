// Package metrics exposes StrataDB's Prometheus collectors. Metrics are
// observational only: no engine invariant depends on them, and every
// collector is safe to update whether or not it has been registered.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_commits_total",
			Help: "Total number of successfully committed transactions",
		},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_conflicts_total",
			Help: "Total number of transactions rejected by OCC validation",
		},
	)

	AbortsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_aborts_total",
			Help: "Total number of explicitly aborted transactions",
		},
	)

	ActiveTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratadb_active_transactions",
			Help: "Number of currently open transactions",
		},
	)

	// WAL metrics
	WALBytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_wal_bytes_written_total",
			Help: "Total bytes appended to the write-ahead log",
		},
	)

	WALFsyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_wal_fsyncs_total",
			Help: "Total number of WAL fsync calls",
		},
	)

	// Snapshot metrics
	SnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_snapshots_total",
			Help: "Total number of snapshots written",
		},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_snapshot_duration_seconds",
			Help:    "Time taken to write a snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retention metrics
	RetentionTrimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_retention_trims_total",
			Help: "Total number of historical versions trimmed by retention",
		},
	)

	TTLExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratadb_ttl_expirations_total",
			Help: "Total number of values deleted by the TTL worker",
		},
	)

	// Vector metrics
	VectorSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratadb_vector_search_duration_seconds",
			Help:    "Vector search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all StrataDB collectors against registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		CommitsTotal,
		ConflictsTotal,
		AbortsTotal,
		ActiveTransactions,
		WALBytesWritten,
		WALFsyncsTotal,
		SnapshotsTotal,
		SnapshotDuration,
		RetentionTrimsTotal,
		TTLExpirationsTotal,
		VectorSearchDuration,
	)
}

// Handler returns an HTTP handler exposing registry's metrics, for callers
// that want to serve them; the core never starts a server itself.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
