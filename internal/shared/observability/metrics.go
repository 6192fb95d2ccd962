package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	BackfillRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_backfill_runs_total",
		Help: "Total number of backfill runs by mode and result.",
	}, []string{"mode", "result"})

	BackfillDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raafstore_backfill_seconds",
		Help:    "Time spent on a backfill run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	BackfillUpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_backfill_upserts_total",
		Help: "Entities processed by backfill, by kind and outcome (created, updated, unchanged, failed, archived).",
	}, []string{"kind", "outcome"})

	FileParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_file_parse_errors_total",
		Help: "Total number of malformed file-tree documents encountered.",
	}, []string{"kind"})

	VerifyMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_verify_mismatches_total",
		Help: "Keys found missing or drifted by verify runs.",
	}, []string{"kind", "reason"})

	DualWritePartialTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_dualwrite_partial_total",
		Help: "Dual writes that landed in files but failed in the store.",
	}, []string{"kind"})

	ModeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_mode_operations_total",
		Help: "Operations executed by the mode controller, by mode, action and source.",
	}, []string{"mode", "action", "source"})

	ModeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raafstore_mode_operation_seconds",
		Help:    "Latency of mode controller operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode", "action"})

	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raafstore_store_retries_total",
		Help: "Store operations retried after a lock or busy error.",
	}, []string{"op"})

	JournalDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raafstore_journal_depth",
		Help: "Current number of journal entries awaiting reconciliation.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raafstore_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
