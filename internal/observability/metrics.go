package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OmniLedger.
type Metrics struct {
	// --- Transaction processing ---
	TxApplied         *prometheus.CounterVec
	TxRejected        *prometheus.CounterVec
	TxDuration        *prometheus.HistogramVec
	ExecutiveSequence prometheus.Gauge

	// --- Fees ---
	FeesCharged prometheus.Counter
	TipsCharged prometheus.Counter

	// --- Account lifecycle ---
	AccountsOpened prometheus.Counter
	AccountsClosed prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	IngestErrors   *prometheus.CounterVec

	// --- Channels ---
	ProjectionDrops prometheus.Counter

	// --- Persistence ---
	PersistTxWritten    prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistLastSequence prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken   prometheus.Counter
	SnapshotDur     prometheus.Histogram
	SnapshotLastSeq prometheus.Gauge
	ReplayTxTotal   prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	durationBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		TxApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_tx_applied_total",
			Help: "Transactions applied by the executive, by call type.",
		}, []string{"call_type"}),
		TxRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_tx_rejected_total",
			Help: "Transactions rejected before or during charging, by call type and reason.",
		}, []string{"call_type", "reason"}),
		TxDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omni_tx_duration_seconds",
			Help:    "End-to-end executive processing time per transaction.",
			Buckets: durationBuckets,
		}, []string{"call_type"}),
		ExecutiveSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "omni_executive_sequence",
			Help: "Next output sequence number of the executive.",
		}),

		FeesCharged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_fees_charged_total",
			Help: "Total fee-currency units retained as inclusion fees.",
		}),
		TipsCharged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_tips_charged_total",
			Help: "Total fee-currency units retained as tips.",
		}),

		AccountsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_accounts_opened_total",
			Help: "Accounts that completed the open-account flow.",
		}),
		AccountsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_accounts_closed_total",
			Help: "Accounts retired through close or recycling.",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_ingest_messages_total",
			Help: "Messages received from NATS, by subject.",
		}, []string{"subject"}),
		IngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_ingest_errors_total",
			Help: "Ingestion failures, by reason.",
		}, []string{"reason"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_projection_drops_total",
			Help: "Outputs dropped on the full projection channel.",
		}),

		PersistTxWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_persist_tx_written_total",
			Help: "Transactions durably written to the log.",
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "omni_persist_batch_size",
			Help:    "Outputs per persistence batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_persist_errors_total",
			Help: "Persistence failures, by operation.",
		}, []string{"op"}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "omni_persist_last_sequence",
			Help: "Highest sequence durably persisted.",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_snapshot_taken_total",
			Help: "State snapshots written.",
		}),
		SnapshotDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "omni_snapshot_duration_seconds",
			Help:    "Time to serialize and store one snapshot.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "omni_snapshot_last_sequence",
			Help: "Sequence covered by the latest snapshot.",
		}),
		ReplayTxTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "omni_replay_tx_total",
			Help: "Transactions replayed from the log during recovery.",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_query_requests_total",
			Help: "API requests, by method.",
		}, []string{"method"}),
		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "omni_query_errors_total",
			Help: "API request failures, by method.",
		}, []string{"method"}),
	}
}
