package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TxnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranekv",
			Subsystem: "txn",
			Name:      "txns_total",
			Help:      "Counter of finished transactions.",
		}, []string{"result"})

	RedoRecordCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranekv",
			Subsystem: "redo",
			Name:      "records_appended_total",
			Help:      "Counter of redo log records appended.",
		}, []string{"kind"})

	RedoBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cranekv",
			Subsystem: "redo",
			Name:      "bytes_appended_total",
			Help:      "Total bytes of redo log appended.",
		})

	RecoveryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cranekv",
			Subsystem: "recovery",
			Name:      "txns_total",
			Help:      "Counter of transactions seen during recovery.",
		}, []string{"outcome"})

	TruncationOffsetGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cranekv",
			Subsystem: "redo",
			Name:      "truncation_offset",
			Help:      "Current log truncation offset.",
		})

	PendingWritesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cranekv",
			Subsystem: "storage",
			Name:      "pending_writes",
			Help:      "Writes queued to the storage layer and not yet confirmed durable.",
		})

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cranekv",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit latency (s).",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		})
)

// Transaction results.
const (
	ResultCommit = "commit"
	ResultAbort  = "abort"
	ResultEmpty  = "empty"
	ResultFailed = "failed"
)

// Recovery outcomes.
const (
	OutcomeReplayed  = "replayed"
	OutcomeDiscarded = "discarded"
)

func init() {
	prometheus.MustRegister(TxnCounter)
	prometheus.MustRegister(RedoRecordCounter)
	prometheus.MustRegister(RedoBytesCounter)
	prometheus.MustRegister(RecoveryCounter)
	prometheus.MustRegister(TruncationOffsetGauge)
	prometheus.MustRegister(PendingWritesGauge)
	prometheus.MustRegister(CommitDuration)
}
