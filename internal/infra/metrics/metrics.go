// Package metrics provides Prometheus metrics for the pickle engine:
// queue and in-flight gauges, assignment and completion counters, curve
// state, payout ledger throughput, and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pickle"

// ─── Queue ──────────────────────────────────────────────────────────────────

// WorkSubmitted tracks work items enqueued.
var WorkSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "work_submitted_total",
	Help:      "Total work items enqueued.",
})

// QueueDepth tracks pending work items.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "queue_depth",
	Help:      "Number of pending work items.",
})

// InFlight tracks assigned items whose completion timer has not fired.
var InFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "in_flight",
	Help:      "Number of assigned work items awaiting completion.",
})

// ─── Assignment ─────────────────────────────────────────────────────────────

// Assignments tracks assignments by validator, route and specialization match.
var Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "assignments_total",
	Help:      "Total work assignments.",
}, []string{"validator", "route", "match"})

// CompletionDelay tracks drawn completion delays in seconds.
var CompletionDelay = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "completion_delay_seconds",
	Help:      "Drawn completion delay per assignment.",
	Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1},
})

// Completions tracks successful validations.
var Completions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "completions_total",
	Help:      "Total successful validations.",
}, []string{"validator", "category"})

// CompletionsCancelled tracks in-flight completions cancelled by flood start or reset.
var CompletionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "completions_cancelled_total",
	Help:      "Total in-flight completions cancelled before firing.",
})

// ─── Economy ────────────────────────────────────────────────────────────────

// PrizePool tracks the accumulated prize pool.
var PrizePool = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "prize_pool",
	Help:      "Accumulated prize pool.",
})

// CurrentPrice tracks the bonding curve price at the current unit count.
var CurrentPrice = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "current_price",
	Help:      "Bonding curve price per validated unit.",
})

// ─── Mode ───────────────────────────────────────────────────────────────────

// Mode tracks the mode machine (0=normal, 1=flooding, 2=draining).
var Mode = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "mode",
	Help:      "Current mode (0=normal, 1=flooding, 2=draining).",
})

// FloodBatches tracks flood ticks executed.
var FloodBatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "flood_batches_total",
	Help:      "Total flood batches enqueued.",
})

// SnapshotsEmitted tracks snapshots delivered to observers.
var SnapshotsEmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "snapshots_emitted_total",
	Help:      "Total snapshots delivered to observers.",
})

// Observers tracks subscribed observers.
var Observers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "observers",
	Help:      "Number of subscribed snapshot observers.",
})

// ─── Ledger ─────────────────────────────────────────────────────────────────

// PayoutsWritten tracks payouts persisted to the ledger.
var PayoutsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "payouts_written_total",
	Help:      "Total payouts persisted to the ledger.",
})

// PayoutsDropped tracks payouts discarded because the ledger buffer was full.
var PayoutsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "payouts_dropped_total",
	Help:      "Total payouts dropped on a full ledger buffer.",
})

// LedgerWriteLatency tracks ledger batch write duration in seconds.
var LedgerWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "ledger_write_latency_seconds",
	Help:      "Ledger batch write duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
