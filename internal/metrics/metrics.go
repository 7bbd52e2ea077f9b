// FILE: metrics.go
// Package metrics exposes Prometheus instrumentation for the execution
// core. Naming and registration style is carried over from the teacher's
// metrics.go (bot_* counters/gauges registered in init()), renamed to the
// razor_* namespace and re-scoped to per-instance labels (user, strategy,
// instrument) instead of a single global process.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TradesTotal counts entries placed, split by strategy and direction.
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "razor_trades_total",
			Help: "Entries placed, by strategy and direction.",
		},
		[]string{"strategy", "direction"},
	)

	// ExitReasonsTotal counts closed trades by exit reason.
	ExitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "razor_exit_reasons_total",
			Help: "Closed trades, by exit reason (tp_hit|sl_hit|manual).",
		},
		[]string{"strategy", "reason"},
	)

	// ConfluenceScore reports the most recent signal strength computed for
	// an instance, whether or not it crossed the entry threshold.
	ConfluenceScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "razor_confluence_score",
			Help: "Most recent confluence score computed for a strategy instance.",
		},
		[]string{"strategy", "instrument"},
	)

	// ExecutorState reports the running FSM state as a one-hot gauge per
	// state label, mirroring the teacher's botModelMode pattern of
	// expressing an enum as separate labeled series flipped 0/1.
	ExecutorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "razor_executor_state",
			Help: "Executor FSM state, one-hot across the state label (1 = current state).",
		},
		[]string{"strategy", "instrument", "state"},
	)

	// PnLTotal accumulates realised profit in USD across closed trades with
	// positive P&L; losing trades are not counted.
	PnLTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "razor_pnl_usd_total",
			Help: "Realised profit in USD of winning trades, by strategy (losses are not counted).",
		},
		[]string{"strategy"},
	)

	// ReconciliationOutcomes counts what startup reconciliation found.
	ReconciliationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "razor_reconciliation_outcomes_total",
			Help: "Startup reconciliation outcomes (clean|ghost|orphan|consistent).",
		},
		[]string{"outcome"},
	)

	// OrderReplacementFailures counts cancel-and-replace calls whose old
	// leg could not be cancelled (stray resting order left behind).
	OrderReplacementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "razor_order_replacement_failures_total",
			Help: "Cancel-and-replace calls whose old order could not be cancelled.",
		},
		[]string{"strategy", "reason"},
	)

	// HeartbeatWriteFailures counts supervisor heartbeat persistence misses.
	HeartbeatWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "razor_heartbeat_write_failures_total",
			Help: "Heartbeat journal writes that returned an error.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TradesTotal,
		ExitReasonsTotal,
		ConfluenceScore,
		ExecutorState,
		PnLTotal,
		ReconciliationOutcomes,
		OrderReplacementFailures,
		HeartbeatWriteFailures,
	)
}

// executorStates lists every domain.ExecutorState value as a string, kept
// here (rather than importing domain) so this package stays a leaf
// dependency any component can import without creating a cycle.
var executorStates = []string{"initializing", "analyzing", "signal_detected", "position_open", "stopped", "error"}

// SetExecutorState flips the one-hot executor-state gauge set for an
// instance: the current state's series is set to 1, every other state's
// series for that instance is set to 0.
func SetExecutorState(strategy, instrument, state string) {
	for _, s := range executorStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		ExecutorState.WithLabelValues(strategy, instrument, s).Set(v)
	}
}
