// FILE: razor.go
// Package razor implements the Razor mean-reversion scalper: the
// per-(user,strategy,instrument,broker,environment) state machine that
// ingests ticks, scores confluence, places bracket orders, manages a live
// position, and journals every trade (spec.md §4.4).
//
// The executor is single-threaded from the caller's point of view — every
// method that touches its state takes e.mu, the same discipline the teacher's
// Trader.step() uses around t.mu, and the supervisor additionally gives
// each executor its own tick-consumer goroutine (internal/supervisor).
package razor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/candle"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
	"github.com/razorcore/execution-core/internal/metrics"
	"github.com/razorcore/execution-core/internal/reconcile"
)

// requiredDataPoints is the bar count at which indicators are considered
// full-accuracy (spec.md §4.4 step 5); fewer than 5 keeps the executor in
// initializing.
const (
	requiredDataPoints = 15
	minWarmupBars      = 5
	historyBarsWanted  = 200
	stopAdjustThrottle = 2 * time.Second
	cooldownLogThrottle = 30 * time.Second
)

// Clock is the time source the executor reads, so tests can fake "now"
// instead of sleeping real wall-clock seconds.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Executor drives one Razor strategy instance. It satisfies
// domain.StrategyExecutor.
type Executor struct {
	key    domain.InstanceKey
	cfg    domain.StrategyConfig
	broker broker.Broker
	journal *journal.Journal
	clock  Clock
	log    zerolog.Logger

	mu sync.Mutex

	agg *candle.Aggregator

	state          domain.ExecutorState
	currentTradeID string

	dailyTrades    int
	dailyResetAt   time.Time
	cooldownUntil  time.Time
	lastCooldownLogAt time.Time

	beMovedForTrade  bool
	trailingHigh     float64
	trailingLow      float64
	lastStopAdjustAt time.Time

	indicators      domain.IndicatorSnapshot
	rangeCompressed bool
	lastSignal      domain.Signal
	updatedAt       time.Time

	metricsCache      domain.PositionMetrics
	metricsCacheUntil time.Time

	initialized bool
}

// New constructs an Executor. The supervisor calls Initialize before
// dispatching any ticks.
func New(key domain.InstanceKey, cfg domain.StrategyConfig, b broker.Broker, j *journal.Journal, log zerolog.Logger) *Executor {
	return &Executor{
		key:          key,
		cfg:          cfg,
		broker:       b,
		journal:      j,
		clock:        realClock{},
		log:          log.With().Str("instrument", key.Instrument).Str("user", key.UserID).Logger(),
		agg:          candle.New(),
		state:        domain.StateInitializing,
		dailyResetAt: time.Now(),
	}
}

var _ domain.StrategyExecutor = (*Executor)(nil)

// Initialize loads historical candles, reconciles against broker ground
// truth, and transitions to the appropriate starting state (spec.md §4.4).
// Idempotent: a second call is a no-op.
func (e *Executor) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultCallTimeout)
	defer cancel()

	e.seedHistory(ctx)

	res, err := reconcile.Run(ctx, e.broker, e.journal, e.key)
	if err != nil {
		e.log.Warn().Err(err).Msg("reconciliation reported an error; continuing with its chosen state")
	}
	e.log.Info().Str("outcome", string(res.Outcome)).Str("startState", string(res.StartState)).Msg("startup reconciliation complete")

	e.setStateLocked(res.StartState)
	e.currentTradeID = res.CurrentTradeID
	e.initialized = true
	e.updatedAt = e.clock.Now()
	return nil
}

// seedHistory asks the broker for ~200 historical 1-minute candles to
// warm up the aggregator and indicator pipeline; on failure it logs the
// downgrade and proceeds with an empty buffer rather than blocking start
// (spec.md §4.4 step 1, §9 "mock/synthetic candle data... permitted only
// when the broker is transiently unavailable").
func (e *Executor) seedHistory(ctx context.Context) {
	candles, err := e.broker.GetCandles(ctx, e.key.Instrument, "1", historyBarsWanted)
	if err != nil || len(candles.Close) == 0 {
		e.log.Warn().Err(err).Msg("historical candles unavailable at startup; starting from an empty buffer (degraded warm-up)")
		return
	}
	bars := make([]domain.Candle, 0, len(candles.Close))
	for i := range candles.Close {
		bars = append(bars, domain.Candle{
			Open: candles.Open[i], High: candles.High[i], Low: candles.Low[i], Close: candles.Close[i],
			Volume: valueOrZero(candles.Volume, i),
		})
	}
	e.agg.SeedHistory(bars)
}

func valueOrZero(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// OnTicker is the hot path (spec.md §4.4). It never panics or returns an
// error to the caller: broker/journal failures are logged and the
// executor remains subscribed for the next tick.
func (e *Executor) OnTicker(price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("recovered panic in onTicker; one bad tick must not kill the process")
			e.setStateLocked(domain.StateError)
		}
	}()

	now := e.clock.Now()
	e.updatedAt = now

	if e.state == domain.StatePositionOpen {
		e.watchPositionLocked(now, price)
		return
	}

	barClosed := e.agg.Ingest(price, now.UnixMilli())

	e.maybeResetDailyCounterLocked(now)

	if now.Before(e.cooldownUntil) {
		if now.Sub(e.lastCooldownLogAt) >= cooldownLogThrottle {
			e.log.Debug().Time("cooldownUntil", e.cooldownUntil).Msg("cooldown active; skipping analysis")
			e.lastCooldownLogAt = now
		}
		return
	}

	n1m := len(e.agg.Closes1m())
	switch {
	case n1m < minWarmupBars:
		e.setStateLocked(domain.StateInitializing)
		return
	case n1m < requiredDataPoints:
		e.setStateLocked(domain.StateAnalyzing)
		// degraded-accuracy indicators still get computed below.
	default:
		e.setStateLocked(domain.StateAnalyzing)
	}

	e.recomputeIndicatorsLocked()
	e.lastSignal = Score(e.indicators, e.cfg, e.dailyTrades, e.rangeCompressed)
	metrics.ConfluenceScore.WithLabelValues(e.key.StrategyName, e.key.Instrument).Set(e.lastSignal.Strength)

	if !barClosed {
		return
	}
	if e.lastSignal.Direction == domain.DirectionNone || e.lastSignal.Strength < 55 {
		return
	}

	if err := e.executeTradeLocked(now, price); err != nil {
		e.log.Error().Err(err).Msg("trade execution failed; returning to analyzing with a cooldown")
		e.setStateLocked(domain.StateAnalyzing)
		e.cooldownUntil = now.Add(1 * time.Minute)
	}
}

func (e *Executor) maybeResetDailyCounterLocked(now time.Time) {
	if now.Sub(e.dailyResetAt) >= 24*time.Hour {
		e.dailyTrades = 0
		e.dailyResetAt = now
	}
}

func (e *Executor) recomputeIndicatorsLocked() {
	e.indicators, e.rangeCompressed = computeIndicators(e.agg, e.cfg)
}

// setStateLocked transitions e.state and mirrors it into the one-hot
// executor-state gauge. Must be called with e.mu held.
func (e *Executor) setStateLocked(state domain.ExecutorState) {
	e.state = state
	metrics.SetExecutorState(e.key.StrategyName, e.key.Instrument, string(state))
}

// GetAnalysisState returns a non-blocking snapshot for the UI/control
// plane (spec.md §4.4).
func (e *Executor) GetAnalysisState() domain.AnalysisSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.AnalysisSnapshot{
		Key:            e.key,
		State:          e.state,
		Indicators:     e.indicators,
		LastSignal:     e.lastSignal,
		CurrentTradeID: e.currentTradeID,
		DailyTrades:    e.dailyTrades,
		CooldownUntil:  e.cooldownUntil,
		UpdatedAt:      e.updatedAt,
	}
}

// GetPositionMetrics returns the cached (5s TTL) position metrics,
// fetching from the broker on a cache miss or forced refresh (spec.md
// §4.4).
func (e *Executor) GetPositionMetrics(forceRefresh bool) (domain.PositionMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !forceRefresh && now.Before(e.metricsCacheUntil) {
		return e.metricsCache, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultCallTimeout)
	defer cancel()

	pm, err := e.fetchPositionMetricsLocked(ctx)
	if err != nil {
		return domain.PositionMetrics{}, err
	}
	e.metricsCache = pm
	e.metricsCacheUntil = now.Add(5 * time.Second)
	return pm, nil
}

// ForceResume administratively clears the current trade reference and
// returns the executor to analyzing (spec.md §4.4).
func (e *Executor) ForceResume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTradeID = ""
	e.metricsCacheUntil = time.Time{}
	e.setStateLocked(domain.StateAnalyzing)
	e.cooldownUntil = e.clock.Now().Add(time.Duration(e.cfg.CooldownMinutes) * time.Minute)
	return nil
}

// Cleanup is safe to call in any state; the executor has no internal
// timers of its own (the supervisor owns the heartbeat task), so this is
// a state-transition only.
func (e *Executor) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(domain.StateStopped)
}

// State returns the executor's current FSM state — exported for the
// supervisor's status rollup without forcing a full snapshot allocation.
func (e *Executor) State() domain.ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Key returns the instance key this executor was constructed with.
func (e *Executor) Key() domain.InstanceKey { return e.key }

// Config returns the strategy config this executor was constructed with —
// immutable for the executor's lifetime, so no lock is needed.
func (e *Executor) Config() domain.StrategyConfig { return e.cfg }

// RestoreDailyCounter seeds the daily trade counter and its reset time from
// a persisted status row (spec.md SUPPLEMENTED FEATURES: daily trade
// counter persistence across restarts). Must be called before the
// supervisor starts dispatching ticks.
func (e *Executor) RestoreDailyCounter(count int, resetAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyTrades = count
	if !resetAt.IsZero() {
		e.dailyResetAt = resetAt
	}
}

// DailyCounter returns the current daily trade count and its reset time,
// for the supervisor's heartbeat task to persist alongside last_heartbeat.
func (e *Executor) DailyCounter() (count int, resetAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dailyTrades, e.dailyResetAt
}

