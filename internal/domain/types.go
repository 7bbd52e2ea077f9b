// Package domain holds the value types shared across the execution core so
// that no package needs to import the executor just to describe a candle or
// a trade.
package domain

import "time"

// Broker identifies the venue a strategy instance trades on.
type Broker string

// Environment selects live trading versus a broker's paper/testnet venue.
type Environment string

const (
	EnvironmentLive    Environment = "live"
	EnvironmentTestnet Environment = "testnet"
)

// InstanceKey is the unique routing key for one running strategy instance:
// one user, one strategy, one instrument, one broker, one environment.
type InstanceKey struct {
	UserID       string
	StrategyName string
	Instrument   string
	Broker       Broker
	Environment  Environment
}

// Candle is a single OHLCV bar. Timestamp is the bar's open time in
// milliseconds since epoch.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid reports whether the candle satisfies the OHLC invariant:
// low <= min(open,close) <= max(open,close) <= high, all prices finite and
// positive.
func (c Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	return c.Low <= lo && hi <= c.High
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Direction is a signal's proposed trade direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// PullbackState is a tri-state readiness flag: PullbackReady needs at least
// four closes of history, so "insufficient data" is distinct from "false".
type PullbackState int

const (
	PullbackUnknown PullbackState = iota
	PullbackFalse
	PullbackTrue
)

// IndicatorSnapshot is the latest computed value of each indicator the
// confluence scorer consumes. Fields are pointers so "insufficient
// history" (null) is distinguishable from a real zero value.
type IndicatorSnapshot struct {
	EMAFast1m     *float64
	EMASlow1m     *float64
	EMAFast5m     *float64
	EMASlow5m     *float64
	EMAFast15m    *float64
	EMASlow15m    *float64
	RSI14         *float64
	VolatilityPct *float64
	ATR14         *float64
	Momentum5Bar  *float64
	TrendScore    int
	PullbackReady PullbackState
}

// Signal is the output of the confluence scorer.
type Signal struct {
	Direction  Direction
	Strength   float64
	Confidence float64
	Reasons    []string
}

// StrategyConfig holds the Razor strategy's recognised configuration
// fields (spec.md §3).
type StrategyConfig struct {
	TradeSize         float64
	StopLossPercent   float64
	TakeProfitPercent float64

	MaxConcurrentTrades int
	MaxDailyTrades      int
	CooldownMinutes     int

	BreakEvenEnabled      bool
	BreakEvenTriggerToTP  float64
	BreakEvenOffsetTicks  float64

	TrailingStopEnabled            bool
	TrailingStopActivationPercent  float64
	TrailingStopDistance           float64

	UseTrendFilter bool
	EMA5mFast      int
	EMA5mSlow      int
	EMA15mFast     int
	EMA15mSlow     int

	MinVolatility       float64
	MaxVolatility       float64
	RSIOversold         float64
	RSIOverbought       float64
	RSIExtremeThreshold float64

	AdaptiveRiskEnabled bool
	ATRPeriod           int
	PullbackPercent     float64

	MinConfluenceScore float64
}

// DefaultStrategyConfig returns Razor's documented defaults (spec.md §3/§4).
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		TradeSize:                     100,
		StopLossPercent:               0.5,
		TakeProfitPercent:             0.65,
		MaxConcurrentTrades:           1,
		MaxDailyTrades:                20,
		CooldownMinutes:               5,
		BreakEvenEnabled:              true,
		BreakEvenTriggerToTP:          0.5,
		BreakEvenOffsetTicks:          1,
		TrailingStopEnabled:           false,
		TrailingStopActivationPercent: 0.5,
		TrailingStopDistance:          0.3,
		UseTrendFilter:                true,
		EMA5mFast:                     9,
		EMA5mSlow:                     21,
		EMA15mFast:                    9,
		EMA15mSlow:                    21,
		MinVolatility:                 0.03,
		MaxVolatility:                 1.2,
		RSIOversold:                   35,
		RSIOverbought:                 65,
		RSIExtremeThreshold:           20,
		AdaptiveRiskEnabled:           true,
		ATRPeriod:                     14,
		PullbackPercent:               0.3,
		MinConfluenceScore:            58,
	}
}

// ExitReason classifies how a closed trade's position was exited.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "sl_hit"
	ExitReasonTakeProfit ExitReason = "tp_hit"
	ExitReasonManual     ExitReason = "manual"
)

// TradeStatus is the lifecycle state of a journal trade row.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// AutoResumeOrderID marks a trade row adopted from an orphan broker
// position rather than placed by this executor.
const AutoResumeOrderID = "auto_resume"

// TradeRecord is the authoritative journal entity (spec.md §3).
type TradeRecord struct {
	ID           string
	UserID       string
	StrategyName string
	Instrument   string
	Broker       Broker
	Environment  Environment

	Side          Side
	EntryOrderID  string
	SLOrderID     string
	TPOrderID     string
	EntryPrice    float64
	Amount        float64
	StopLoss      float64
	TakeProfit    float64

	Status TradeStatus

	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitPrice  *float64
	ExitReason *ExitReason
	PnL        *float64
	PnLPercent *float64
}

// ExecutorState is the Razor finite-state machine's state.
type ExecutorState string

const (
	StateInitializing   ExecutorState = "initializing"
	StateAnalyzing      ExecutorState = "analyzing"
	StateSignalDetected ExecutorState = "signal_detected"
	StatePositionOpen   ExecutorState = "position_open"
	StateStopped        ExecutorState = "stopped"
	StateError          ExecutorState = "error"
)

// StatusAction records what caused the most recent status row mutation.
type StatusAction string

const (
	ActionManualStart        StatusAction = "manual_start"
	ActionManualStop         StatusAction = "manual_stop"
	ActionAutoResume         StatusAction = "auto_resume"
	ActionAutoResumeSkipped  StatusAction = "auto_resume_skipped"
	ActionAutoResumeFailed   StatusAction = "auto_resume_failed"
)

// StatusState is the supervisor-visible lifecycle state of an instance,
// distinct from the in-process ExecutorState (a stopped/paused instance
// has no in-memory executor at all).
type StatusState string

const (
	StatusActive  StatusState = "active"
	StatusPaused  StatusState = "paused"
	StatusStopped StatusState = "stopped"
	StatusError   StatusState = "error"
)

// StatusRow is the supervisor's persisted per-instance bookkeeping row
// (spec.md §3).
type StatusRow struct {
	Key InstanceKey

	Status       StatusState
	LastAction   StatusAction
	ConfigJSON   string
	AutoReconnect bool

	ConnectedAt     *time.Time
	LastHeartbeat   *time.Time
	ErrorCount      int
	ErrorMessage    string

	DailyTrades   int
	DailyResetAt  time.Time
}

// AnalysisSnapshot is a non-blocking read-only view of an executor for the
// control plane / UI (spec.md §4.4 getAnalysisState).
type AnalysisSnapshot struct {
	Key          InstanceKey
	State        ExecutorState
	Indicators   IndicatorSnapshot
	LastSignal   Signal
	CurrentTradeID string
	DailyTrades  int
	CooldownUntil time.Time
	UpdatedAt    time.Time
}

// PositionMetrics is the cached, on-demand snapshot returned by
// getPositionMetrics (spec.md §4.4).
type PositionMetrics struct {
	HasPosition     bool
	Side            Side
	EntryPrice      float64
	MarkPrice       float64
	Amount          float64
	UnrealizedPnL   float64
	UnrealizedPnLPct float64
	StopLoss        float64
	TakeProfit      float64
	RiskReward      float64
	Duration        time.Duration
	ExpiresAt       time.Time
}

// StrategyExecutor is the contract every strategy implementation (Razor or
// otherwise) satisfies. The supervisor dispatches on StrategyName() and
// never reaches into an executor's internals beyond this interface
// (spec.md §9 — polymorphism over strategies, no base class).
type StrategyExecutor interface {
	Initialize() error
	OnTicker(price float64)
	GetAnalysisState() AnalysisSnapshot
	GetPositionMetrics(forceRefresh bool) (PositionMetrics, error)
	ForceResume() error
	Cleanup()
}
