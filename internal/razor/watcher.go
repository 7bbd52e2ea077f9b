// FILE: watcher.go
// Position watcher (spec.md §4.8): called on every tick while
// position_open. Detects position close, derives exit details, and drives
// the dynamic stop manager (break-even / trailing) while the position
// remains open.
package razor

import (
	"context"
	"fmt"
	"time"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
	"github.com/razorcore/execution-core/internal/metrics"
	"github.com/razorcore/execution-core/internal/orderlifecycle"
)

// watchPositionLocked is called with e.mu held, only while e.state ==
// position_open.
func (e *Executor) watchPositionLocked(now time.Time, lastPrice float64) {
	ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultCallTimeout)
	defer cancel()

	positions, err := e.broker.GetPositions(ctx, currencyOf(e.key.Instrument))
	if err != nil {
		e.log.Warn().Err(err).Msg("watcher: getPositions failed; will retry next tick")
		return
	}
	pos, hasPosition := findOpenPosition(positions, e.key.Instrument)
	if hasPosition {
		e.manageStopsLocked(ctx, now, lastPrice, pos)
		return
	}

	e.closePositionLocked(ctx, now, lastPrice)
}

func findOpenPosition(positions []broker.Position, instrument string) (broker.Position, bool) {
	for _, p := range positions {
		if p.InstrumentName == instrument && p.Size != 0 {
			return p, true
		}
	}
	return broker.Position{}, false
}

// closePositionLocked handles the "broker shows no position" branch of the
// watcher (spec.md §4.8 step 2): derive exit details, close the journal
// row, transition to analyzing, arm cooldown, and clear the metrics cache.
func (e *Executor) closePositionLocked(ctx context.Context, now time.Time, lastPrice float64) {
	if e.currentTradeID == "" {
		e.setStateLocked(domain.StateAnalyzing)
		return
	}

	trades, err := e.journal.QueryTrades(ctx, journal.TradeFilter{UserID: e.key.UserID, StrategyName: e.key.StrategyName, Instrument: e.key.Instrument, Status: domain.TradeStatusOpen, Limit: 1})
	if err != nil || len(trades) == 0 {
		e.log.Error().Err(err).Msg("watcher: could not load open trade row to close; staying in position_open for another tick")
		return
	}
	tr := trades[0]

	exitPrice, exitReason := deriveExit(tr, lastPrice)
	pnl, pnlPct := journal.DerivePnL(tr.Side, tr.EntryPrice, exitPrice, tr.Amount)

	if err := e.journal.CloseTrade(ctx, journal.CloseTradeInput{TradeID: tr.ID, ExitPrice: exitPrice, ExitReason: exitReason, PnL: pnl, PnLPercentage: pnlPct}); err != nil {
		e.log.Error().Err(err).Msg("watcher: closeTrade journal write failed; live position is already flat regardless")
	}
	metrics.ExitReasonsTotal.WithLabelValues(e.key.StrategyName, string(exitReason)).Inc()
	if pnl > 0 {
		metrics.PnLTotal.WithLabelValues(e.key.StrategyName).Add(pnl)
	}

	e.currentTradeID = ""
	e.setStateLocked(domain.StateAnalyzing)
	e.cooldownUntil = now.Add(time.Duration(e.cfg.CooldownMinutes) * time.Minute)
	e.metricsCacheUntil = time.Time{}
	e.log.Info().Str("tradeId", tr.ID).Str("exitReason", string(exitReason)).Float64("pnl", pnl).Msg("position closed")

	if exitReason == domain.ExitReasonManual {
		e.sweepOrphanOrders(ctx)
	}
}

// sweepOrphanOrders cancels any reduce-only protective order left resting
// on the instrument after an ambiguous-exit close (spec.md §4.5): the
// position is already flat, so nothing is kept.
func (e *Executor) sweepOrphanOrders(ctx context.Context) {
	cancelled, err := orderlifecycle.SweepOrphans(ctx, e.broker, e.key.Instrument, nil)
	if err != nil {
		e.log.Warn().Err(err).Msg("watcher: orphan order sweep failed")
		return
	}
	if len(cancelled) > 0 {
		e.log.Info().Strs("orderIds", cancelled).Msg("watcher: cancelled orphaned protective orders")
	}
}

// deriveExit implements spec.md §9's open-question heuristic: prefer the
// take-profit/stop-loss price as the exit price when the last observed
// price bracket makes the fill unambiguous; otherwise fall back to the
// last observed price with exitReason=manual.
func deriveExit(tr domain.TradeRecord, lastPrice float64) (float64, domain.ExitReason) {
	const priceTolerancePct = 0.002
	if near(lastPrice, tr.TakeProfit, priceTolerancePct) {
		return tr.TakeProfit, domain.ExitReasonTakeProfit
	}
	if near(lastPrice, tr.StopLoss, priceTolerancePct) {
		return tr.StopLoss, domain.ExitReasonStopLoss
	}
	if lastPrice > 0 {
		return lastPrice, domain.ExitReasonManual
	}
	return tr.EntryPrice, domain.ExitReasonManual
}

func near(a, b, tolerancePct float64) bool {
	if b == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/b <= tolerancePct
}

// fetchPositionMetricsLocked implements getPositionMetrics's cache-miss
// path (spec.md §4.4): fetch the broker ticker and the open trade row, and
// compute unrealised P&L, R:R, duration.
func (e *Executor) fetchPositionMetricsLocked(ctx context.Context) (domain.PositionMetrics, error) {
	if e.currentTradeID == "" {
		return domain.PositionMetrics{HasPosition: false}, nil
	}

	ticker, err := e.broker.GetTicker(ctx, e.key.Instrument)
	if err != nil {
		return domain.PositionMetrics{}, fmt.Errorf("razor: getPositionMetrics: getTicker: %w", err)
	}

	trades, err := e.journal.QueryTrades(ctx, journal.TradeFilter{UserID: e.key.UserID, StrategyName: e.key.StrategyName, Instrument: e.key.Instrument, Status: domain.TradeStatusOpen, Limit: 1})
	if err != nil || len(trades) == 0 {
		return domain.PositionMetrics{}, fmt.Errorf("razor: getPositionMetrics: no open trade row found for currentTradeId %s", e.currentTradeID)
	}
	tr := trades[0]

	unrealPnL, unrealPct := journal.DerivePnL(tr.Side, tr.EntryPrice, ticker.MarkPrice, tr.Amount)
	riskReward := riskRewardRatio(tr)

	return domain.PositionMetrics{
		HasPosition:      true,
		Side:             tr.Side,
		EntryPrice:       tr.EntryPrice,
		MarkPrice:        ticker.MarkPrice,
		Amount:           tr.Amount,
		UnrealizedPnL:    unrealPnL,
		UnrealizedPnLPct: unrealPct,
		StopLoss:         tr.StopLoss,
		TakeProfit:       tr.TakeProfit,
		RiskReward:       riskReward,
		Duration:         e.clock.Now().Sub(tr.OpenedAt),
	}, nil
}

func riskRewardRatio(tr domain.TradeRecord) float64 {
	var risk, reward float64
	if tr.Side == domain.SideBuy {
		risk = tr.EntryPrice - tr.StopLoss
		reward = tr.TakeProfit - tr.EntryPrice
	} else {
		risk = tr.StopLoss - tr.EntryPrice
		reward = tr.EntryPrice - tr.TakeProfit
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
