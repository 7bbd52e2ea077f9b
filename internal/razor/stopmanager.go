// FILE: stopmanager.go
// Dynamic stop manager (spec.md §4.8: break-even; SUPPLEMENTED FEATURES:
// trailing stop, grounded on the teacher's Position.TrailPeak/TrailStop
// fields in trader.go). Throttled to once every 2s per instance so a busy
// tick stream doesn't hammer the broker with replace calls.
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
	"github.com/razorcore/execution-core/internal/sizing"
)

// manageStopsLocked is called with e.mu held, from watchPositionLocked,
// while a live broker position exists.
func (e *Executor) manageStopsLocked(ctx context.Context, now time.Time, lastPrice float64, pos broker.Position) {
	if lastPrice > e.trailingHigh || e.trailingHigh == 0 {
		e.trailingHigh = lastPrice
	}
	if lastPrice < e.trailingLow || e.trailingLow == 0 {
		e.trailingLow = lastPrice
	}

	if now.Sub(e.lastStopAdjustAt) < stopAdjustThrottle {
		return
	}
	e.lastStopAdjustAt = now

	trades, err := e.journal.QueryTrades(ctx, journal.TradeFilter{UserID: e.key.UserID, StrategyName: e.key.StrategyName, Instrument: e.key.Instrument, Status: domain.TradeStatusOpen, Limit: 1})
	if err != nil || len(trades) == 0 {
		return
	}
	tr := trades[0]

	inst, err := e.broker.GetInstrument(ctx, e.key.Instrument)
	if err != nil {
		e.log.Warn().Err(err).Msg("stop manager: getInstrument failed; skipping this pass")
		return
	}

	if e.cfg.BreakEvenEnabled && !e.beMovedForTrade {
		if newStop, ok := breakEvenStop(tr, e.cfg, lastPrice, inst.TickSize); ok {
			e.replaceStopLocked(ctx, tr, newStop, "break-even")
			e.beMovedForTrade = true
			return
		}
	}

	if e.cfg.TrailingStopEnabled {
		if newStop, ok := trailingStop(tr, e.cfg, e.trailingHigh, e.trailingLow, inst.TickSize); ok {
			e.replaceStopLocked(ctx, tr, newStop, "trailing")
		}
	}
}

// breakEvenStop implements spec.md §4.8's trigger and target price math.
func breakEvenStop(tr domain.TradeRecord, cfg domain.StrategyConfig, lastPrice, tickSize float64) (float64, bool) {
	if tr.Side == domain.SideBuy {
		trigger := tr.EntryPrice + (tr.TakeProfit-tr.EntryPrice)*cfg.BreakEvenTriggerToTP
		bePrice := sizing.RoundToTick(tr.EntryPrice+cfg.BreakEvenOffsetTicks*tickSize, tickSize)
		if lastPrice >= trigger && tr.StopLoss < bePrice {
			return bePrice, true
		}
		return 0, false
	}
	trigger := tr.EntryPrice - (tr.EntryPrice-tr.TakeProfit)*cfg.BreakEvenTriggerToTP
	bePrice := sizing.RoundToTick(tr.EntryPrice-cfg.BreakEvenOffsetTicks*tickSize, tickSize)
	if lastPrice <= trigger && tr.StopLoss > bePrice {
		return bePrice, true
	}
	return 0, false
}

// trailingStop implements the SUPPLEMENTED FEATURES trailing-stop rule:
// once price has cleared trailingStopActivationPercent past entry, the
// stop only ever ratchets toward the high (long) / low (short) water
// mark, never back toward entry.
func trailingStop(tr domain.TradeRecord, cfg domain.StrategyConfig, high, low, tickSize float64) (float64, bool) {
	if tr.Side == domain.SideBuy {
		activation := tr.EntryPrice * (1 + cfg.TrailingStopActivationPercent/100)
		if high < activation {
			return 0, false
		}
		candidate := sizing.RoundToTick(high*(1-cfg.TrailingStopDistance/100), tickSize)
		if candidate > tr.StopLoss {
			return candidate, true
		}
		return 0, false
	}
	activation := tr.EntryPrice * (1 - cfg.TrailingStopActivationPercent/100)
	if low > activation {
		return 0, false
	}
	candidate := sizing.RoundToTick(low*(1+cfg.TrailingStopDistance/100), tickSize)
	if candidate < tr.StopLoss {
		return candidate, true
	}
	return 0, false
}

// replaceStopLocked executes the cancel-and-replace discipline (spec.md
// §4.5): place the new stop before cancelling the old one, then persist
// the change. A failed replacement leaves the old stop live and is merely
// logged, never escalated to an executor-level error.
func (e *Executor) replaceStopLocked(ctx context.Context, tr domain.TradeRecord, newStop float64, reason string) {
	side := broker.SideSell
	if tr.Side == domain.SideSell {
		side = broker.SideBuy
	}
	res, err := orderlifecycle.Replace(ctx, e.broker, e.key.Instrument, side, tr.Amount, newStop, broker.OrderTypeStopMarket, fmt.Sprintf("razor_%s_stop", reason), tr.SLOrderID)
	if err != nil {
		e.log.Warn().Err(err).Str("reason", reason).Msg("stop replacement failed; old stop remains live")
		return
	}
	if err := e.journal.UpdateOrderIDs(ctx, tr.ID, &res.NewOrderID, nil); err != nil {
		e.log.Error().Err(err).Msg("journal write failed after stop replacement; live stop is already correct")
	}
	if err := e.journal.UpdateStops(ctx, tr.ID, &newStop, nil); err != nil {
		e.log.Error().Err(err).Msg("journal write failed recording new stop price")
	}
	if res.OldCancelErr != nil {
		e.log.Warn().Err(res.OldCancelErr).Msg("old stop order could not be cancelled; it is now a stray resting order")
		metrics.OrderReplacementFailures.WithLabelValues(e.key.StrategyName, reason).Inc()
	}
	e.log.Info().Str("reason", reason).Float64("newStop", newStop).Str("tradeId", tr.ID).Msg("protective stop moved")
}
