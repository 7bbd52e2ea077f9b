// FILE: entry.go
// Entry execution pipeline (spec.md §4.7): pre-flight check, sizing,
// adaptive risk, bracket price calculation, and the market+SL+TP order
// sequence with journal write.
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

const entryConfirmWait = 500 * time.Millisecond

// executeTradeLocked implements spec.md §4.7. Called with e.mu held, from
// onTicker, only on a just-closed bar with a qualifying signal.
func (e *Executor) executeTradeLocked(now time.Time, lastPrice float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultCallTimeout)
	defer cancel()

	// 1. Pre-flight: belt-and-braces single-position guard (spec.md §4.7.1).
	positions, err := e.broker.GetPositions(ctx, currencyOf(e.key.Instrument))
	if err != nil {
		return fmt.Errorf("razor: preflight getPositions: %w", err)
	}
	for _, p := range positions {
		if p.InstrumentName == e.key.Instrument && p.Size != 0 {
			return fmt.Errorf("razor: preflight found an existing non-zero position, aborting entry")
		}
	}

	inst, err := e.broker.GetInstrument(ctx, e.key.Instrument)
	if err != nil {
		return fmt.Errorf("razor: getInstrument: %w", err)
	}
	ticker, err := e.broker.GetTicker(ctx, e.key.Instrument)
	if err != nil {
		return fmt.Errorf("razor: getTicker: %w", err)
	}
	price := ticker.LastPrice
	if price <= 0 {
		price = lastPrice
	}
	if price <= 0 {
		return fmt.Errorf("razor: no usable price to enter at")
	}

	account, err := e.broker.GetAccountSummary(ctx, currencyOf(e.key.Instrument))
	if err != nil {
		return fmt.Errorf("razor: getAccountSummary: %w", err)
	}

	// 2. Size.
	sizeRes, err := sizing.Size(sizing.Request{
		NotionalUSD:     e.cfg.TradeSize,
		Price:           price,
		StepSize:        inst.MinTradeAmount,
		TickSize:        inst.TickSize,
		LeverageCap:     inst.MaxLeverage,
		Equity:          account.Equity,
		AvailableMargin: account.AvailableFunds,
	})
	if err != nil {
		return fmt.Errorf("razor: sizing: %w", err)
	}
	amount := sizeRes.Amount

	// 3. Adaptive risk.
	slPct, tpPct := e.cfg.StopLossPercent/100, e.cfg.TakeProfitPercent/100
	if e.cfg.AdaptiveRiskEnabled {
		slPct, tpPct = adaptRisk(slPct, tpPct, e.indicators)
	}

	// 4. Bracket prices.
	direction := e.lastSignal.Direction
	var side domain.Side
	var sl, tp float64
	switch direction {
	case domain.DirectionLong:
		side = domain.SideBuy
		sl = price * (1 - slPct)
		tp = price * (1 + tpPct)
	case domain.DirectionShort:
		side = domain.SideSell
		sl = price * (1 + slPct)
		tp = price * (1 - tpPct)
	default:
		return fmt.Errorf("razor: executeTrade called with no direction")
	}
	sl = sizing.RoundToTick(sl, inst.TickSize)
	tp = sizing.RoundToTick(tp, inst.TickSize)

	// 5. Place entry.
	label := fmt.Sprintf("razor_%s_%d", direction, now.UnixMilli())
	var entryOrder broker.PlacedOrder
	if side == domain.SideBuy {
		entryOrder, err = e.broker.PlaceBuyOrder(ctx, e.key.Instrument, amount, 0, broker.OrderTypeMarket, label, false)
	} else {
		entryOrder, err = e.broker.PlaceSellOrder(ctx, e.key.Instrument, amount, 0, broker.OrderTypeMarket, label, false)
	}
	if err != nil {
		return fmt.Errorf("razor: place entry order: %w", err)
	}
	time.Sleep(entryConfirmWait)

	// 6/7. Place protective legs; any failure here must cancel whatever
	// already landed rather than leave the position naked (spec.md §4.7
	// "Any failure after step 5...").
	exitSide := oppositeSide(side)
	slOrder, err := placeProtective(ctx, e.broker, exitSide, e.key.Instrument, amount, sl, broker.OrderTypeStopMarket, label+"_sl")
	if err != nil {
		return fmt.Errorf("razor: place SL order: %w", err)
	}
	tpOrder, err := placeProtective(ctx, e.broker, exitSide, e.key.Instrument, amount, tp, broker.OrderTypeLimit, label+"_tp")
	if err != nil {
		_ = orderlifecycle.CancelIfPresent(ctx, e.broker, slOrder.OrderID)
		return fmt.Errorf("razor: place TP order: %w", err)
	}

	// 8. Journal.
	tradeID, err := e.journal.RecordTrade(ctx, journal.RecordTradeInput{
		Key: e.key, Side: side, EntryOrderID: entryOrder.OrderID, SLOrderID: slOrder.OrderID, TPOrderID: tpOrder.OrderID,
		EntryPrice: price, Amount: amount, StopLoss: sl, TakeProfit: tp,
	})
	if err != nil {
		e.log.Error().Err(err).Msg("journal write failed after live order placement; position is real, continuing")
	}

	// 9. State.
	e.currentTradeID = tradeID
	e.setStateLocked(domain.StatePositionOpen)
	e.dailyTrades++
	e.cooldownUntil = now.Add(time.Duration(e.cfg.CooldownMinutes) * time.Minute)
	e.beMovedForTrade = false
	e.trailingHigh, e.trailingLow = price, price
	metrics.TradesTotal.WithLabelValues(e.key.StrategyName, string(direction)).Inc()

	e.log.Info().Str("side", string(side)).Float64("price", price).Float64("amount", amount).Float64("sl", sl).Float64("tp", tp).Str("tradeId", tradeID).Msg("razor entry executed")
	return nil
}

// adaptRisk implements spec.md §4.7 step 3.
func adaptRisk(slPct, tpPct float64, snap domain.IndicatorSnapshot) (float64, float64) {
	if snap.ATR14 != nil && snap.EMASlow1m != nil && *snap.EMASlow1m > 0 {
		atrPct := *snap.ATR14 / *snap.EMASlow1m * 100
		if atrPct < 0.05 {
			slPct *= 0.85
		}
		if atrPct > 0.4 {
			tpPct *= 1.15
		}
	}
	if abs(snap.TrendScore) >= 2 {
		tpPct *= 1.05
	}
	return slPct, tpPct
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func placeProtective(ctx context.Context, b broker.Broker, side domain.Side, instrument string, amount, price float64, orderType broker.OrderType, label string) (broker.PlacedOrder, error) {
	bside := broker.SideBuy
	if side == domain.SideSell {
		bside = broker.SideSell
	}
	if bside == broker.SideBuy {
		return b.PlaceBuyOrder(ctx, instrument, amount, price, orderType, label, true)
	}
	return b.PlaceSellOrder(ctx, instrument, amount, price, orderType, label, true)
}

func oppositeSide(side domain.Side) domain.Side {
	if side == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func currencyOf(instrument string) string {
	for i, r := range instrument {
		if r == '-' {
			return instrument[:i]
		}
	}
	return instrument
}
