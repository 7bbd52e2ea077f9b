// FILE: reconcile.go
// Package reconcile implements the one-shot startup reconciliation table
// from spec.md §4.8: compare the journal's open trade rows for an instance
// key against what the broker actually reports, and decide the FSM's
// starting state — clean, ghost cleanup, orphan adoption, or already
// consistent.
package reconcile

import (
	"context"
	"fmt"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
	"github.com/razorcore/execution-core/internal/metrics"
)

// Outcome is one of the four rows of spec.md §4.8's reconciliation table.
type Outcome string

const (
	OutcomeClean     Outcome = "clean"
	OutcomeGhost     Outcome = "ghost"
	OutcomeOrphan    Outcome = "orphan"
	OutcomeConsistent Outcome = "consistent"
)

// Result carries the decided starting state plus the trade id the executor
// should adopt as its currentTradeId, if any.
type Result struct {
	Outcome       Outcome
	StartState    domain.ExecutorState
	CurrentTradeID string
	// ClosedGhosts lists trade ids closed during this pass, for logging.
	ClosedGhosts []string
}

// estimatedStopOffsetPct and estimatedTakeProfitOffsetPct are the fallback
// widths spec.md §4.8 names for orphan adoption when the broker has no
// resting protective orders to read prices from.
const (
	estimatedStopOffsetPct       = 0.005
	estimatedTakeProfitOffsetPct = 0.01
)

// Run performs the reconciliation pass for one instance key. It never
// returns an error that should abort startup — reconciliation failures
// (e.g. a ghost-cleanup journal write failing) are reported but the
// executor still gets a safe starting state (spec.md §4.4 "Failure
// semantics": defaults to analyzing rather than blocking).
func Run(ctx context.Context, b broker.Broker, j *journal.Journal, key domain.InstanceKey) (result Result, err error) {
	defer func() {
		metrics.ReconciliationOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	}()

	openTrades, err := j.OpenTradesFor(ctx, key)
	if err != nil {
		return Result{Outcome: OutcomeClean, StartState: domain.StateAnalyzing}, fmt.Errorf("reconcile: query open trades: %w", err)
	}

	positions, err := b.GetPositions(ctx, currencyFromInstrument(key.Instrument))
	if err != nil {
		// Broker unreachable at startup: safest is to assume flat and let
		// the watcher discover the truth once the broker call succeeds.
		return Result{Outcome: OutcomeClean, StartState: domain.StateAnalyzing}, fmt.Errorf("reconcile: get positions: %w", err)
	}
	pos, hasPosition := findPosition(positions, key.Instrument)

	switch {
	case len(openTrades) == 0 && !hasPosition:
		return Result{Outcome: OutcomeClean, StartState: domain.StateAnalyzing}, nil

	case len(openTrades) > 0 && !hasPosition:
		return ghostCleanup(ctx, j, openTrades)

	case len(openTrades) == 0 && hasPosition:
		return orphanAdopt(ctx, b, j, key, pos)

	default: // n >= 1 open trades AND a live position
		return Result{Outcome: OutcomeConsistent, StartState: domain.StatePositionOpen, CurrentTradeID: openTrades[0].ID}, nil
	}
}

// ghostCleanup closes every open journal row for a key the broker no
// longer shows a position for (spec.md §4.8 row 2).
func ghostCleanup(ctx context.Context, j *journal.Journal, openTrades []domain.TradeRecord) (Result, error) {
	var closed []string
	var firstErr error
	for _, tr := range openTrades {
		err := j.CloseTrade(ctx, journal.CloseTradeInput{
			TradeID:    tr.ID,
			ExitPrice:  tr.EntryPrice,
			ExitReason: domain.ExitReasonManual,
			PnL:        0,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile: close ghost trade %s: %w", tr.ID, err)
			}
			continue
		}
		closed = append(closed, tr.ID)
	}
	// A ghost-cleanup failure never blocks startup (spec.md §4.4, §7
	// "Reconciliation conflict... never aborts startup").
	return Result{Outcome: OutcomeGhost, StartState: domain.StateAnalyzing, ClosedGhosts: closed}, firstErr
}

// orphanAdopt inserts a trade row for a broker position the journal has no
// record of (spec.md §4.8 row 3), estimating stop/take-profit from resting
// protective orders when present, else from the fallback offsets.
func orphanAdopt(ctx context.Context, b broker.Broker, j *journal.Journal, key domain.InstanceKey, pos broker.Position) (Result, error) {
	side := domain.SideBuy
	if pos.Size < 0 {
		side = domain.SideSell
	}
	amount := pos.Size
	if amount < 0 {
		amount = -amount
	}

	stopLoss, takeProfit := estimateProtectivePrices(ctx, b, key.Instrument, side, pos.AveragePrice)

	id, err := j.RecordTrade(ctx, journal.RecordTradeInput{
		Key:          key,
		Side:         side,
		EntryOrderID: domain.AutoResumeOrderID,
		EntryPrice:   pos.AveragePrice,
		Amount:       amount,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
	})
	if err != nil {
		return Result{Outcome: OutcomeOrphan, StartState: domain.StatePositionOpen}, fmt.Errorf("reconcile: adopt orphan position: %w", err)
	}
	return Result{Outcome: OutcomeOrphan, StartState: domain.StatePositionOpen, CurrentTradeID: id}, nil
}

// estimateProtectivePrices reads resting reduce-only orders for instrument
// to recover the real stop/take-profit prices; falls back to spec.md
// §4.8's ±0.5%/±1% estimate when no matching order is found.
func estimateProtectivePrices(ctx context.Context, b broker.Broker, instrument string, side domain.Side, entry float64) (stopLoss, takeProfit float64) {
	stopLoss = fallbackStop(side, entry)
	takeProfit = fallbackTakeProfit(side, entry)

	orders, err := b.GetOpenOrders(ctx, instrument)
	if err != nil {
		return stopLoss, takeProfit
	}
	for _, o := range orders {
		if !o.ReduceOnly {
			continue
		}
		switch o.OrderType {
		case broker.OrderTypeStopMarket:
			if o.TriggerPrice > 0 {
				stopLoss = o.TriggerPrice
			}
		case broker.OrderTypeLimit:
			if o.Price > 0 {
				takeProfit = o.Price
			}
		}
	}
	return stopLoss, takeProfit
}

func fallbackStop(side domain.Side, entry float64) float64 {
	if side == domain.SideBuy {
		return entry * (1 - estimatedStopOffsetPct)
	}
	return entry * (1 + estimatedStopOffsetPct)
}

func fallbackTakeProfit(side domain.Side, entry float64) float64 {
	if side == domain.SideBuy {
		return entry * (1 + estimatedTakeProfitOffsetPct)
	}
	return entry * (1 - estimatedTakeProfitOffsetPct)
}

func findPosition(positions []broker.Position, instrument string) (broker.Position, bool) {
	for _, p := range positions {
		if p.InstrumentName == instrument && p.Size != 0 {
			return p, true
		}
	}
	return broker.Position{}, false
}

// currencyFromInstrument derives the settlement currency GetPositions needs
// from a Deribit-style instrument name ("BTC-PERPETUAL" -> "BTC"). Venues
// that don't follow this convention can ignore the argument; the paper
// broker does.
func currencyFromInstrument(instrument string) string {
	for i, r := range instrument {
		if r == '-' {
			return instrument[:i]
		}
	}
	return instrument
}
