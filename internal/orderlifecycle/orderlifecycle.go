// FILE: orderlifecycle.go
// Package orderlifecycle implements the protective-order discipline spec.md
// §4.5 requires: a position must never be left naked, so replacing a stop
// or take-profit always places the new order before cancelling the old one,
// and a cancel against an order the broker has already filled or removed is
// treated as success rather than an error.
package orderlifecycle

import (
	"context"
	"fmt"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/xerrors"
)

// ReplaceResult reports what a Replace call actually did, so the caller can
// journal the new order id and log the old one's fate.
type ReplaceResult struct {
	NewOrderID   string
	OldCancelled bool
	OldCancelErr error // non-nil means the old order could not be cancelled; NewOrderID is still valid and live
}

// Replace moves a reduce-only protective order (stop-loss or take-profit) to
// a new trigger price. It places the replacement first and only cancels the
// old order afterward, so a crash or broker outage between the two calls
// never leaves the position unprotected (spec.md §4.5, §4.8 "never naked").
func Replace(ctx context.Context, b broker.Broker, instrument string, side broker.Side, amount, newTriggerPrice float64, orderType broker.OrderType, label, oldOrderID string) (ReplaceResult, error) {
	var placed broker.PlacedOrder
	var err error
	switch side {
	case broker.SideBuy:
		placed, err = b.PlaceBuyOrder(ctx, instrument, amount, newTriggerPrice, orderType, label, true)
	case broker.SideSell:
		placed, err = b.PlaceSellOrder(ctx, instrument, amount, newTriggerPrice, orderType, label, true)
	default:
		return ReplaceResult{}, xerrors.New(xerrors.KindValidation, xerrors.CodeValidationFailure, fmt.Sprintf("unknown side %q", side))
	}
	if err != nil {
		return ReplaceResult{}, xerrors.Wrap(xerrors.KindTransient, "", "orderlifecycle: place replacement order", err)
	}

	result := ReplaceResult{NewOrderID: placed.OrderID}

	if oldOrderID == "" {
		return result, nil
	}
	if cancelErr := b.CancelOrder(ctx, oldOrderID); cancelErr != nil {
		// The new order is already live; the old one surviving is a stray
		// resting order, not a naked position, so this is reported but not
		// fatal to the replace itself.
		result.OldCancelErr = cancelErr
		return result, nil
	}
	result.OldCancelled = true
	return result, nil
}

// CancelIfPresent cancels orderID, treating "broker no longer has this
// order" (already filled, already cancelled) as success rather than an
// error — the paper and Deribit adapters both surface that case as a nil
// error already, but a real WS adapter may instead return a not-found RPC
// error, which callers should normalise before reaching here.
func CancelIfPresent(ctx context.Context, b broker.Broker, orderID string) error {
	if orderID == "" {
		return nil
	}
	if err := b.CancelOrder(ctx, orderID); err != nil {
		return xerrors.Wrap(xerrors.KindTransient, "", "orderlifecycle: cancel order", err)
	}
	return nil
}

// SweepOrphans cancels every reduce-only resting order on instrument whose
// order id is not in keep — used after a position close whose exit falls
// back to manual, to remove stale protective orders left behind (spec.md §4.8's ghost
// cleanup, applied to orders rather than trades).
func SweepOrphans(ctx context.Context, b broker.Broker, instrument string, keep map[string]bool) ([]string, error) {
	open, err := b.GetOpenOrders(ctx, instrument)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindTransient, "", "orderlifecycle: list open orders", err)
	}
	var cancelled []string
	for _, o := range open {
		if !o.ReduceOnly {
			continue
		}
		if keep[o.OrderID] {
			continue
		}
		if err := b.CancelOrder(ctx, o.OrderID); err != nil {
			return cancelled, xerrors.Wrap(xerrors.KindTransient, "", fmt.Sprintf("orderlifecycle: cancel orphan order %s", o.OrderID), err)
		}
		cancelled = append(cancelled, o.OrderID)
	}
	return cancelled, nil
}
