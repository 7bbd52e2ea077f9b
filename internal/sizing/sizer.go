// FILE: sizer.go
// Package sizing – converts a USD notional at an entry price into a contract
// quantity, respecting instrument step/tick and a leverage cap (spec.md
// §4.3). Rounding is done through shopspring/decimal to eliminate the
// float64 drift 8-decimal normalisation would otherwise leave behind —
// the same boundary-only use of decimal as atlas-ai's
// internal/sizing/position_sizer.go, which converts to decimal only for
// the size/risk arithmetic and back to float64 for the rest of the
// pipeline.
package sizing

import (
	"github.com/shopspring/decimal"

	"github.com/razorcore/execution-core/internal/xerrors"
)

// HardLeverageCap is enforced regardless of a broker's own per-instrument
// limit (spec.md §4.3).
const HardLeverageCap = 50

// Request carries the inputs to Size.
type Request struct {
	NotionalUSD  float64
	Price        float64
	StepSize     float64
	TickSize     float64
	LeverageCap  float64 // the broker/instrument's own cap; clamped to HardLeverageCap
	Equity       float64
	AvailableMargin float64
}

// Result carries the computed amount plus the bookkeeping atlas-ai's
// sizer exposes (LimitingFactor) so the caller can log *why* a resize
// happened.
type Result struct {
	Amount         float64
	ImpliedNotional float64
	LimitingFactor string
}

// RoundToStep rounds qty down to the nearest multiple of step (never up —
// rounding up could push the order past the leverage cap or available
// margin).
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	units := q.Div(s).Floor()
	return units.Mul(s).InexactFloat64()
}

// RoundToTick rounds price to the nearest multiple of tick (round-half-up,
// spec.md §4.3: "round(p / tickSize) * tickSize").
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	units := p.Div(t).Round(0)
	return units.Mul(t).InexactFloat64()
}

// Size converts a notional USD risk amount into a contract amount,
// respecting step/tick rounding and the leverage cap.
func Size(req Request) (Result, error) {
	if req.Price <= 0 {
		return Result{}, xerrors.New(xerrors.KindValidation, xerrors.CodeValidationFailure, "price must be positive")
	}
	step := req.StepSize
	if step <= 0 {
		step = 1e-8
	}

	rawAmount := req.NotionalUSD / req.Price
	amount := RoundToStep(rawAmount, step)
	if amount < step {
		return Result{}, xerrors.New(xerrors.KindValidation, xerrors.CodeAmountTooSmall,
			"sized amount is below the instrument's minimum step").
			WithDetails(map[string]any{"amount": amount, "step": step})
	}

	cap := req.LeverageCap
	if cap <= 0 || cap > HardLeverageCap {
		cap = HardLeverageCap
	}

	result := Result{Amount: amount, ImpliedNotional: amount * req.Price}

	if req.Equity > 0 {
		maxNotional := cap * req.Equity
		if result.ImpliedNotional > maxNotional {
			// Downsize to the largest compliant multiple of step.
			maxUnits := decimal.NewFromFloat(maxNotional).Div(decimal.NewFromFloat(req.Price))
			downsized := RoundToStep(maxUnits.InexactFloat64(), step)
			if downsized < step {
				return Result{}, xerrors.New(xerrors.KindValidation, xerrors.CodeLeverageExceeded,
					"leverage cap cannot be met at the minimum step").
					WithDetails(map[string]any{"maxNotional": maxNotional, "step": step, "price": req.Price})
			}
			amount = downsized
			result.Amount = amount
			result.ImpliedNotional = amount * req.Price
			result.LimitingFactor = "leverage_cap"
		}
	}

	if req.AvailableMargin > 0 {
		requiredMargin := result.ImpliedNotional / cap
		if requiredMargin > req.AvailableMargin {
			return Result{}, xerrors.New(xerrors.KindValidation, xerrors.CodeInsufficientMargin,
				"required margin exceeds available margin").
				WithDetails(map[string]any{"required": requiredMargin, "available": req.AvailableMargin})
		}
	}

	if result.Amount < step {
		return Result{}, xerrors.New(xerrors.KindValidation, xerrors.CodeAmountTooSmall,
			"sized amount is below the instrument's minimum step").
			WithDetails(map[string]any{"amount": result.Amount, "step": step})
	}

	return result, nil
}

// EquityHeadroom returns the remaining notional, in USD, before the
// leverage cap binds, mirroring atlas-ai's SizingResult.Adjustments. No
// caller in this module uses it.
func EquityHeadroom(equity, leverageCap, currentNotional float64) float64 {
	cap := leverageCap
	if cap <= 0 || cap > HardLeverageCap {
		cap = HardLeverageCap
	}
	headroom := cap*equity - currentNotional
	if headroom < 0 {
		return 0
	}
	return headroom
}
