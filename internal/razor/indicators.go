// FILE: indicators.go
// Indicator-snapshot assembly: bridges the candle aggregator's raw close/
// high/low buffers through internal/indicator's pure functions into the
// domain.IndicatorSnapshot the scorer consumes (spec.md §3 Indicator
// Snapshot, §4.1).
package razor

import (
	"github.com/razorcore/execution-core/internal/candle"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/indicator"
)

// minEMAPoints is the fewest 1m closes needed before an EMA/RSI/ATR value
// is considered meaningful enough to publish (rather than null) — spec.md
// §4.1 calls for null under "insufficient history" and this package treats
// "fewer than 2 points" as that case.
const minEMAPoints = 2

// rangeCompression reports whether the last closed 1m bar's high-low range has
// compressed below 0.6x the average range of the last 12 bars (spec.md
// §4.4 table, "Range compression"). Returns false when fewer than 12 bars
// of history exist.
func rangeCompression(highs, lows []float64) bool {
	const window = 12
	if len(highs) < window || len(lows) < window {
		return false
	}
	n := len(highs)
	var sum float64
	for i := n - window; i < n; i++ {
		sum += highs[i] - lows[i]
	}
	avg := sum / window
	if avg <= 0 {
		return false
	}
	lastRange := highs[n-1] - lows[n-1]
	return lastRange < rangeCompressionRatio*avg
}

func computeIndicators(agg *candle.Aggregator, cfg domain.StrategyConfig) (domain.IndicatorSnapshot, bool) {
	var snap domain.IndicatorSnapshot

	closes1m := agg.Closes1m()
	highs1m := agg.Highs1m()
	lows1m := agg.Lows1m()
	closes5m := agg.Closes5m()
	closes15m := agg.Closes15m()

	if len(closes1m) >= minEMAPoints {
		snap.EMAFast1m = ptr(indicator.EMA(closes1m, 9))
		snap.EMASlow1m = ptr(indicator.EMA(closes1m, 21))
		snap.RSI14 = ptr(indicator.RSI(closes1m, 14))
	}
	if len(closes5m) >= minEMAPoints {
		snap.EMAFast5m = ptr(indicator.EMA(closes5m, cfg.EMA5mFast))
		snap.EMASlow5m = ptr(indicator.EMA(closes5m, cfg.EMA5mSlow))
	}
	if len(closes15m) >= minEMAPoints {
		snap.EMAFast15m = ptr(indicator.EMA(closes15m, cfg.EMA15mFast))
		snap.EMASlow15m = ptr(indicator.EMA(closes15m, cfg.EMA15mSlow))
	}
	if len(closes1m) >= 2 {
		snap.VolatilityPct = ptr(indicator.Volatility(closes1m))
	}
	if atr, ok := indicator.ATR(highs1m, lows1m, closes1m, cfg.ATRPeriod); ok {
		snap.ATR14 = ptr(atr)
	}
	if m, ok := momentum5Bar(closes1m); ok {
		snap.Momentum5Bar = ptr(m)
	}

	snap.TrendScore = trendScore(snap)

	long := snap.TrendScore >= 0
	snap.PullbackReady = indicator.PullbackReady(closes1m, highs1m, lows1m, cfg.PullbackPercent, long)

	return snap, rangeCompression(highs1m, lows1m)
}

// trendScore sums sign(fast-slow) across the three timeframes (GLOSSARY
// "Trend score"); a timeframe with insufficient history contributes a zero
// gap, which indicator.TrendScore's sign sums as no vote either way.
func trendScore(snap domain.IndicatorSnapshot) int {
	return indicator.TrendScore(gap(snap.EMAFast1m, snap.EMASlow1m), gap(snap.EMAFast5m, snap.EMASlow5m), gap(snap.EMAFast15m, snap.EMASlow15m))
}

// momentum5Bar is the percentage change between the latest 1m close and the
// close 5 bars earlier (spec.md §4.4 table, "Momentum (5-bar % change)") —
// distinct from the EMA-trend row, which measures fast/slow EMA separation
// rather than raw price displacement.
func momentum5Bar(closes1m []float64) (float64, bool) {
	const lookback = 5
	n := len(closes1m)
	if n <= lookback {
		return 0, false
	}
	prev := closes1m[n-1-lookback]
	if prev == 0 {
		return 0, false
	}
	return (closes1m[n-1] - prev) / prev * 100, true
}

func gap(fast, slow *float64) float64 {
	if fast == nil || slow == nil {
		return 0
	}
	return *fast - *slow
}

func ptr(v float64) *float64 { return &v }
