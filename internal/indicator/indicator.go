// FILE: indicator.go
// Package indicator – pure, side-effect-free technical indicator functions.
//
// Every function here operates on a finite numeric series (or parallel
// high/low/close series) and returns finite reals; none of them mutate
// their input or throw on short input — a caller short on history gets a
// degraded-but-defined answer (see each function's doc comment), never a
// null/NaN surprise. This mirrors the teacher's indicators.go (SMA/RSI/
// ZScore aligned-output style) generalised to the Razor confluence
// pipeline's EMA/RSI/ATR/Volatility/Bollinger/PullbackReady/TrendScore set.
package indicator

import "math"

// SMA returns the arithmetic mean of the whole series. Used both as a
// standalone indicator and as EMA's seed value.
func SMA(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// EMA computes the exponential moving average of series over period. If
// series has fewer than period points, it falls back to the arithmetic
// mean of what is available — EMA never returns "insufficient data".
// Otherwise it seeds with the SMA of the first `period` points and
// iterates ema = (x-ema)*(2/(period+1)) + ema over the remainder.
func EMA(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period <= 1 || len(series) < period {
		return SMA(series)
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := SMA(series[:period])
	for _, x := range series[period:] {
		ema = (x-ema)*k + ema
	}
	return ema
}

// EMASeries returns the EMA value at every index of series, aligned to
// series (out[i] is EMA(series[:i+1], period)), for comparisons a few
// bars back (e.g. EMA crossover checks).
func EMASeries(series []float64, period int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		out[i] = EMA(series[:i+1], period)
	}
	return out
}

// RSI computes Wilder's Relative Strength Index over period (default 14).
// With fewer than 3 points, RSI is defined to be 50 (no edge either way).
// With fewer than period+1 points, it computes over max(2, len-1) instead
// of failing. When average loss is zero (straight up-only series), RSI is
// 100 (Wilder's formula has rs -> +Inf).
func RSI(series []float64, period int) float64 {
	n := len(series)
	if n < 3 {
		return 50
	}
	effPeriod := period
	if effPeriod > n-1 {
		effPeriod = n - 1
	}
	if effPeriod < 2 {
		effPeriod = 2
	}

	var gain, loss float64
	window := series[n-effPeriod-1:]
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(effPeriod)
	avgLoss := loss / float64(effPeriod)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ATR computes the Average True Range over period using Wilder's
// smoothing (or a simple average when the series is no longer than
// period). Returns (value, ok) — ok is false only when fewer than two
// bars exist (true range needs a previous close).
func ATR(high, low, close []float64, period int) (float64, bool) {
	n := len(close)
	if n < 2 || len(high) != n || len(low) != n {
		return 0, false
	}
	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i-1] = math.Max(hl, math.Max(hc, lc))
	}
	if len(tr) <= period {
		return SMA(tr), true
	}
	// Wilder smoothing: seed with SMA of the first `period` true ranges,
	// then roll forward.
	atr := SMA(tr[:period])
	for _, v := range tr[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
	}
	return atr, true
}

// Volatility estimates short-term volatility as a percentage: the max of
// (stdev-of-series as a % of mean) and (high-low range as a % of mean),
// floored at 0.01%.
func Volatility(series []float64) float64 {
	const floor = 0.01
	if len(series) < 2 {
		return floor
	}
	mean := SMA(series)
	if mean <= 0 {
		return floor
	}
	var sumSq float64
	lo, hi := series[0], series[0]
	for _, v := range series {
		d := v - mean
		sumSq += d * d
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	stdevPct := math.Sqrt(sumSq/float64(len(series))) / mean * 100
	rangePct := (hi - lo) / mean * 100
	v := math.Max(stdevPct, rangePct)
	if v < floor {
		return floor
	}
	return v
}

// BollingerBands returns (lower, mid, upper) using SMA(period) as the
// midline and +/- numStdDev population standard deviations for the bands.
// Named in spec.md's component table (§2) alongside SMA; not otherwise
// consumed by Razor's confluence score but available to future strategies.
func BollingerBands(series []float64, period int, numStdDev float64) (lower, mid, upper float64) {
	if period <= 0 || len(series) == 0 {
		return 0, 0, 0
	}
	window := series
	if len(series) > period {
		window = series[len(series)-period:]
	}
	mid = SMA(window)
	var sumSq float64
	for _, v := range window {
		d := v - mid
		sumSq += d * d
	}
	stdev := math.Sqrt(sumSq / float64(len(window)))
	lower = mid - numStdDev*stdev
	upper = mid + numStdDev*stdev
	return lower, mid, upper
}

// PullbackReady inspects the last 10 closes (fewer if unavailable) for an
// impulse move followed by a partial retrace. It returns:
//   - PullbackUnknown when there isn't enough history to judge (<4 points)
//   - PullbackTrue when an impulse of >= 0.1% of its start existed and the
//     retrace from its extreme is >= pullbackPct of the impulse magnitude
//   - PullbackFalse otherwise
//
// direction selects which impulse to look for: a long setup wants an
// upward impulse that has pulled back down; a short setup the mirror.
func PullbackReady(closes, highs, lows []float64, pullbackPct float64, long bool) PullbackState {
	n := len(closes)
	if n < 4 {
		return PullbackUnknown
	}
	lookback := 10
	if n < lookback {
		lookback = n
	}
	c := closes[n-lookback:]
	h := highs[n-lookback:]
	l := lows[n-lookback:]

	start := c[0]
	if start <= 0 {
		return PullbackUnknown
	}

	if long {
		peakIdx := 0
		for i, v := range h {
			if v > h[peakIdx] {
				peakIdx = i
			}
		}
		impulse := h[peakIdx] - start
		if impulse/start < 0.001 {
			return PullbackFalse
		}
		retrace := h[peakIdx] - c[len(c)-1]
		if retrace/impulse >= pullbackPct {
			return PullbackTrue
		}
		return PullbackFalse
	}

	troughIdx := 0
	for i, v := range l {
		if v < l[troughIdx] {
			troughIdx = i
		}
	}
	impulse := start - l[troughIdx]
	if impulse/start < 0.001 {
		return PullbackFalse
	}
	retrace := c[len(c)-1] - l[troughIdx]
	if retrace/impulse >= pullbackPct {
		return PullbackTrue
	}
	return PullbackFalse
}

// TrendScore sums the sign of (fast-slow) EMA gaps across three
// timeframes into an integer in [-3,+3] (spec.md GLOSSARY). A zero gap
// contributes zero.
func TrendScore(gaps ...float64) int {
	score := 0
	for _, g := range gaps {
		switch {
		case g > 0:
			score++
		case g < 0:
			score--
		}
	}
	return score
}
