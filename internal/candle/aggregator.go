// FILE: aggregator.go
// Package candle – builds 1-minute OHLC bars from a tick stream and rolls
// them up into boundary-aligned 5m/15m synthetic candles (spec.md §4.2).
//
// This is a generalisation of the teacher's in-progress-bar idea in
// trader.go/step.go (open/high/low/close tracked per lot) lifted into a
// standalone, reusable component — the executor owns one Aggregator per
// instrument and never touches its buffers directly.
package candle

import "github.com/razorcore/execution-core/internal/domain"

const (
	minuteMs     = 60_000
	fiveMinMs    = 5 * minuteMs
	fifteenMinMs = 15 * minuteMs

	cap1m  = 200
	cap5m  = 100
	cap15m = 100
)

// Aggregator maintains the in-progress 1-minute bar and the derived
// 1m/5m/15m close (and, for 1m, high/low) buffers for one instrument.
type Aggregator struct {
	current    domain.Candle
	haveBar    bool
	barStartMs int64

	closes1m []float64
	highs1m  []float64
	lows1m   []float64

	closes5m      []float64
	last5mBoundary int64

	closes15m      []float64
	last15mBoundary int64
}

// New returns an empty Aggregator ready to ingest ticks.
func New() *Aggregator {
	return &Aggregator{}
}

// Ingest feeds one (price, now) tick. It returns true if this tick closed
// the in-progress 1-minute bar (i.e. a new bar started), which the
// executor uses to gate entry attempts to bar-close only (spec.md §4.4
// step 7).
func (a *Aggregator) Ingest(price float64, nowMs int64) bool {
	if !a.haveBar {
		a.openBar(price, nowMs)
		return false
	}
	if nowMs-a.barStartMs >= minuteMs {
		a.closeBar()
		a.openBar(price, nowMs)
		a.rollUp(nowMs)
		return true
	}
	if price > a.current.High {
		a.current.High = price
	}
	if price < a.current.Low {
		a.current.Low = price
	}
	a.current.Close = price
	return false
}

func (a *Aggregator) openBar(price float64, nowMs int64) {
	a.barStartMs = nowMs
	a.current = domain.Candle{Timestamp: nowMs, Open: price, High: price, Low: price, Close: price}
	a.haveBar = true
}

func (a *Aggregator) closeBar() {
	a.closes1m = appendCapped(a.closes1m, a.current.Close, cap1m)
	a.highs1m = appendCapped(a.highs1m, a.current.High, cap1m)
	a.lows1m = appendCapped(a.lows1m, a.current.Low, cap1m)
}

// rollUp appends the most recently closed 1m close to the 5m/15m close
// series once nowMs crosses their respective boundary, per spec.md §4.2:
// "boundary-aligned (floor-to-period), not sliding".
func (a *Aggregator) rollUp(nowMs int64) {
	if boundary := floorTo(nowMs, fiveMinMs); boundary != a.last5mBoundary && len(a.closes1m) >= 5 {
		a.closes5m = appendCapped(a.closes5m, a.closes1m[len(a.closes1m)-1], cap5m)
		a.last5mBoundary = boundary
	}
	if boundary := floorTo(nowMs, fifteenMinMs); boundary != a.last15mBoundary && len(a.closes1m) >= 5 {
		a.closes15m = appendCapped(a.closes15m, a.closes1m[len(a.closes1m)-1], cap15m)
		a.last15mBoundary = boundary
	}
}

func floorTo(ms, period int64) int64 {
	return ms - (ms % period)
}

func appendCapped(buf []float64, v float64, capN int) []float64 {
	buf = append(buf, v)
	if len(buf) > capN {
		buf = buf[len(buf)-capN:]
	}
	return buf
}

// CurrentBar returns the bar currently under construction.
func (a *Aggregator) CurrentBar() (domain.Candle, bool) {
	return a.current, a.haveBar
}

// Closes1m returns the closed 1-minute close series (oldest first).
func (a *Aggregator) Closes1m() []float64 { return a.closes1m }

// Highs1m returns the closed 1-minute high series (oldest first).
func (a *Aggregator) Highs1m() []float64 { return a.highs1m }

// Lows1m returns the closed 1-minute low series (oldest first).
func (a *Aggregator) Lows1m() []float64 { return a.lows1m }

// Closes5m returns the boundary-aligned 5-minute close series.
func (a *Aggregator) Closes5m() []float64 { return a.closes5m }

// Closes15m returns the boundary-aligned 15-minute close series.
func (a *Aggregator) Closes15m() []float64 { return a.closes15m }

// SeedHistory primes the aggregator with historical 1m closed candles
// (e.g. from the broker's getCandles, or synthetic warm-up data) without
// going through Ingest, so startup doesn't require replaying a whole
// backfill tick-by-tick. Used by the executor's initialize().
func (a *Aggregator) SeedHistory(history []domain.Candle) {
	for _, c := range history {
		a.closes1m = appendCapped(a.closes1m, c.Close, cap1m)
		a.highs1m = appendCapped(a.highs1m, c.High, cap1m)
		a.lows1m = appendCapped(a.lows1m, c.Low, cap1m)
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		a.last5mBoundary = floorTo(last.Timestamp, fiveMinMs)
		a.last15mBoundary = floorTo(last.Timestamp, fifteenMinMs)
	}
}
