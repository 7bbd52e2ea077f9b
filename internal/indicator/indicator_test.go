package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestEMA_ShortSeriesFallsBackToMean(t *testing.T) {
	series := []float64{10, 20, 30}
	got := EMA(series, 5)
	assert.Equal(t, SMA(series), got, "EMA with len(series) < period must equal the mean, never null")
}

func TestEMA_NeverMutatesInput(t *testing.T) {
	series := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cp := append([]float64(nil), series...)
	EMA(series, 4)
	assert.Equal(t, cp, series)
}

func TestEMA_Deterministic(t *testing.T) {
	series := ramp(30, 100, 0.5)
	a := EMA(series, 12)
	b := EMA(series, 12)
	assert.Equal(t, a, b)
}

func TestRSI_AllUpSeriesIs100(t *testing.T) {
	series := ramp(20, 100, 1)
	assert.Equal(t, 100.0, RSI(series, 14))
}

func TestRSI_AllDownSeriesIs0(t *testing.T) {
	series := ramp(20, 100, -1)
	assert.Equal(t, 0.0, RSI(series, 14))
}

func TestRSI_FewerThanThreePointsIs50(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2}, 14))
	assert.Equal(t, 50.0, RSI([]float64{1}, 14))
	assert.Equal(t, 50.0, RSI(nil, 14))
}

func TestATR_InsufficientBars(t *testing.T) {
	_, ok := ATR([]float64{100}, []float64{99}, []float64{99.5}, 14)
	assert.False(t, ok)
}

func TestATR_TwoBarsOK(t *testing.T) {
	v, ok := ATR([]float64{101, 102}, []float64{99, 100}, []float64{100, 101}, 14)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)
}

func TestVolatility_Floor(t *testing.T) {
	series := flat(20, 100)
	assert.Equal(t, 0.01, Volatility(series))
}

func TestVolatility_ShortSeriesFloor(t *testing.T) {
	assert.Equal(t, 0.01, Volatility([]float64{100}))
}

func TestTrendScore_ZeroGapNoBonus(t *testing.T) {
	assert.Equal(t, 0, TrendScore(0, 0, 0))
}

func TestTrendScore_Bounds(t *testing.T) {
	assert.Equal(t, 3, TrendScore(1, 2, 0.5))
	assert.Equal(t, -3, TrendScore(-1, -2, -0.5))
	assert.Equal(t, 1, TrendScore(1, -1, 1))
}

func TestPullbackReady_InsufficientHistory(t *testing.T) {
	state := PullbackReady([]float64{1, 2}, []float64{1, 2}, []float64{1, 2}, 0.3, true)
	assert.Equal(t, PullbackUnknown, state)
}

func TestPullbackReady_LongImpulseThenRetrace(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 104.5, 104, 103.5, 103.3}
	highs := append([]float64(nil), closes...)
	lows := append([]float64(nil), closes...)
	got := PullbackReady(closes, highs, lows, 0.3, true)
	assert.Equal(t, PullbackTrue, got)
}

func TestPullbackReady_NoImpulseIsFalse(t *testing.T) {
	closes := flat(10, 100)
	got := PullbackReady(closes, closes, closes, 0.3, true)
	assert.Equal(t, PullbackFalse, got)
}

func TestBollingerBands_MidIsSMA(t *testing.T) {
	series := ramp(25, 10, 1)
	lower, mid, upper := BollingerBands(series, 20, 2)
	assert.Equal(t, SMA(series[5:]), mid)
	assert.Less(t, lower, mid)
	assert.Greater(t, upper, mid)
}
