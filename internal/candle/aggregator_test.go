package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_SameMinuteDoesNotCloseBar(t *testing.T) {
	a := New()
	closed := a.Ingest(100, 0)
	assert.False(t, closed)
	closed = a.Ingest(101, 30_000)
	assert.False(t, closed)
	bar, ok := a.CurrentBar()
	require.True(t, ok)
	assert.Equal(t, 101.0, bar.Close)
	assert.Equal(t, 101.0, bar.High)
	assert.Equal(t, 100.0, bar.Low)
}

func TestIngest_MinuteBoundaryClosesBar(t *testing.T) {
	a := New()
	a.Ingest(100, 0)
	a.Ingest(102, 30_000)
	closed := a.Ingest(99, 60_000)
	assert.True(t, closed)
	assert.Equal(t, []float64{102}, a.Closes1m())
	bar, _ := a.CurrentBar()
	assert.Equal(t, 99.0, bar.Open)
}

func TestIngest_BufferIsCapped(t *testing.T) {
	a := New()
	for i := 0; i < cap1m+50; i++ {
		a.Ingest(float64(100+i), int64(i)*minuteMs)
	}
	assert.LessOrEqual(t, len(a.Closes1m()), cap1m)
}

func TestIngest_NeverProducesFutureDatedCandle(t *testing.T) {
	a := New()
	a.Ingest(100, 1000)
	bar, _ := a.CurrentBar()
	assert.LessOrEqual(t, bar.Timestamp, int64(1000))
}

func TestRollUp_FiveMinuteBoundaryNeedsFiveBars(t *testing.T) {
	a := New()
	price := 100.0
	for minute := int64(0); minute < 5; minute++ {
		a.Ingest(price, minute*minuteMs)
		price++
		a.Ingest(price, (minute+1)*minuteMs)
	}
	// After 5 closed 1m bars and crossing the 5m boundary, one 5m close exists.
	assert.Equal(t, 1, len(a.Closes5m()))
}

func TestIngest_Deterministic(t *testing.T) {
	ticks := []struct {
		price float64
		ms    int64
	}{
		{100, 0}, {101, 10_000}, {99, 60_000}, {98, 70_000}, {102, 125_000},
	}
	run := func() ([]float64, []float64) {
		a := New()
		for _, tk := range ticks {
			a.Ingest(tk.price, tk.ms)
		}
		return append([]float64(nil), a.Closes1m()...), append([]float64(nil), a.Highs1m()...)
	}
	c1, h1 := run()
	c2, h2 := run()
	assert.Equal(t, c1, c2)
	assert.Equal(t, h1, h2)
}
