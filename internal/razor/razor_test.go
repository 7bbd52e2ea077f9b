package razor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/broker/paper"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
)

// fakeClock lets tests drive "now" deterministically instead of sleeping
// real wall-clock seconds, the same way the candle aggregator tests pass
// an explicit nowMs.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testKey() domain.InstanceKey {
	return domain.InstanceKey{UserID: "user-1", StrategyName: "razor", Instrument: "BTC-PERPETUAL", Broker: domain.Broker("deribit"), Environment: domain.EnvironmentTestnet}
}

func newTestExecutor(t *testing.T, cfg domain.StrategyConfig) (*Executor, *paper.Broker, *journal.Journal, *fakeClock) {
	t.Helper()
	pb := paper.New()
	pb.SetInstrument("BTC-PERPETUAL", broker.Instrument{TickSize: 0.5, MinTradeAmount: 0.001, MaxLeverage: 20, ContractSize: 1})
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	e := New(testKey(), cfg, pb, j, zerolog.Nop())
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e.clock = clk
	return e, pb, j, clk
}

func TestScenario1_CleanStart_NoSignal(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, pb, _, clk := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 100.00)

	require.NoError(t, e.Initialize())
	assert.Equal(t, domain.StateAnalyzing, e.State())

	for i := 0; i < 15; i++ {
		clk.advance(time.Minute)
		e.OnTicker(100.00)
	}

	assert.Equal(t, domain.StateAnalyzing, e.State())
	snap := e.GetAnalysisState()
	assert.Equal(t, 0, snap.DailyTrades)
	assert.Equal(t, domain.DirectionNone, snap.LastSignal.Direction)
	assert.LessOrEqual(t, snap.LastSignal.Strength, 58.0)
}

func TestScoring_OversoldConfluenceCrossesEntryThreshold(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.RSIOversold = 40

	fast, slow := 1005.0, 1000.0
	rsi := 30.0
	atr := 2.0
	vol := 0.2
	snap := domain.IndicatorSnapshot{
		EMAFast1m: &fast, EMASlow1m: &slow, RSI14: &rsi, ATR14: &atr, VolatilityPct: &vol,
		TrendScore: 2, PullbackReady: domain.PullbackTrue,
	}

	sig := Score(snap, cfg, 0, false)
	assert.Equal(t, domain.DirectionLong, sig.Direction)
	assert.GreaterOrEqual(t, sig.Strength, 58.0)
}

func TestScenario2_OversoldEntry_PlacesBracketAndJournals(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.StopLossPercent = 0.5
	cfg.TakeProfitPercent = 0.65
	cfg.AdaptiveRiskEnabled = false

	e, pb, j, clk := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 1000)
	require.NoError(t, e.Initialize())

	e.lastSignal = domain.Signal{Direction: domain.DirectionLong, Strength: 60}

	require.NoError(t, e.executeTradeLocked(clk.Now(), 1000))

	assert.Equal(t, domain.StatePositionOpen, e.State())
	assert.Equal(t, 1, e.dailyTrades)
	require.NotEmpty(t, e.currentTradeID)

	open, err := j.OpenTradesFor(context.Background(), testKey())
	require.NoError(t, err)
	require.Len(t, open, 1)
	tr := open[0]
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.InDelta(t, 995.0, tr.StopLoss, 1e-9)
	assert.InDelta(t, 1006.5, tr.TakeProfit, 1e-9)
	assert.NotEmpty(t, tr.EntryOrderID)
	assert.NotEmpty(t, tr.SLOrderID)
	assert.NotEmpty(t, tr.TPOrderID)

	orders, err := pb.GetOpenOrders(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)
	var sawStop, sawLimit bool
	for _, o := range orders {
		if o.OrderType == broker.OrderTypeStopMarket && o.ReduceOnly {
			sawStop = true
			assert.InDelta(t, 995.0, o.Price, 1e-9)
		}
		if o.OrderType == broker.OrderTypeLimit && o.ReduceOnly {
			sawLimit = true
			assert.InDelta(t, 1006.5, o.Price, 1e-9)
		}
	}
	assert.True(t, sawStop)
	assert.True(t, sawLimit)
}

func TestScenario3_BreakEvenMove_NewStopBeforeCancel(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.BreakEvenTriggerToTP = 0.5
	cfg.BreakEvenOffsetTicks = 1

	e, pb, j, clk := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 1000)
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "sl-old", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true, TriggerPrice: 995})
	pb.SetPosition("BTC-PERPETUAL", broker.Position{InstrumentName: "BTC-PERPETUAL", Size: 0.1, Direction: broker.SideBuy, AveragePrice: 1000})

	tradeID, err := j.RecordTrade(context.Background(), journal.RecordTradeInput{
		Key: testKey(), Side: domain.SideBuy, EntryOrderID: "entry-1", SLOrderID: "sl-old", TPOrderID: "tp-1",
		EntryPrice: 1000, Amount: 0.1, StopLoss: 995, TakeProfit: 1006.5,
	})
	require.NoError(t, err)
	e.currentTradeID = tradeID
	e.state = domain.StatePositionOpen

	e.OnTicker(1003.25)
	_ = clk

	open, err := j.OpenTradesFor(context.Background(), testKey())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 1000.5, open[0].StopLoss, 1e-9)
	assert.NotEqual(t, "sl-old", open[0].SLOrderID)

	orders, err := pb.GetOpenOrders(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, o := range orders {
		ids[o.OrderID] = true
	}
	assert.False(t, ids["sl-old"], "old stop must be cancelled")
	assert.True(t, ids[open[0].SLOrderID], "new stop must be resting")
}

func TestScenario4_TPExit_AutoResumeWithCooldown(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.CooldownMinutes = 5
	e, _, j, clk := newTestExecutor(t, cfg)

	tradeID, err := j.RecordTrade(context.Background(), journal.RecordTradeInput{
		Key: testKey(), Side: domain.SideBuy, EntryOrderID: "entry-1", SLOrderID: "sl-1", TPOrderID: "tp-1",
		EntryPrice: 1000, Amount: 0.1, StopLoss: 995, TakeProfit: 1006.5,
	})
	require.NoError(t, err)
	e.currentTradeID = tradeID
	e.state = domain.StatePositionOpen
	// paper broker reports no position: simulates a TP fill closing it out.

	e.OnTicker(1006.5)

	assert.Equal(t, domain.StateAnalyzing, e.State())
	assert.Empty(t, e.currentTradeID)

	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: testKey().UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusClosed, trades[0].Status)
	require.NotNil(t, trades[0].ExitReason)
	assert.Equal(t, domain.ExitReasonTakeProfit, *trades[0].ExitReason)
	require.NotNil(t, trades[0].PnL)
	assert.Greater(t, *trades[0].PnL, 0.0)

	snap := e.GetAnalysisState()
	assert.Equal(t, clk.Now().Add(5*time.Minute), snap.CooldownUntil)

	// During cooldown, no entry is attempted even on a qualifying signal.
	clk.advance(time.Minute)
	e.OnTicker(1006.5)
	assert.Equal(t, domain.StateAnalyzing, e.State())
	assert.Empty(t, e.currentTradeID)
}

func TestScenario5_GhostCleanup_OnInitialize(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, pb, j, _ := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 100)

	id, err := j.RecordTrade(context.Background(), journal.RecordTradeInput{
		Key: testKey(), Side: domain.SideBuy, EntryOrderID: "o1", EntryPrice: 100, Amount: 1, StopLoss: 99.5, TakeProfit: 101,
	})
	require.NoError(t, err)

	require.NoError(t, e.Initialize())
	assert.Equal(t, domain.StateAnalyzing, e.State())

	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: testKey().UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, id, trades[0].ID)
	assert.Equal(t, domain.TradeStatusClosed, trades[0].Status)
}

func TestScenario6_OrphanAdoption_OnInitialize(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, pb, j, _ := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 1000)
	pb.SetPosition("BTC-PERPETUAL", broker.Position{InstrumentName: "BTC-PERPETUAL", Size: 0.1, Direction: broker.SideBuy, AveragePrice: 1000})
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "sl-1", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true, TriggerPrice: 995})
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "tp-1", OrderType: broker.OrderTypeLimit, ReduceOnly: true, Price: 1010})

	require.NoError(t, e.Initialize())
	assert.Equal(t, domain.StatePositionOpen, e.State())
	assert.NotEmpty(t, e.currentTradeID)

	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: testKey().UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.AutoResumeOrderID, trades[0].EntryOrderID)
	assert.Equal(t, 1000.0, trades[0].EntryPrice)
	assert.Equal(t, 0.1, trades[0].Amount)
	assert.Equal(t, 995.0, trades[0].StopLoss)
	assert.Equal(t, 1010.0, trades[0].TakeProfit)
}

func TestInitialize_IsIdempotent(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, pb, _, _ := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 100)

	require.NoError(t, e.Initialize())
	first := e.State()
	require.NoError(t, e.Initialize())
	assert.Equal(t, first, e.State())
}

func TestForceResume_ClearsCurrentTradeAndArmsCooldown(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	cfg.CooldownMinutes = 5
	e, _, _, clk := newTestExecutor(t, cfg)
	e.state = domain.StatePositionOpen
	e.currentTradeID = "some-trade"

	require.NoError(t, e.ForceResume())
	assert.Equal(t, domain.StateAnalyzing, e.State())
	assert.Empty(t, e.currentTradeID)
	snap := e.GetAnalysisState()
	assert.Equal(t, clk.Now().Add(5*time.Minute), snap.CooldownUntil)
}

func TestCleanup_TransitionsToStoppedFromAnyState(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, _, _, _ := newTestExecutor(t, cfg)
	e.state = domain.StatePositionOpen
	e.Cleanup()
	assert.Equal(t, domain.StateStopped, e.State())
}

func TestOnTicker_RecoversFromPanicAndEntersErrorState(t *testing.T) {
	cfg := domain.DefaultStrategyConfig()
	e, pb, _, _ := newTestExecutor(t, cfg)
	pb.SetPrice("BTC-PERPETUAL", 100)
	require.NoError(t, e.Initialize())

	e.agg = nil // force a nil-pointer panic inside onTicker's hot path
	assert.NotPanics(t, func() { e.OnTicker(100) })
	assert.Equal(t, domain.StateError, e.State())
}
