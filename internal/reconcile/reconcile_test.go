package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/broker/paper"
	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/journal"
)

func testKey() domain.InstanceKey {
	return domain.InstanceKey{
		UserID: "user-1", StrategyName: "razor", Instrument: "BTC-PERPETUAL",
		Broker: domain.Broker("deribit"), Environment: domain.EnvironmentTestnet,
	}
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRun_CleanStart(t *testing.T) {
	j := openJournal(t)
	pb := paper.New()

	res, err := Run(context.Background(), pb, j, testKey())
	require.NoError(t, err)
	assert.Equal(t, OutcomeClean, res.Outcome)
	assert.Equal(t, domain.StateAnalyzing, res.StartState)
}

func TestRun_GhostCleanup(t *testing.T) {
	j := openJournal(t)
	pb := paper.New()
	key := testKey()

	id, err := j.RecordTrade(context.Background(), journal.RecordTradeInput{
		Key: key, Side: domain.SideBuy, EntryOrderID: "o1", EntryPrice: 1000, Amount: 0.1, StopLoss: 995, TakeProfit: 1006.5,
	})
	require.NoError(t, err)

	res, err := Run(context.Background(), pb, j, key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGhost, res.Outcome)
	assert.Equal(t, domain.StateAnalyzing, res.StartState)
	assert.Contains(t, res.ClosedGhosts, id)

	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: key.UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusClosed, trades[0].Status)
	require.NotNil(t, trades[0].ExitPrice)
	assert.Equal(t, 1000.0, *trades[0].ExitPrice)
	require.NotNil(t, trades[0].PnL)
	assert.Equal(t, 0.0, *trades[0].PnL)
}

func TestRun_OrphanAdoption(t *testing.T) {
	j := openJournal(t)
	pb := paper.New()
	key := testKey()

	pb.SetPosition(key.Instrument, broker.Position{InstrumentName: key.Instrument, Size: 0.1, Direction: broker.SideBuy, AveragePrice: 1000})
	pb.SetOpenOrder(key.Instrument, broker.OpenOrder{OrderID: "sl-1", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true, TriggerPrice: 995})
	pb.SetOpenOrder(key.Instrument, broker.OpenOrder{OrderID: "tp-1", OrderType: broker.OrderTypeLimit, ReduceOnly: true, Price: 1010})

	res, err := Run(context.Background(), pb, j, key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOrphan, res.Outcome)
	assert.Equal(t, domain.StatePositionOpen, res.StartState)
	require.NotEmpty(t, res.CurrentTradeID)

	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: key.UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.AutoResumeOrderID, trades[0].EntryOrderID)
	assert.Equal(t, 1000.0, trades[0].EntryPrice)
	assert.Equal(t, 0.1, trades[0].Amount)
	assert.Equal(t, 995.0, trades[0].StopLoss)
	assert.Equal(t, 1010.0, trades[0].TakeProfit)
}

func TestRun_OrphanAdoption_FallsBackWhenNoProtectiveOrders(t *testing.T) {
	j := openJournal(t)
	pb := paper.New()
	key := testKey()
	pb.SetPosition(key.Instrument, broker.Position{InstrumentName: key.Instrument, Size: 0.1, Direction: broker.SideBuy, AveragePrice: 1000})

	res, err := Run(context.Background(), pb, j, key)
	require.NoError(t, err)
	trades, err := j.QueryTrades(context.Background(), journal.TradeFilter{UserID: key.UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 995.0, trades[0].StopLoss, 1e-9)
	assert.InDelta(t, 1010.0, trades[0].TakeProfit, 1e-9)
	_ = res
}

func TestRun_Consistent(t *testing.T) {
	j := openJournal(t)
	pb := paper.New()
	key := testKey()

	id, err := j.RecordTrade(context.Background(), journal.RecordTradeInput{
		Key: key, Side: domain.SideBuy, EntryOrderID: "o1", EntryPrice: 1000, Amount: 0.1, StopLoss: 995, TakeProfit: 1006.5,
	})
	require.NoError(t, err)
	pb.SetPosition(key.Instrument, broker.Position{InstrumentName: key.Instrument, Size: 0.1, Direction: broker.SideBuy, AveragePrice: 1000})

	res, err := Run(context.Background(), pb, j, key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConsistent, res.Outcome)
	assert.Equal(t, domain.StatePositionOpen, res.StartState)
	assert.Equal(t, id, res.CurrentTradeID)
}
