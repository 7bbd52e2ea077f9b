package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorcore/execution-core/internal/domain"
)

func testKey() domain.InstanceKey {
	return domain.InstanceKey{
		UserID: "user-1", StrategyName: "razor", Instrument: "BTC-PERPETUAL",
		Broker: domain.Broker("deribit"), Environment: domain.EnvironmentTestnet,
	}
}

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordTrade_ThenQuery_RoundTrips(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	id, err := j.RecordTrade(ctx, RecordTradeInput{
		Key: key, Side: domain.SideBuy, EntryOrderID: "order-1",
		EntryPrice: 50000, Amount: 0.01, StopLoss: 49750, TakeProfit: 50325,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	trades, err := j.QueryTrades(ctx, TradeFilter{UserID: key.UserID, Status: domain.TradeStatusOpen})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, id, trades[0].ID)
	assert.Equal(t, "order-1", trades[0].EntryOrderID)
	assert.Equal(t, domain.TradeStatusOpen, trades[0].Status)
	assert.Nil(t, trades[0].ClosedAt)
}

func TestCloseTrade_IsIdempotent(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	id, err := j.RecordTrade(ctx, RecordTradeInput{
		Key: key, Side: domain.SideBuy, EntryOrderID: "order-1",
		EntryPrice: 50000, Amount: 0.01, StopLoss: 49750, TakeProfit: 50325,
	})
	require.NoError(t, err)

	pnl, pnlPct := DerivePnL(domain.SideBuy, 50000, 50325, 0.01)
	err = j.CloseTrade(ctx, CloseTradeInput{TradeID: id, ExitPrice: 50325, ExitReason: domain.ExitReasonTakeProfit, PnL: pnl, PnLPercentage: pnlPct})
	require.NoError(t, err)

	// Closing again must not error and must not clobber the exit price.
	err = j.CloseTrade(ctx, CloseTradeInput{TradeID: id, ExitPrice: 999, ExitReason: domain.ExitReasonStopLoss, PnL: 0, PnLPercentage: 0})
	require.NoError(t, err)

	trades, err := j.QueryTrades(ctx, TradeFilter{UserID: key.UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].ExitPrice)
	assert.Equal(t, 50325.0, *trades[0].ExitPrice)
	require.NotNil(t, trades[0].ExitReason)
	assert.Equal(t, domain.ExitReasonTakeProfit, *trades[0].ExitReason)
}

func TestOpenTradesFor_OnlyReturnsOpenRows(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	id, err := j.RecordTrade(ctx, RecordTradeInput{Key: key, Side: domain.SideBuy, EntryOrderID: "o1", EntryPrice: 100, Amount: 1, StopLoss: 99, TakeProfit: 101})
	require.NoError(t, err)
	require.NoError(t, j.CloseTrade(ctx, CloseTradeInput{TradeID: id, ExitPrice: 101, ExitReason: domain.ExitReasonTakeProfit}))

	_, err = j.RecordTrade(ctx, RecordTradeInput{Key: key, Side: domain.SideBuy, EntryOrderID: "o2", EntryPrice: 100, Amount: 1, StopLoss: 99, TakeProfit: 101})
	require.NoError(t, err)

	open, err := j.OpenTradesFor(ctx, key)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o2", open[0].EntryOrderID)
}

func TestUpdateOrderIDs_OnlyTouchesProvidedFields(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	id, err := j.RecordTrade(ctx, RecordTradeInput{Key: key, Side: domain.SideBuy, EntryOrderID: "o1", SLOrderID: "sl-1", TPOrderID: "tp-1", EntryPrice: 100, Amount: 1, StopLoss: 99, TakeProfit: 101})
	require.NoError(t, err)

	newSL := "sl-2"
	require.NoError(t, j.UpdateOrderIDs(ctx, id, &newSL, nil))

	trades, err := j.QueryTrades(ctx, TradeFilter{UserID: key.UserID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "sl-2", trades[0].SLOrderID)
	assert.Equal(t, "tp-1", trades[0].TPOrderID)
}

func TestUpsertStatus_ThenFindAllStrategiesToResume(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	row := domain.StatusRow{
		Key: key, Status: domain.StatusActive, LastAction: domain.ActionManualStart,
		ConfigJSON: `{"tradeSize":100}`, AutoReconnect: true,
	}
	require.NoError(t, j.UpsertStatus(ctx, row))

	resumable, err := j.FindAllStrategiesToResume(ctx, key.Broker, key.Environment)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, key.UserID, resumable[0].Key.UserID)

	// A paused row must not be picked up for auto-resume.
	row.Status = domain.StatusPaused
	require.NoError(t, j.UpsertStatus(ctx, row))
	resumable, err = j.FindAllStrategiesToResume(ctx, key.Broker, key.Environment)
	require.NoError(t, err)
	assert.Len(t, resumable, 0)
}

func TestUpdateHeartbeat_BumpsLastHeartbeat(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	key := testKey()

	require.NoError(t, j.UpsertStatus(ctx, domain.StatusRow{Key: key, Status: domain.StatusActive, LastAction: domain.ActionManualStart, ConfigJSON: "{}"}))
	resetAt := time.Now()
	require.NoError(t, j.UpdateHeartbeat(ctx, key, 3, resetAt))

	row, ok, err := j.StatusFor(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, row.LastHeartbeat)
	assert.Equal(t, 3, row.DailyTrades)
	assert.Equal(t, resetAt.UnixMilli(), row.DailyResetAt.UnixMilli())
}

func TestDerivePnL_LongAndShort(t *testing.T) {
	pnl, pct := DerivePnL(domain.SideBuy, 100, 105, 10)
	assert.InDelta(t, 0.5, pnl, 1e-9)
	assert.InDelta(t, 5.0, pct, 1e-9)

	pnl, pct = DerivePnL(domain.SideSell, 100, 105, 10)
	assert.InDelta(t, -0.5, pnl, 1e-9)
	assert.InDelta(t, -5.0, pct, 1e-9)
}
