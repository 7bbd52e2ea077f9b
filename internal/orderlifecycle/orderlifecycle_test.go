package orderlifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorcore/execution-core/internal/broker"
	"github.com/razorcore/execution-core/internal/broker/paper"
)

func TestReplace_PlacesNewBeforeCancellingOld(t *testing.T) {
	pb := paper.New()
	pb.SetPrice("BTC-PERPETUAL", 50000)
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "old-sl", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true})

	pb.FailCancelFor = map[string]bool{"old-sl": true}

	res, err := Replace(context.Background(), pb, "BTC-PERPETUAL", broker.SideSell, 0.01, 49800, broker.OrderTypeStopMarket, "sl", "old-sl")
	require.NoError(t, err)

	// The new order is live regardless of whether the old one could be cancelled.
	assert.NotEmpty(t, res.NewOrderID)
	assert.False(t, res.OldCancelled)
	assert.Error(t, res.OldCancelErr)
}

func TestReplace_NoOldOrderIDSkipsCancel(t *testing.T) {
	pb := paper.New()
	pb.SetPrice("BTC-PERPETUAL", 50000)

	res, err := Replace(context.Background(), pb, "BTC-PERPETUAL", broker.SideSell, 0.01, 49800, broker.OrderTypeStopMarket, "sl", "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.NewOrderID)
	assert.False(t, res.OldCancelled)
	assert.NoError(t, res.OldCancelErr)
}

func TestCancelIfPresent_EmptyIDIsNoop(t *testing.T) {
	pb := paper.New()
	assert.NoError(t, CancelIfPresent(context.Background(), pb, ""))
}

func TestCancelIfPresent_AlreadyFilledIsNotAnError(t *testing.T) {
	pb := paper.New()
	assert.NoError(t, CancelIfPresent(context.Background(), pb, "never-existed"))
}

func TestSweepOrphans_CancelsOnlyReduceOnlyOrdersNotInKeepSet(t *testing.T) {
	pb := paper.New()
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "keep-me", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true})
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "orphan-1", OrderType: broker.OrderTypeStopMarket, ReduceOnly: true})
	pb.SetOpenOrder("BTC-PERPETUAL", broker.OpenOrder{OrderID: "entry-limit", OrderType: broker.OrderTypeLimit, ReduceOnly: false})

	cancelled, err := SweepOrphans(context.Background(), pb, "BTC-PERPETUAL", map[string]bool{"keep-me": true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orphan-1"}, cancelled)

	remaining, err := pb.GetOpenOrders(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, o := range remaining {
		ids[o.OrderID] = true
	}
	assert.True(t, ids["keep-me"])
	assert.True(t, ids["entry-limit"])
	assert.False(t, ids["orphan-1"])
}
