package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razorcore/execution-core/internal/xerrors"
)

func TestRoundToStep_RoundsDown(t *testing.T) {
	assert.Equal(t, 1.23, RoundToStep(1.239, 0.01))
}

func TestRoundToTick_RoundsToNearest(t *testing.T) {
	assert.Equal(t, 1000.5, RoundToTick(1000.26, 0.5))
	assert.Equal(t, 995.0, RoundToTick(994.8, 0.5))
}

func TestSize_Basic(t *testing.T) {
	res, err := Size(Request{NotionalUSD: 100, Price: 1000, StepSize: 0.001, Equity: 1000, LeverageCap: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.Amount, 1e-9)
}

func TestSize_LeverageCapDownsizes(t *testing.T) {
	res, err := Size(Request{NotionalUSD: 100_000, Price: 1000, StepSize: 0.001, Equity: 1000, LeverageCap: 10})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.ImpliedNotional, 10_000.0+1e-6)
	assert.Equal(t, "leverage_cap", res.LimitingFactor)
}

func TestSize_HardCapOverridesBrokerCap(t *testing.T) {
	res, err := Size(Request{NotionalUSD: 100_000, Price: 1000, StepSize: 0.001, Equity: 100, LeverageCap: 1000})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.ImpliedNotional, HardLeverageCap*100.0+1e-6)
}

func TestSize_InsufficientMargin(t *testing.T) {
	_, err := Size(Request{NotionalUSD: 1000, Price: 1000, StepSize: 0.001, Equity: 1_000_000, LeverageCap: 50, AvailableMargin: 1})
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.KindValidation))
}

func TestSize_AmountTooSmall(t *testing.T) {
	_, err := Size(Request{NotionalUSD: 0.0000001, Price: 1000, StepSize: 0.01, Equity: 1000, LeverageCap: 10})
	require.Error(t, err)
}
