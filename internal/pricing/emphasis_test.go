package pricing

import (
	"errors"
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForName(t *testing.T) {
	for _, name := range []string{"weight_first", "optimized_deposit", "min_deposit"} {
		e, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}

	_, err := ForName("does_not_exist")
	assert.Error(t, err)
}

func TestWeightFirstExactFit(t *testing.T) {
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.6, Price: 100},
		{Symbol: "BBB", Weight: 0.4, Price: 50},
	}
	shares, err := WeightFirst{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(6), shares["AAA"])
	assert.Equal(t, int64(8), shares["BBB"])
}

func TestWeightFirstDistributesLeftover(t *testing.T) {
	// Floors spend 700 of 1000. The leftover 300 goes to the heaviest
	// (price breaks the weight tie), so AAA gets one extra share.
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.5, Price: 300},
		{Symbol: "BBB", Weight: 0.5, Price: 200},
	}
	shares, err := WeightFirst{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), shares["AAA"])
	assert.Equal(t, int64(2), shares["BBB"])

	spent := float64(shares["AAA"])*300 + float64(shares["BBB"])*200
	assert.LessOrEqual(t, spent, 1000.0)
}

func TestWeightFirstZeroWeightLiquidates(t *testing.T) {
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.5, Price: 100},
		{Symbol: "OLD", Weight: 0, Price: 10, CurrentShares: 7},
	}
	shares, err := WeightFirst{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), shares["OLD"])
}

func TestWeightFirstInvalidPrice(t *testing.T) {
	assets := []Asset{{Symbol: "AAA", Weight: 0.5, Price: 0}}
	_, err := WeightFirst{}.Allocate(1000, assets, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPreconditionFailed))
}

func TestOptimizedDepositPicksMinimalDeviation(t *testing.T) {
	// Ideals: AAA 1.667, BBB 1.25. Feasible combinations and their
	// weighted deviations put (2, 1) ahead of the all-floor (1, 1).
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.5, Price: 300},
		{Symbol: "BBB", Weight: 0.5, Price: 200},
	}
	shares, err := OptimizedDeposit{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), shares["AAA"])
	assert.Equal(t, int64(1), shares["BBB"])
}

func TestOptimizedDepositExactFit(t *testing.T) {
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.6, Price: 100},
		{Symbol: "BBB", Weight: 0.4, Price: 50},
	}
	shares, err := OptimizedDeposit{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(6), shares["AAA"])
	assert.Equal(t, int64(8), shares["BBB"])
}

func TestOptimizedDepositUniverseCap(t *testing.T) {
	assets := make([]Asset, MaxOptimizedAssets+1)
	for i := range assets {
		assets[i] = Asset{Symbol: string(rune('A' + i)), Weight: 0.01, Price: 10}
	}
	_, err := OptimizedDeposit{}.Allocate(1000, assets, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPreconditionFailed))
}

func TestMinDepositCarryForward(t *testing.T) {
	// AAA budget 600 buys 2x250 leaving rest 100, which tops up BBB's
	// budget to 500 and buys a third share.
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.6, Price: 250},
		{Symbol: "BBB", Weight: 0.4, Price: 150},
	}
	shares, err := MinDeposit{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), shares["AAA"])
	assert.Equal(t, int64(3), shares["BBB"])
}

func TestMinDepositRespectsGrossCeiling(t *testing.T) {
	// Weights oversubscribe the amount; without allow_minus_gross the
	// second asset is clamped to the remaining cash.
	assets := []Asset{
		{Symbol: "AAA", Weight: 0.7, Price: 10},
		{Symbol: "BBB", Weight: 0.7, Price: 10},
	}

	shares, err := MinDeposit{}.Allocate(100, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), shares["AAA"])
	assert.Equal(t, int64(3), shares["BBB"])

	shares, err = MinDeposit{}.Allocate(100, assets, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), shares["AAA"])
	assert.Equal(t, int64(7), shares["BBB"])
}

func TestMinDepositZeroWeightLiquidates(t *testing.T) {
	assets := []Asset{
		{Symbol: "AAA", Weight: 1.0, Price: 100},
		{Symbol: "OLD", Weight: 0, Price: 25, CurrentShares: 4},
	}
	shares, err := MinDeposit{}.Allocate(1000, assets, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), shares["AAA"])
	assert.Equal(t, int64(0), shares["OLD"])
}

// Every strategy must return non-negative integer share counts for every
// positively weighted symbol, across a spread of weight vectors.
func TestEmphasisNonNegativeShares(t *testing.T) {
	cases := [][]Asset{
		{{Symbol: "A", Weight: 0.3, Price: 17.5}, {Symbol: "B", Weight: 0.3, Price: 230}, {Symbol: "C", Weight: 0.2, Price: 3.2}},
		{{Symbol: "A", Weight: 1.0, Price: 999}},
		{{Symbol: "A", Weight: 0.05, Price: 42}, {Symbol: "B", Weight: 0.95, Price: 42}},
		{{Symbol: "A", Weight: 0.5, Price: 10000}, {Symbol: "B", Weight: 0.5, Price: 0.01}},
	}

	for name := range registry {
		e, err := ForName(name)
		require.NoError(t, err)
		for _, assets := range cases {
			shares, err := e.Allocate(500, assets, false)
			require.NoError(t, err, "strategy %s", name)
			for _, a := range assets {
				if a.Weight > 0 {
					assert.GreaterOrEqual(t, shares[a.Symbol], int64(0), "strategy %s symbol %s", name, a.Symbol)
				}
			}
		}
	}
}
