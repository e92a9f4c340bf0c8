// Package portfolio computes target-vs-current portfolio deltas and the
// slippage test that decides whether a rebalancing run is warranted.
package portfolio

import (
	"fmt"
	"math"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/pricing"
	"github.com/rs/zerolog"
)

// TargetPosition is one row of a computed rebalancing portfolio.
type TargetPosition struct {
	Shares int64
	Price  float64
	Weight float64 // price*shares / maxOrderBase
}

// Manager computes rebalancing portfolios.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a portfolio manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("service", "portfolio").Logger()}
}

// MaxOrderBase reduces the account base by the reserved cash fractions.
func MaxOrderBase(accountBase, minDepositRatio, depositBufferRatio float64) float64 {
	return accountBase * (1 - (minDepositRatio + depositBufferRatio))
}

// CalcRebalancingPortfolio turns model weights into integer share targets
// within maxOrderBase, delegating leftover-cash distribution to the
// account's emphasis strategy. Zero-weight symbols are dropped before
// allocation; the basket builder liquidates their holdings separately.
func (m *Manager) CalcRebalancingPortfolio(
	maxOrderBase float64,
	weights map[string]float64,
	prices map[string]float64,
	emphasis pricing.Emphasis,
	allowMinusGross bool,
) (map[string]TargetPosition, error) {
	assets := make([]pricing.Asset, 0, len(weights))
	for symbol, weight := range weights {
		if weight <= 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			return nil, fmt.Errorf("%w: no valid price for %s", domain.ErrPreconditionFailed, symbol)
		}
		assets = append(assets, pricing.Asset{Symbol: symbol, Weight: weight, Price: price})
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no positively weighted symbols", domain.ErrPreconditionFailed)
	}

	shares, err := emphasis.Allocate(maxOrderBase, assets, allowMinusGross)
	if err != nil {
		return nil, fmt.Errorf("emphasis %s: %w", emphasis.Name(), err)
	}

	target := make(map[string]TargetPosition, len(assets))
	for _, a := range assets {
		n := shares[a.Symbol]
		target[a.Symbol] = TargetPosition{
			Shares: n,
			Price:  a.Price,
			Weight: a.Price * float64(n) / maxOrderBase,
		}
	}

	m.log.Debug().
		Int("symbols", len(target)).
		Float64("max_order_base", maxOrderBase).
		Str("emphasis", emphasis.Name()).
		Msg("Computed rebalancing portfolio")

	return target, nil
}

// IsRebalancingConditionMet reports whether any per-symbol weight slippage
// or the deposit gap strictly exceeds the threshold. Exactly-at-threshold
// deviations do not trigger a run.
func IsRebalancingConditionMet(current, target map[string]float64, threshold float64) bool {
	symbols := make(map[string]bool, len(current)+len(target))
	for s := range current {
		symbols[s] = true
	}
	for s := range target {
		symbols[s] = true
	}

	var currentSum, targetSum float64
	for s := range symbols {
		cw := current[s]
		tw := target[s]
		currentSum += cw
		targetSum += tw
		if math.Abs(tw-cw) > threshold {
			return true
		}
	}

	depositGap := math.Abs((1 - targetSum) - (1 - currentSum))
	return depositGap > threshold
}
