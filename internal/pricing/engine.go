// Package pricing implements the share/price allocation algorithms used to
// turn model weights into integer share counts, plus the tick/percent
// order-price adjustment.
package pricing

import (
	"fmt"
	"math"

	"github.com/aristath/helmsman/internal/domain"
)

// Side selects the price-adjustment direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TickPolicy carries the per-side percent and tick adjustments applied to
// a base price before order placement.
type TickPolicy struct {
	BuyPct    float64
	SellPct   float64
	BuyTicks  float64
	SellTicks float64
}

// Asset is one allocation candidate.
type Asset struct {
	Symbol        string
	Weight        float64
	Price         float64
	CurrentShares int64
}

// OptimalShares returns floor(weight*base/price).
// Fails fast with domain.ErrPreconditionFailed on a non-positive price.
func OptimalShares(base, weight, price float64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %.4f", domain.ErrPreconditionFailed, price)
	}
	return int64(math.Floor(weight * base / price)), nil
}

// AdjustPrice applies the strategy's percent and tick adjustment with a
// deterministic 2-decimal floor:
//
//	price' = floor((base*(1+pct) + tick*0.01) * 100) / 100
func AdjustPrice(basePrice float64, side Side, p TickPolicy) float64 {
	pct := p.BuyPct
	tick := p.BuyTicks
	if side == SideSell {
		pct = p.SellPct
		tick = p.SellTicks
	}
	return math.Floor((basePrice*(1+pct)+tick*0.01)*100) / 100
}

// validatePrices fails fast if any allocation candidate carries a
// non-positive price. Zero-weight assets still need valid prices: they are
// force-liquidated, and liquidation legs are priced too.
func validatePrices(assets []Asset) error {
	for _, a := range assets {
		if a.Price <= 0 {
			return fmt.Errorf("%w: %s has non-positive price %.4f", domain.ErrPreconditionFailed, a.Symbol, a.Price)
		}
	}
	return nil
}
