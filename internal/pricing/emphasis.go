package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Emphasis decides how leftover cash (after integer-share truncation) is
// distributed across assets. Strategies never return negative share counts
// except when explicitly liquidating a zero-weight holding to zero.
type Emphasis interface {
	Name() string

	// Allocate maps each asset to a target share count within amount.
	Allocate(amount float64, assets []Asset, allowMinusGross bool) (map[string]int64, error)
}

// MaxOptimizedAssets bounds the exhaustive OptimizedDeposit search. The
// enumeration is 2^n; beyond this universe size the strategy refuses to
// run rather than silently burning CPU.
const MaxOptimizedAssets = 20

// Registry maps configured emphasis names to implementations. Names are
// validated at config-load time via ForName rather than at call time.
var registry = map[string]Emphasis{
	"weight_first":      WeightFirst{},
	"optimized_deposit": OptimizedDeposit{},
	"min_deposit":       MinDeposit{},
}

// ForName resolves a configured emphasis strategy name.
func ForName(name string) (Emphasis, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown emphasis strategy %q", name)
	}
	return e, nil
}

// EmphasisNames returns the registered strategy names (for config errors).
func EmphasisNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WeightFirst floors every position, then hands leftover cash to the
// heaviest assets first: sort by (weight desc, price desc) and repeatedly
// add one affordable share until leftover < cheapest asset price.
type WeightFirst struct{}

// Name implements Emphasis.
func (WeightFirst) Name() string { return "weight_first" }

// Allocate implements Emphasis.
func (WeightFirst) Allocate(amount float64, assets []Asset, _ bool) (map[string]int64, error) {
	if err := validatePrices(assets); err != nil {
		return nil, err
	}

	shares := make(map[string]int64, len(assets))
	spent := 0.0
	candidates := make([]Asset, 0, len(assets))
	for _, a := range assets {
		if a.Weight <= 0 {
			shares[a.Symbol] = 0
			continue
		}
		n := int64(math.Floor(a.Weight * amount / a.Price))
		shares[a.Symbol] = n
		spent += float64(n) * a.Price
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return shares, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight > candidates[j].Weight
		}
		return candidates[i].Price > candidates[j].Price
	})

	cheapest := candidates[0].Price
	for _, a := range candidates {
		if a.Price < cheapest {
			cheapest = a.Price
		}
	}

	leftover := amount - spent
	for leftover >= cheapest {
		added := false
		for _, a := range candidates {
			if a.Price <= leftover {
				shares[a.Symbol]++
				leftover -= a.Price
				added = true
				break
			}
		}
		if !added {
			break
		}
	}

	return shares, nil
}

// OptimizedDeposit exhaustively searches {floor, floor+1} share counts per
// asset, keeping the feasible combination (leftover >= 0) that minimizes
// the weighted deviation from the ideal float share counts. Exponential in
// the universe size; capped at MaxOptimizedAssets.
type OptimizedDeposit struct{}

// Name implements Emphasis.
func (OptimizedDeposit) Name() string { return "optimized_deposit" }

// Allocate implements Emphasis.
func (OptimizedDeposit) Allocate(amount float64, assets []Asset, _ bool) (map[string]int64, error) {
	if err := validatePrices(assets); err != nil {
		return nil, err
	}

	shares := make(map[string]int64, len(assets))
	candidates := make([]Asset, 0, len(assets))
	for _, a := range assets {
		if a.Weight <= 0 {
			shares[a.Symbol] = 0
			continue
		}
		candidates = append(candidates, a)
	}
	n := len(candidates)
	if n == 0 {
		return shares, nil
	}
	if n > MaxOptimizedAssets {
		return nil, fmt.Errorf("%w: optimized_deposit supports at most %d assets, got %d",
			domain.ErrPreconditionFailed, MaxOptimizedAssets, n)
	}

	ideal := make([]float64, n)
	base := make([]int64, n)
	for i, a := range candidates {
		ideal[i] = a.Weight * amount / a.Price
		base[i] = int64(math.Floor(ideal[i]))
	}

	bestCost := math.Inf(1)
	var bestCombo uint32
	found := false
	deviations := make([]float64, n)

	for combo := uint32(0); combo < 1<<uint(n); combo++ {
		spent := 0.0
		for i, a := range candidates {
			count := base[i]
			if combo&(1<<uint(i)) != 0 {
				count++
			}
			spent += float64(count) * a.Price
		}
		leftover := amount - spent
		if leftover < 0 {
			continue
		}
		for i, a := range candidates {
			count := base[i]
			if combo&(1<<uint(i)) != 0 {
				count++
			}
			deviations[i] = a.Weight * math.Abs(float64(count)-ideal[i])
		}
		cost := floats.Sum(deviations)
		if cost < bestCost {
			bestCost = cost
			bestCombo = combo
			found = true
		}
	}

	if !found {
		// Even the all-floor combination overspends; fall back to floors
		// clamped at zero so the caller can still liquidate down to them.
		for i, a := range candidates {
			shares[a.Symbol] = base[i]
		}
		return shares, nil
	}

	for i, a := range candidates {
		count := base[i]
		if bestCombo&(1<<uint(i)) != 0 {
			count++
		}
		shares[a.Symbol] = count
	}
	return shares, nil
}

// MinDeposit walks assets in weight order, giving each the share count
// that exhausts its budgeted cash floor and carrying leftover (`rest`)
// forward to the next asset. Zero-weight holdings are force-liquidated.
type MinDeposit struct{}

// Name implements Emphasis.
func (MinDeposit) Name() string { return "min_deposit" }

// Allocate implements Emphasis.
func (MinDeposit) Allocate(amount float64, assets []Asset, allowMinusGross bool) (map[string]int64, error) {
	if err := validatePrices(assets); err != nil {
		return nil, err
	}

	ordered := make([]Asset, len(assets))
	copy(ordered, assets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight > ordered[j].Weight
	})

	shares := make(map[string]int64, len(assets))
	spent := 0.0
	rest := 0.0

	for _, a := range ordered {
		if a.Weight <= 0 {
			shares[a.Symbol] = 0
			continue
		}

		budget := a.Weight*amount + rest
		count := int64(math.Floor(budget / a.Price))
		if count < 0 {
			count = 0
		}

		// Respect the gross spend ceiling unless the account permits a
		// small overshoot.
		if !allowMinusGross {
			for count > 0 && spent+float64(count)*a.Price > amount {
				count--
			}
		}

		shares[a.Symbol] = count
		spent += float64(count) * a.Price
		rest = budget - float64(count)*a.Price
	}

	return shares, nil
}
