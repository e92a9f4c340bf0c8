// Package orders builds order baskets and orchestrates their execution
// against the brokerage API: placement, TWAP-style splitting, amendment
// and cancellation, with one OrderLog row per leg attempt.
package orders

import (
	"fmt"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/portfolio"
	"github.com/rs/zerolog"
)

// BasketBuilder turns a computed target portfolio into per-symbol share
// deltas for one execution run.
type BasketBuilder struct {
	log zerolog.Logger
}

// NewBasketBuilder creates a basket builder.
func NewBasketBuilder(log zerolog.Logger) *BasketBuilder {
	return &BasketBuilder{log: log.With().Str("service", "basket").Logger()}
}

// Build computes the order basket for a run. mode=sell liquidates every
// current holding regardless of target; bid keeps positive deltas and ask
// keeps negative ones, so a basket's signs are always consistent with its
// mode. Symbols whose delta is exactly zero are skipped.
//
// Holdings absent from the target (zero or removed weight) count as
// target-zero and show up as ask/sell deltas.
func (b *BasketBuilder) Build(
	mode domain.OrderMode,
	current *domain.CurrentPortfolio,
	target map[string]portfolio.TargetPosition,
	prices map[string]domain.Price,
) (domain.OrderBasket, error) {
	basket := make(domain.OrderBasket)

	if mode == domain.ModeSell {
		for symbol, holding := range current.Holdings {
			if holding.Shares == 0 {
				continue
			}
			price, ok := prices[symbol]
			if !ok {
				return nil, fmt.Errorf("%w: no price for %s", domain.ErrPreconditionFailed, symbol)
			}
			basket[symbol] = domain.BasketRow{
				Shares:    0,
				NewShares: -holding.Shares,
				KRWPrice:  price.KRWPrice,
				USDPrice:  price.Last,
				BuyPrice:  holding.BuyPrice,
			}
		}
		return basket, nil
	}

	symbols := make(map[string]bool, len(current.Holdings)+len(target))
	for s := range current.Holdings {
		symbols[s] = true
	}
	for s := range target {
		symbols[s] = true
	}

	for symbol := range symbols {
		holding := current.Holdings[symbol]
		pos := target[symbol]
		delta := pos.Shares - holding.Shares
		if delta == 0 {
			continue
		}
		if mode == domain.ModeBid && delta < 0 {
			continue
		}
		if mode == domain.ModeAsk && delta > 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: no price for %s", domain.ErrPreconditionFailed, symbol)
		}
		basket[symbol] = domain.BasketRow{
			Shares:    pos.Shares,
			NewShares: delta,
			KRWPrice:  price.KRWPrice,
			USDPrice:  price.Last,
			BuyPrice:  holding.BuyPrice,
		}
	}

	b.log.Debug().
		Str("mode", string(mode)).
		Int("symbols", len(basket)).
		Msg("Built order basket")

	return basket, nil
}

// ChunkQty sizes the next executable chunk of a split order:
//
//	qty = min(remaining, max(total/plannedSplits, remaining/remainingSplits, minQty))
//
// Splitting large orders across cycles limits market impact; the second
// term catches up when earlier cycles under-filled.
func ChunkQty(total, remaining int64, plannedSplits, remainingSplits int, minQty int64) int64 {
	if remaining <= 0 {
		return 0
	}
	if plannedSplits < 1 {
		plannedSplits = 1
	}
	if remainingSplits < 1 {
		remainingSplits = 1
	}
	orgTwap := total / int64(plannedSplits)
	newTwap := remaining / int64(remainingSplits)

	qty := orgTwap
	if newTwap > qty {
		qty = newTwap
	}
	if minQty > qty {
		qty = minQty
	}
	if qty > remaining {
		qty = remaining
	}
	return qty
}
