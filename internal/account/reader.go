// Package account reads the live brokerage state of an account and runs
// the trade-history consistency checksum that gates automated trading.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// StateReader builds a CurrentPortfolio snapshot from the brokerage and
// market-data APIs.
type StateReader struct {
	brokerage  domain.BrokerageClient
	marketData domain.MarketDataClient
	log        zerolog.Logger

	// Orders placed outside this channel code are treated as manual
	// intervention.
	orderChannel string

	// Tickers held for experiments, excluded from both base and positions.
	testbedTickers map[string]bool
}

// NewStateReader creates an account state reader.
func NewStateReader(brokerage domain.BrokerageClient, marketData domain.MarketDataClient, orderChannel string, testbedTickers []string, log zerolog.Logger) *StateReader {
	testbed := make(map[string]bool, len(testbedTickers))
	for _, t := range testbedTickers {
		testbed[t] = true
	}
	return &StateReader{
		brokerage:      brokerage,
		marketData:     marketData,
		orderChannel:   orderChannel,
		testbedTickers: testbed,
		log:            log.With().Str("service", "account").Logger(),
	}
}

// LoadState reads the account's orderable cash and current positions.
// Cash pending foreign-currency settlement is subtracted from the base
// because it is not orderable yet. Testbed tickers are dropped from the
// positions, which keeps their valuation out of the investable base
// without touching the cash figure.
func (r *StateReader) LoadState(ctx context.Context, account *domain.Account) (*domain.CurrentPortfolio, error) {
	assets, err := r.brokerage.GetAccountAssets(ctx, account.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load account assets: %w", err)
	}
	stocks, err := r.brokerage.GetAccountStocks(ctx, account.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load account stocks: %w", err)
	}

	base := assets.Base - assets.WonExchangeAmount
	holdings := make(map[string]domain.Holding, len(stocks))
	for _, s := range stocks {
		if r.testbedTickers[s.Symbol] {
			r.log.Debug().
				Str("account", account.Alias).
				Str("symbol", s.Symbol).
				Float64("evaluate_amount", s.EvaluateAmount).
				Msg("Excluding testbed ticker")
			continue
		}
		holdings[s.Symbol] = domain.Holding{
			Shares:         s.Shares,
			BuyPrice:       s.BuyPrice,
			EvaluateAmount: s.EvaluateAmount,
		}
	}

	r.log.Debug().
		Str("account", account.Alias).
		Float64("base", base).
		Int("positions", len(holdings)).
		Msg("Loaded account state")

	return &domain.CurrentPortfolio{Base: base, Holdings: holdings}, nil
}

// LoadStateForClosing loads the account state for a liquidation run,
// keeping only symbols the market-data master recognizes. Unsupported
// holdings cannot be priced and are left for manual handling.
func (r *StateReader) LoadStateForClosing(ctx context.Context, account *domain.Account) (*domain.CurrentPortfolio, error) {
	state, err := r.LoadState(ctx, account)
	if err != nil {
		return nil, err
	}
	if len(state.Holdings) == 0 {
		return state, nil
	}

	symbols := make([]string, 0, len(state.Holdings))
	for sym := range state.Holdings {
		symbols = append(symbols, sym)
	}
	master, err := r.marketData.GetMaster(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to load instrument master: %w", err)
	}

	for sym := range state.Holdings {
		if _, ok := master[sym]; !ok {
			r.log.Warn().
				Str("account", account.Alias).
				Str("symbol", sym).
				Msg("Dropping unsupported holding from closing run")
			delete(state.Holdings, sym)
		}
	}
	return state, nil
}

// ChecksumTradeHistory verifies no trade since fromDate originated outside
// the automated order channel. A foreign trade means a human touched the
// account and the engine's view of it can no longer be trusted.
func (r *StateReader) ChecksumTradeHistory(ctx context.Context, account *domain.Account, fromDate time.Time) error {
	for _, executed := range []bool{true, false} {
		trades, err := r.brokerage.GetTradeHistory(ctx, account.AccountNumber, executed, fromDate)
		if err != nil {
			return fmt.Errorf("failed to load trade history: %w", err)
		}
		for _, t := range trades {
			if t.Channel != r.orderChannel {
				r.log.Error().
					Str("account", account.Alias).
					Str("symbol", t.Symbol).
					Str("order_no", t.OrderNo).
					Str("channel", t.Channel).
					Msg("Trade from non-automated channel detected")
				return &domain.StopOrderOperationError{
					AccountNumber: account.AccountNumber,
					Reason:        fmt.Sprintf("order %s placed via channel %s", t.OrderNo, t.Channel),
				}
			}
		}
	}
	return nil
}
