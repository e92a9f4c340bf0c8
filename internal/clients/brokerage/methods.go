package brokerage

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// Wire types for the vendor API. The vendor speaks snake_case JSON with
// string-encoded account numbers.

type assetsResponse struct {
	Base              float64 `json:"base"`
	WonExchangeAmount float64 `json:"won_exchange_amount"`
}

type stockRow struct {
	Symbol         string  `json:"symbol"`
	Shares         int64   `json:"shares"`
	BuyPrice       float64 `json:"buy_price"`
	EvaluateAmount float64 `json:"evaluate_amount"`
}

type balancesResponse struct {
	Balances []struct {
		Currency string  `json:"currency"`
		Amount   float64 `json:"amount"`
	} `json:"balances"`
}

type tradeRow struct {
	OrderNo  string  `json:"order_no"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Shares   int64   `json:"shares"`
	Price    float64 `json:"price"`
	Channel  string  `json:"channel"`
	TradedAt string  `json:"traded_at"`
	Settled  bool    `json:"settled"`
}

type orderResponse struct {
	OrderNo string  `json:"order_no"`
	Shares  int64   `json:"shares"`
	Price   float64 `json:"price"`
	Message string  `json:"message"`
}

// GetAccountAssets returns the account's orderable cash and any
// foreign-currency cash already reflected separately.
func (c *Client) GetAccountAssets(ctx context.Context, accountNumber string) (*domain.AccountAssets, error) {
	var resp assetsResponse
	params := map[string]string{"account_number": accountNumber}
	if err := c.request(ctx, "/v1/accounts/assets", params, &resp); err != nil {
		return nil, err
	}
	return &domain.AccountAssets{
		Base:              resp.Base,
		WonExchangeAmount: resp.WonExchangeAmount,
	}, nil
}

// GetAccountStocks returns the account's current holdings.
func (c *Client) GetAccountStocks(ctx context.Context, accountNumber string) ([]domain.AccountStock, error) {
	var resp struct {
		Stocks []stockRow `json:"stocks"`
	}
	params := map[string]string{"account_number": accountNumber}
	if err := c.request(ctx, "/v1/accounts/stocks", params, &resp); err != nil {
		return nil, err
	}

	stocks := make([]domain.AccountStock, 0, len(resp.Stocks))
	for _, s := range resp.Stocks {
		stocks = append(stocks, domain.AccountStock{
			Symbol:         s.Symbol,
			Shares:         s.Shares,
			BuyPrice:       s.BuyPrice,
			EvaluateAmount: s.EvaluateAmount,
		})
	}
	return stocks, nil
}

// GetAccountBalances returns per-currency cash balances.
func (c *Client) GetAccountBalances(ctx context.Context, accountNumber string) (map[string]float64, error) {
	var resp balancesResponse
	params := map[string]string{"account_number": accountNumber}
	if err := c.request(ctx, "/v1/accounts/balances", params, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]float64, len(resp.Balances))
	for _, b := range resp.Balances {
		balances[b.Currency] = b.Amount
	}
	return balances, nil
}

// GetTradeHistory returns trades from fromDate, filtered by execution
// state.
func (c *Client) GetTradeHistory(ctx context.Context, accountNumber string, executed bool, fromDate time.Time) ([]domain.Trade, error) {
	var resp struct {
		Trades []tradeRow `json:"trades"`
	}
	params := map[string]interface{}{
		"account_number": accountNumber,
		"executed":       executed,
		"from_date":      fromDate.Format("2006-01-02"),
	}
	if err := c.request(ctx, "/v1/accounts/trades", params, &resp); err != nil {
		return nil, err
	}

	trades := make([]domain.Trade, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		tradedAt, err := time.Parse(time.RFC3339, t.TradedAt)
		if err != nil {
			// Vendor sometimes omits the zone
			tradedAt, err = time.Parse("2006-01-02T15:04:05", t.TradedAt)
			if err != nil {
				c.log.Warn().
					Str("order_no", t.OrderNo).
					Str("traded_at", t.TradedAt).
					Msg("Unparseable trade timestamp")
			}
		}
		trades = append(trades, domain.Trade{
			OrderNo:  t.OrderNo,
			Symbol:   t.Symbol,
			Side:     t.Side,
			Shares:   t.Shares,
			Price:    t.Price,
			Channel:  t.Channel,
			TradedAt: tradedAt,
			Settled:  t.Settled,
		})
	}
	return trades, nil
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderReply, error) {
	var resp orderResponse
	params := map[string]interface{}{
		"account_number": req.AccountNumber,
		"symbol":         req.Symbol,
		"side":           req.Side,
		"shares":         req.Shares,
		"price":          req.Price,
		"currency":       req.Currency,
		"exchange_rate":  req.ExchangeRate,
	}
	if err := c.request(ctx, "/v1/orders", params, &resp); err != nil {
		return nil, err
	}
	if resp.OrderNo == "" {
		return nil, fmt.Errorf("order for %s rejected: %s", req.Symbol, resp.Message)
	}

	c.log.Info().
		Str("order_no", resp.OrderNo).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Int64("shares", req.Shares).
		Float64("price", req.Price).
		Msg("Order placed")

	return &domain.OrderReply{OrderNo: resp.OrderNo, Shares: resp.Shares, Price: resp.Price}, nil
}

// AmendOrCancelOrder amends an open order, or cancels it when req.Cancel
// is set.
func (c *Client) AmendOrCancelOrder(ctx context.Context, req domain.AmendRequest) (*domain.OrderReply, error) {
	var resp orderResponse
	params := map[string]interface{}{
		"account_number": req.AccountNumber,
		"order_no":       req.OrderNo,
		"symbol":         req.Symbol,
		"shares":         req.Shares,
		"price":          req.Price,
		"cancel":         req.Cancel,
	}
	if err := c.request(ctx, "/v1/orders/amend", params, &resp); err != nil {
		return nil, err
	}
	if resp.OrderNo == "" {
		return nil, fmt.Errorf("amend for order %s rejected: %s", req.OrderNo, resp.Message)
	}
	return &domain.OrderReply{OrderNo: resp.OrderNo, Shares: resp.Shares, Price: resp.Price}, nil
}
