package domain

import (
	"context"
	"time"
)

// AccountAssets is the brokerage "assets" endpoint payload: orderable cash
// plus any foreign-currency cash already reflected separately.
type AccountAssets struct {
	Base              float64 // Orderable KRW-denominated base
	WonExchangeAmount float64 // Pending FX cash already counted elsewhere
}

// AccountStock is one brokerage holding row.
type AccountStock struct {
	Symbol         string
	Shares         int64
	BuyPrice       float64
	EvaluateAmount float64
}

// OrderRequest is a brokerage order placement request.
type OrderRequest struct {
	AccountNumber string
	Symbol        string
	Side          string // "buy" or "sell"
	Shares        int64
	Price         float64
	Currency      string
	ExchangeRate  float64
}

// OrderReply is the brokerage response to a placement or amendment.
type OrderReply struct {
	OrderNo string
	Shares  int64
	Price   float64
}

// AmendRequest amends or cancels an open brokerage order.
type AmendRequest struct {
	AccountNumber string
	OrderNo       string
	Symbol        string
	Shares        int64
	Price         float64
	Cancel        bool
}

// BrokerageClient is the third-party brokerage order API consumed by the
// engine. All calls are synchronous and may block; callers bound them with
// the retry policy rather than per-call deadlines.
type BrokerageClient interface {
	GetAccountAssets(ctx context.Context, accountNumber string) (*AccountAssets, error)
	GetAccountStocks(ctx context.Context, accountNumber string) ([]AccountStock, error)
	GetAccountBalances(ctx context.Context, accountNumber string) (map[string]float64, error)
	GetTradeHistory(ctx context.Context, accountNumber string, executed bool, fromDate time.Time) ([]Trade, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderReply, error)
	AmendOrCancelOrder(ctx context.Context, req AmendRequest) (*OrderReply, error)
}

// MarketDataClient serves quotes and instrument master data, validated
// against a tradable filter (listed, not expired, target nation code).
type MarketDataClient interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]Price, error)
	GetMaster(ctx context.Context, symbols []string) (map[string]Price, error)
	GetClosePricesOnDate(ctx context.Context, symbols []string, date time.Time) (map[string]float64, error)
}

// FXResult is the tagged result both FX API calls expose.
type FXResult struct {
	Status          string
	Message         string
	ExchangeRate    float64
	RequestedAmount float64
	ExchangedAmount float64
}

// FXClient is the brokerage foreign-exchange API.
type FXClient interface {
	GetExchangeableCurrencies(ctx context.Context, accountNumber string) ([]ForeignCurrency, error)
	ConvertUSDToKRW(ctx context.Context, accountNumber string, currency ForeignCurrency) (*FXResult, error)
	GetWonRate(ctx context.Context, date time.Time) (float64, error)
}

// ReportSink receives operator-facing audit trail writes. The engine
// expects no response contract from it.
type ReportSink interface {
	WriteBody(data interface{}, description string)
}

// QueueRepository persists order-run requests. Status writes must be
// atomic with the note update.
type QueueRepository interface {
	Create(q *Queue) error
	Get(id string) (*Queue, error)
	GetActiveByAccount(alias string) (*Queue, error)
	UpdateStatus(id string, status Status, note string) error
}

// OrderLogRepository persists order legs.
type OrderLogRepository interface {
	Create(l *OrderLog) error
	Update(l *OrderLog) error
	GetByQueue(queueID string) ([]OrderLog, error)
	GetByQueueAndStatus(queueID string, status Status) ([]OrderLog, error)
	BulkUpdateStatus(queueID string, from, to Status, concludedAt *time.Time) (int64, error)
}

// AccountRepository reads accounts and writes status changes.
type AccountRepository interface {
	Get(alias string) (*Account, error)
	ListByStatus(statuses ...AccountStatus) ([]Account, error)
	UpdateStatus(alias string, status AccountStatus) error
}

// PortfolioRepository reads model portfolios.
type PortfolioRepository interface {
	Get(id int64) (*ModelPortfolio, error)
}
