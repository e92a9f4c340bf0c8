// Package domain holds the broker-agnostic types shared by the rebalancing
// and order execution engine. The domain layer is pure: no infrastructure
// dependencies beyond the standard library.
package domain

import "time"

// AccountStatus describes the administrative state of a client account.
// Accounts are created and owned elsewhere; this engine reads them and
// mutates only the status (currency exchange and order completion events).
type AccountStatus string

const (
	AccountNormal             AccountStatus = "normal"
	AccountSuspended          AccountStatus = "suspended"
	AccountSellWaiting        AccountStatus = "sell_waiting"
	AccountSellCompleted      AccountStatus = "sell_completed"
	AccountExchangeInProgress AccountStatus = "exchange_in_progress"
	AccountExchangeSucceeded  AccountStatus = "exchange_succeeded"
	AccountExchangeFailed     AccountStatus = "exchange_failed"
	AccountCanceled           AccountStatus = "canceled"
)

// Account is a client brokerage account (read-mostly here).
type Account struct {
	Alias         string        // Internal account alias
	AccountNumber string        // Brokerage account number
	Vendor        string        // Brokerage vendor code
	Status        AccountStatus
	AccountType   string  // e.g. "etf"
	RiskGrade     int     // Risk/strategy attribute
	Emphasis      string  // Allocation emphasis strategy name
	PortfolioID   int64   // Assigned model portfolio
	AllowMinusGross bool  // Permit spend slightly above the input amount
}

// ModelPortfolio maps symbol -> target weight. Weights are >= 0 and
// conventionally sum to <= 1; the remainder is cash.
type ModelPortfolio struct {
	ID      int64
	Name    string
	Weights map[string]float64
}

// Holding is one current position derived from brokerage holdings.
type Holding struct {
	Shares         int64
	BuyPrice       float64
	EvaluateAmount float64
	Weight         float64 // EvaluateAmount / maxOrderBase
}

// CurrentPortfolio maps symbol -> holding for one account.
type CurrentPortfolio struct {
	Base     float64 // Orderable cash after FX and testbed adjustments
	Holdings map[string]Holding
}

// OrderMode distinguishes the kind of order run.
type OrderMode string

const (
	ModeSell OrderMode = "sell" // Full liquidation
	ModeBid  OrderMode = "bid"  // Buy legs of a rebalance
	ModeAsk  OrderMode = "ask"  // Sell legs of a rebalance
)

// BasketRow is the per-symbol entry of an order basket.
type BasketRow struct {
	Shares    int64   `msgpack:"shares"`     // Target share count
	NewShares int64   `msgpack:"new_shares"` // Delta versus current (sign follows mode)
	KRWPrice  float64 `msgpack:"krw_price"`
	USDPrice  float64 `msgpack:"usd_price"`
	BuyPrice  float64 `msgpack:"buy_price"`
}

// OrderBasket maps symbol -> basket row. Built fresh per run and persisted
// only as a blob on the owning Queue.
type OrderBasket map[string]BasketRow

// Queue is one order-execution run for an account. Mutated only through
// the lifecycle state machine; never deleted, only transitioned to a
// terminal status.
type Queue struct {
	ID           string // UUID
	AccountAlias string
	PortfolioID  int64
	Mode         OrderMode
	Status       Status
	Basket       OrderBasket
	Note         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LegType identifies the brokerage action an OrderLog row records.
type LegType string

const (
	LegBidRegister LegType = "bid_register"
	LegBidAmend    LegType = "bid_amend"
	LegBidCancel   LegType = "bid_cancel"
	LegAskRegister LegType = "ask_register"
	LegAskAmend    LegType = "ask_amend"
	LegAskCancel   LegType = "ask_cancel"
)

// OrderLog is one order leg attempt (symbol + action) within a Queue.
// Immutable once terminal.
type OrderLog struct {
	ID          int64
	QueueID     string
	Symbol      string
	Type        LegType
	Status      Status
	OrderNo     string // Brokerage order number, unique once assigned
	Shares      int64
	OrderPrice  float64
	MarketPrice float64
	ConcludedAt *time.Time
	ErrorMsg    string
	CreatedAt   time.Time
}

// ForeignCurrency is the transient value object returned by the FX query
// API.
type ForeignCurrency struct {
	CurrencyCode   string
	ExchangeAmount float64
	ExchangeRate   float64
}

// ExchangeResult is the outcome of one currency-exchange workflow run.
type ExchangeResult struct {
	Exchanged       bool
	CurrencyCode    string
	ExchangeRate    float64
	RequestedAmount float64
	ExchangedAmount float64
	Message         string
}

// Price is one market-data quote used for basket construction.
type Price struct {
	Symbol     string
	Last       float64 // Last traded price (USD)
	PrevClose  float64
	KRWPrice   float64 // Last converted at the won rate
	NationCode string
	Listed     bool
	Expired    bool
}

// Trade is one row of brokerage trade history, used by the consistency
// checksum.
type Trade struct {
	OrderNo   string
	Symbol    string
	Side      string
	Shares    int64
	Price     float64
	Channel   string // Originating order channel code
	TradedAt  time.Time
	Settled   bool
}
