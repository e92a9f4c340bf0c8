// Package fx implements the USD to KRW currency exchange workflow, run as
// an independent per-account job outside the order cycle.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/retry"
	"github.com/rs/zerolog"
)

// convertRetry bounds the convert call. Only the transient class (rate
// changed between query and apply, retryable API failure) is retried.
var convertRetry = retry.Policy{
	MaxAttempts: 3,
	Base:        time.Second,
	Min:         time.Second,
	Max:         20 * time.Second,
	Retryable:   domain.IsRetryable,
}

// Policy decides which accounts a workflow run touches and which account
// status writes bracket the exchange.
type Policy interface {
	Name() string
	Eligible(account *domain.Account) bool
	// OnEmpty and OnNegative fire when there is nothing to exchange.
	OnEmpty(account *domain.Account, accounts domain.AccountRepository) error
	OnNegative(account *domain.Account, accounts domain.AccountRepository) error
	// BeforeConvert and AfterConvert bracket a positive-amount exchange.
	BeforeConvert(account *domain.Account, accounts domain.AccountRepository) error
	AfterConvert(account *domain.Account, accounts domain.AccountRepository) error
	// GuaranteeExit returns a deferred cleanup relative to the account's
	// pre-operation status, or nil when the policy does not persist status.
	GuaranteeExit(account *domain.Account, accounts domain.AccountRepository) func()
}

// NormalPolicy exchanges for active ETF accounts and never mutates the
// account's status.
type NormalPolicy struct{}

func (NormalPolicy) Name() string { return "normal" }

func (NormalPolicy) Eligible(account *domain.Account) bool {
	return account.AccountType == "etf" && account.Status == domain.AccountNormal
}

func (NormalPolicy) OnEmpty(*domain.Account, domain.AccountRepository) error    { return nil }
func (NormalPolicy) OnNegative(*domain.Account, domain.AccountRepository) error { return nil }
func (NormalPolicy) BeforeConvert(*domain.Account, domain.AccountRepository) error {
	return nil
}
func (NormalPolicy) AfterConvert(*domain.Account, domain.AccountRepository) error { return nil }
func (NormalPolicy) GuaranteeExit(*domain.Account, domain.AccountRepository) func() {
	return nil
}

// ClosingPolicy drives the exchange leg of account liquidation. Every
// exit path persists an account status derived from where the flow
// stopped, so a crash mid-flow never loses track of the account.
type ClosingPolicy struct {
	Log zerolog.Logger
}

func (ClosingPolicy) Name() string { return "closing" }

func (ClosingPolicy) Eligible(account *domain.Account) bool {
	if account.AccountType != "etf" {
		return false
	}
	switch account.Status {
	case domain.AccountSellCompleted, domain.AccountExchangeInProgress, domain.AccountExchangeFailed:
		return true
	}
	return false
}

func (ClosingPolicy) OnEmpty(account *domain.Account, accounts domain.AccountRepository) error {
	return setStatus(account, accounts, domain.AccountExchangeSucceeded)
}

func (ClosingPolicy) OnNegative(account *domain.Account, accounts domain.AccountRepository) error {
	return setStatus(account, accounts, domain.AccountExchangeFailed)
}

func (ClosingPolicy) BeforeConvert(account *domain.Account, accounts domain.AccountRepository) error {
	return setStatus(account, accounts, domain.AccountExchangeInProgress)
}

func (ClosingPolicy) AfterConvert(account *domain.Account, accounts domain.AccountRepository) error {
	return setStatus(account, accounts, domain.AccountExchangeSucceeded)
}

// GuaranteeExit re-persists the account's current in-memory status on
// exit. If the flow mutated the status along the way, the last write
// sticks; if it errored before any mutation, the pre-operation status is
// written back unchanged.
func (p ClosingPolicy) GuaranteeExit(account *domain.Account, accounts domain.AccountRepository) func() {
	return func() {
		if err := accounts.UpdateStatus(account.Alias, account.Status); err != nil {
			p.Log.Error().Err(err).
				Str("account", account.Alias).
				Str("status", string(account.Status)).
				Msg("Failed to persist account status on exchange exit")
		}
	}
}

func setStatus(account *domain.Account, accounts domain.AccountRepository, status domain.AccountStatus) error {
	if err := accounts.UpdateStatus(account.Alias, status); err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	account.Status = status
	return nil
}

// Exchanger runs the currency exchange workflow for one account.
type Exchanger struct {
	fxClient domain.FXClient
	accounts domain.AccountRepository
	report   domain.ReportSink
	log      zerolog.Logger
}

// NewExchanger creates a currency exchanger.
func NewExchanger(fxClient domain.FXClient, accounts domain.AccountRepository, report domain.ReportSink, log zerolog.Logger) *Exchanger {
	return &Exchanger{
		fxClient: fxClient,
		accounts: accounts,
		report:   report,
		log:      log.With().Str("service", "fx").Logger(),
	}
}

// Exchange converts the account's exchangeable USD to KRW under the given
// policy: query the exchangeable amount, bail out on non-positive amounts
// with the policy's status side effect, otherwise convert with bounded
// retry on the transient class only.
func (e *Exchanger) Exchange(ctx context.Context, policy Policy, account *domain.Account) (*domain.ExchangeResult, error) {
	if !policy.Eligible(account) {
		return nil, fmt.Errorf("%w: account %s not eligible under %s policy", domain.ErrNotExchangeable, account.Alias, policy.Name())
	}

	if exit := policy.GuaranteeExit(account, e.accounts); exit != nil {
		defer exit()
	}

	currencies, err := e.fxClient.GetExchangeableCurrencies(ctx, account.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchangeable currencies: %w", err)
	}
	e.report.WriteBody(currencies, "exchangeable currency query")

	usd := findUSD(currencies)
	switch {
	case usd == nil || usd.ExchangeAmount == 0:
		if err := policy.OnEmpty(account, e.accounts); err != nil {
			return nil, err
		}
		return &domain.ExchangeResult{Exchanged: false, CurrencyCode: "USD", Message: "no exchangeable amount"}, nil
	case usd.ExchangeAmount < 0:
		if err := policy.OnNegative(account, e.accounts); err != nil {
			return nil, err
		}
		return &domain.ExchangeResult{
			Exchanged:       false,
			CurrencyCode:    usd.CurrencyCode,
			RequestedAmount: usd.ExchangeAmount,
			Message:         "negative exchangeable amount",
		}, nil
	}

	if err := policy.BeforeConvert(account, e.accounts); err != nil {
		return nil, err
	}

	var result *domain.FXResult
	err = retry.Do(ctx, convertRetry, func() error {
		var convErr error
		result, convErr = e.fxClient.ConvertUSDToKRW(ctx, account.AccountNumber, *usd)
		return convErr
	})
	if err != nil {
		return nil, fmt.Errorf("convert failed for account %s: %w", account.Alias, err)
	}
	e.report.WriteBody(result, "currency conversion")

	if err := policy.AfterConvert(account, e.accounts); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("account", account.Alias).
		Str("policy", policy.Name()).
		Float64("requested", result.RequestedAmount).
		Float64("exchanged", result.ExchangedAmount).
		Float64("rate", result.ExchangeRate).
		Msg("Currency exchanged")

	return &domain.ExchangeResult{
		Exchanged:       true,
		CurrencyCode:    usd.CurrencyCode,
		ExchangeRate:    result.ExchangeRate,
		RequestedAmount: result.RequestedAmount,
		ExchangedAmount: result.ExchangedAmount,
		Message:         result.Message,
	}, nil
}

// ExchangeAll runs the workflow over all accounts eligible under the
// policy. One account's failure never aborts the rest.
func (e *Exchanger) ExchangeAll(ctx context.Context, policy Policy, statuses ...domain.AccountStatus) error {
	accounts, err := e.accounts.ListByStatus(statuses...)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	for i := range accounts {
		account := &accounts[i]
		if !policy.Eligible(account) {
			continue
		}
		if _, err := e.Exchange(ctx, policy, account); err != nil {
			e.log.Error().Err(err).
				Str("account", account.Alias).
				Str("policy", policy.Name()).
				Msg("Exchange failed")
		}
	}
	return nil
}

func findUSD(currencies []domain.ForeignCurrency) *domain.ForeignCurrency {
	for i := range currencies {
		if currencies[i].CurrencyCode == "USD" {
			return &currencies[i]
		}
	}
	return nil
}
