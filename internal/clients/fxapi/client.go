// Package fxapi implements the brokerage foreign-exchange API client used
// by the currency exchange workflow.
package fxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/clientdata"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// inconsistentRateCode is the vendor message signaling that the quoted
// rate changed between query and apply. The only business-level condition
// worth retrying.
const inconsistentRateCode = "FX_RATE_INCONSISTENT"

// errorStatusMarker flags a failed call inside an HTTP 200 envelope.
const errorStatusMarker = "error"

// Client for the FX API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

var _ domain.FXClient = (*Client)(nil)

// NewClient creates a new FX API client.
// cacheRepo is optional - if nil, rate memoization is disabled.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("client", "fxapi").Logger(),
		cacheRepo:  cacheRepo,
	}
}

type fxEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetExchangeableCurrencies returns the account's exchangeable
// foreign-currency amounts. A negative amount means the account owes in
// that currency and cannot exchange.
func (c *Client) GetExchangeableCurrencies(ctx context.Context, accountNumber string) ([]domain.ForeignCurrency, error) {
	var resp struct {
		fxEnvelope
		Currencies []struct {
			CurrencyCode   string  `json:"currency_code"`
			ExchangeAmount float64 `json:"exchange_amount"`
			ExchangeRate   float64 `json:"exchange_rate"`
		} `json:"currencies"`
	}
	params := map[string]string{"account_number": accountNumber}
	if err := c.post(ctx, "/v1/fx/exchangeable", params, &resp); err != nil {
		return nil, err
	}
	if err := classify(resp.fxEnvelope); err != nil {
		return nil, err
	}

	currencies := make([]domain.ForeignCurrency, 0, len(resp.Currencies))
	for _, cur := range resp.Currencies {
		currencies = append(currencies, domain.ForeignCurrency{
			CurrencyCode:   cur.CurrencyCode,
			ExchangeAmount: cur.ExchangeAmount,
			ExchangeRate:   cur.ExchangeRate,
		})
	}
	return currencies, nil
}

// ConvertUSDToKRW applies the conversion. An inconsistent-rate response
// comes back as a retryable error; other vendor errors propagate as-is.
func (c *Client) ConvertUSDToKRW(ctx context.Context, accountNumber string, currency domain.ForeignCurrency) (*domain.FXResult, error) {
	var resp struct {
		fxEnvelope
		ExchangeRate    float64 `json:"exchange_rate"`
		RequestedAmount float64 `json:"requested_amount"`
		ExchangedAmount float64 `json:"exchanged_amount"`
	}
	params := map[string]interface{}{
		"account_number": accountNumber,
		"currency_code":  currency.CurrencyCode,
		"amount":         currency.ExchangeAmount,
		"exchange_rate":  currency.ExchangeRate,
	}
	if err := c.post(ctx, "/v1/fx/convert", params, &resp); err != nil {
		return nil, err
	}
	if err := classify(resp.fxEnvelope); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("account", accountNumber).
		Str("currency", currency.CurrencyCode).
		Float64("requested", resp.RequestedAmount).
		Float64("exchanged", resp.ExchangedAmount).
		Float64("rate", resp.ExchangeRate).
		Msg("Currency converted")

	return &domain.FXResult{
		Status:          resp.Status,
		Message:         resp.Message,
		ExchangeRate:    resp.ExchangeRate,
		RequestedAmount: resp.RequestedAmount,
		ExchangedAmount: resp.ExchangedAmount,
	}, nil
}

// GetWonRate returns the USD→KRW reference rate for a date, memoized per
// (API base, date) with a TTL well under typical market-rate drift.
func (c *Client) GetWonRate(ctx context.Context, date time.Time) (float64, error) {
	cacheKey := c.baseURL + ":" + date.Format("2006-01-02")

	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("exchange_rates", cacheKey)
		if err == nil && data != nil {
			var cached struct {
				Rate float64 `json:"rate"`
			}
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached.Rate, nil
			}
		}
	}

	var resp struct {
		fxEnvelope
		Rate float64 `json:"rate"`
	}
	params := map[string]string{"date": date.Format("2006-01-02")}
	if err := c.post(ctx, "/v1/fx/rate", params, &resp); err != nil {
		return 0, err
	}
	if err := classify(resp.fxEnvelope); err != nil {
		return 0, err
	}
	if resp.Rate <= 0 {
		return 0, fmt.Errorf("invalid won rate: %f", resp.Rate)
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("exchange_rates", cacheKey, map[string]float64{"rate": resp.Rate}, clientdata.TTLExchangeRate); err != nil {
			c.log.Warn().Err(err).Msg("Failed to cache won rate")
		}
	}

	return resp.Rate, nil
}

// classify maps a vendor result envelope to an error. A status containing
// the error marker fails the call; the inconsistent-rate message code is
// the designated transient class.
func classify(env fxEnvelope) error {
	if !strings.Contains(strings.ToLower(env.Status), errorStatusMarker) {
		return nil
	}
	if env.Message == inconsistentRateCode {
		return domain.Retryable(fmt.Errorf("fx rate inconsistent at apply time"))
	}
	return fmt.Errorf("fx api error: %s", env.Message)
}

func (c *Client) post(ctx context.Context, path string, params, out interface{}) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Retryable(fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Retryable(fmt.Errorf("failed to read %s response: %w", path, err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.Retryable(fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
