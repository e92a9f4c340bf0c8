// Package marketdata implements the market data API client with a
// cache-first price lookup. Price reads within one run window hit the
// short-TTL cache; instrument master data is cached for a day.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/helmsman/internal/clientdata"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Client for the market data API.
type Client struct {
	baseURL    string
	nationCode string // Only instruments from this nation are tradable
	httpClient *http.Client
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

var _ domain.MarketDataClient = (*Client)(nil)

// NewClient creates a new market data client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL, nationCode string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		nationCode: nationCode,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("client", "marketdata").Logger(),
		cacheRepo:  cacheRepo,
	}
}

type priceRow struct {
	Symbol     string  `json:"symbol"`
	Last       float64 `json:"last"`
	PrevClose  float64 `json:"prev_close"`
	KRWPrice   float64 `json:"krw_price"`
	NationCode string  `json:"nation_code"`
	Listed     bool    `json:"listed"`
	Expired    bool    `json:"expired"`
}

func (r priceRow) toDomain() domain.Price {
	return domain.Price{
		Symbol:     r.Symbol,
		Last:       r.Last,
		PrevClose:  r.PrevClose,
		KRWPrice:   r.KRWPrice,
		NationCode: r.NationCode,
		Listed:     r.Listed,
		Expired:    r.Expired,
	}
}

// tradable is the filter applied to every quote and master row. Untradable
// symbols are dropped from results rather than failing the batch.
func (c *Client) tradable(p domain.Price) bool {
	return p.Listed && !p.Expired && p.NationCode == c.nationCode
}

// GetPrices returns current prices for symbols, cache-first with a
// 10-minute TTL. Untradable symbols are excluded.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]domain.Price, error) {
	result := make(map[string]domain.Price, len(symbols))
	var missing []string

	for _, symbol := range symbols {
		if c.cacheRepo == nil {
			missing = append(missing, symbol)
			continue
		}
		data, err := c.cacheRepo.GetIfFresh("current_prices", symbol)
		if err != nil || data == nil {
			missing = append(missing, symbol)
			continue
		}
		var row priceRow
		if err := json.Unmarshal(data, &row); err != nil {
			missing = append(missing, symbol)
			continue
		}
		p := row.toDomain()
		if c.tradable(p) {
			result[symbol] = p
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	var resp struct {
		Prices []priceRow `json:"prices"`
	}
	if err := c.post(ctx, "/v1/prices", map[string]interface{}{"symbols": missing}, &resp); err != nil {
		return nil, err
	}

	for _, row := range resp.Prices {
		p := row.toDomain()
		if c.cacheRepo != nil {
			if err := c.cacheRepo.Store("current_prices", row.Symbol, row, clientdata.TTLCurrentPrice); err != nil {
				c.log.Warn().Err(err).Str("symbol", row.Symbol).Msg("Failed to cache price")
			}
		}
		if c.tradable(p) {
			result[row.Symbol] = p
		} else {
			c.log.Debug().
				Str("symbol", row.Symbol).
				Bool("listed", p.Listed).
				Bool("expired", p.Expired).
				Str("nation", p.NationCode).
				Msg("Symbol fails tradable filter")
		}
	}

	return result, nil
}

// GetMaster returns instrument master rows (day-long TTL), untradable
// symbols excluded. Liquidation flows use this to skip unsupported
// holdings instead of blocking on them.
func (c *Client) GetMaster(ctx context.Context, symbols []string) (map[string]domain.Price, error) {
	result := make(map[string]domain.Price, len(symbols))
	var missing []string

	for _, symbol := range symbols {
		if c.cacheRepo == nil {
			missing = append(missing, symbol)
			continue
		}
		data, err := c.cacheRepo.GetIfFresh("masters", symbol)
		if err != nil || data == nil {
			missing = append(missing, symbol)
			continue
		}
		var row priceRow
		if err := json.Unmarshal(data, &row); err != nil {
			missing = append(missing, symbol)
			continue
		}
		if p := row.toDomain(); c.tradable(p) {
			result[symbol] = p
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	var resp struct {
		Masters []priceRow `json:"masters"`
	}
	if err := c.post(ctx, "/v1/masters", map[string]interface{}{"symbols": missing}, &resp); err != nil {
		return nil, err
	}

	for _, row := range resp.Masters {
		if c.cacheRepo != nil {
			if err := c.cacheRepo.Store("masters", row.Symbol, row, clientdata.TTLMaster); err != nil {
				c.log.Warn().Err(err).Str("symbol", row.Symbol).Msg("Failed to cache master")
			}
		}
		if p := row.toDomain(); c.tradable(p) {
			result[row.Symbol] = p
		}
	}

	return result, nil
}

// GetClosePricesOnDate returns closing prices on a given date. Not cached:
// callers use it rarely and for varying dates.
func (c *Client) GetClosePricesOnDate(ctx context.Context, symbols []string, date time.Time) (map[string]float64, error) {
	var resp struct {
		Closes []struct {
			Symbol string  `json:"symbol"`
			Close  float64 `json:"close"`
		} `json:"closes"`
	}
	params := map[string]interface{}{
		"symbols": symbols,
		"date":    date.Format("2006-01-02"),
	}
	if err := c.post(ctx, "/v1/closes", params, &resp); err != nil {
		return nil, err
	}

	result := make(map[string]float64, len(resp.Closes))
	for _, row := range resp.Closes {
		result[row.Symbol] = row.Close
	}
	return result, nil
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
