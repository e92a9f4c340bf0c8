package fxapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/clientdata"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testCounter int64

func testCacheRepo(t *testing.T) *clientdata.Repository {
	t.Helper()
	n := atomic.AddInt64(&testCounter, 1)
	dsn := fmt.Sprintf("file:fxapi_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), n)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	repo, err := clientdata.NewRepository(db)
	require.NoError(t, err)
	return repo
}

func TestGetExchangeableCurrencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/fx/exchangeable", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12345678", req["account_number"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"currencies": []map[string]interface{}{
				{"currency_code": "USD", "exchange_amount": 1500.50, "exchange_rate": 1350.0},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, zerolog.Nop())
	currencies, err := client.GetExchangeableCurrencies(context.Background(), "12345678")
	require.NoError(t, err)
	require.Len(t, currencies, 1)
	assert.Equal(t, "USD", currencies[0].CurrencyCode)
	assert.Equal(t, 1500.50, currencies[0].ExchangeAmount)
	assert.Equal(t, 1350.0, currencies[0].ExchangeRate)
}

func TestConvertUSDToKRW(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/fx/convert", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "success",
			"exchange_rate":    1352.5,
			"requested_amount": 1000.0,
			"exchanged_amount": 1352500.0,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, zerolog.Nop())
	result, err := client.ConvertUSDToKRW(context.Background(), "12345678", domain.ForeignCurrency{
		CurrencyCode:   "USD",
		ExchangeAmount: 1000.0,
		ExchangeRate:   1352.5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1352500.0, result.ExchangedAmount)
	assert.Equal(t, 1352.5, result.ExchangeRate)
}

func TestConvertInconsistentRateIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": "FX_RATE_INCONSISTENT",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, zerolog.Nop())
	_, err := client.ConvertUSDToKRW(context.Background(), "12345678", domain.ForeignCurrency{CurrencyCode: "USD"})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestConvertVendorErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": "INSUFFICIENT_BALANCE",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, zerolog.Nop())
	_, err := client.ConvertUSDToKRW(context.Background(), "12345678", domain.ForeignCurrency{CurrencyCode: "USD"})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "INSUFFICIENT_BALANCE")
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil, zerolog.Nop())
	_, err := client.GetExchangeableCurrencies(context.Background(), "12345678")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestGetWonRateMemoized(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"rate":   1351.2,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCacheRepo(t), zerolog.Nop())
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rate, err := client.GetWonRate(context.Background(), date)
		require.NoError(t, err)
		assert.Equal(t, 1351.2, rate)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}
