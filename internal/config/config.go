// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/pricing"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for the sqlite databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// External API endpoints and credentials
	BrokerageBaseURL   string
	BrokerageAPIKey    string
	BrokerageAPISecret string
	MarketDataBaseURL  string
	FXBaseURL          string

	// Orders placed through this engine carry this channel code; trade
	// history from any other channel halts the account.
	OrderChannel string

	// Tickers held in accounts but not eligible for automated trading.
	TestbedTickers []string

	// Rebalancing thresholds
	SlippageThreshold  float64
	MinDepositRatio    float64
	DepositBufferRatio float64
	DefaultEmphasis    string

	// Order execution
	PlannedSplits   int           // TWAP split count per run
	MinOrderQty     int64         // Smallest chunk worth placing
	StalenessWindow time.Duration // Open orders older than this are amended
	MaxGapBuyPct    float64       // Price drift triggering a buy-side amend
	MaxGapSellPct   float64       // Price drift triggering a sell-side amend
	ErrorMsgLimit   int           // Brokerage error messages truncated to this length

	// Price adjustment
	Ticks pricing.TickPolicy

	// Scheduler cron specs
	RebalanceCron string
	ExchangeCron  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HELMSMAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		BrokerageBaseURL:   getEnv("BROKERAGE_BASE_URL", "https://openapi.brokerage.example"),
		BrokerageAPIKey:    getEnv("BROKERAGE_API_KEY", ""),
		BrokerageAPISecret: getEnv("BROKERAGE_API_SECRET", ""),
		MarketDataBaseURL:  getEnv("MARKET_DATA_BASE_URL", "https://quotes.brokerage.example"),
		FXBaseURL:          getEnv("FX_BASE_URL", "https://fx.brokerage.example"),

		OrderChannel:   getEnv("ORDER_CHANNEL", "43"),
		TestbedTickers: getEnvAsList("TESTBED_TICKERS", nil),

		SlippageThreshold:  getEnvAsFloat("SLIPPAGE_THRESHOLD", 0.05),
		MinDepositRatio:    getEnvAsFloat("MIN_DEPOSIT_RATIO", 0.01),
		DepositBufferRatio: getEnvAsFloat("DEPOSIT_BUFFER_RATIO", 0.02),
		DefaultEmphasis:    getEnv("DEFAULT_EMPHASIS", "weight_first"),

		PlannedSplits:   getEnvAsInt("PLANNED_SPLITS", 4),
		MinOrderQty:     int64(getEnvAsInt("MIN_ORDER_QTY", 1)),
		StalenessWindow: time.Duration(getEnvAsInt("STALENESS_WINDOW_MINUTES", 10)) * time.Minute,
		MaxGapBuyPct:    getEnvAsFloat("MAX_GAP_BUY_PCT", 0.01),
		MaxGapSellPct:   getEnvAsFloat("MAX_GAP_SELL_PCT", 0.01),
		ErrorMsgLimit:   getEnvAsInt("ERROR_MSG_LIMIT", 200),

		Ticks: pricing.TickPolicy{
			BuyPct:    getEnvAsFloat("TICK_BUY_PCT", 0.01),
			SellPct:   getEnvAsFloat("TICK_SELL_PCT", 0.01),
			BuyTicks:  getEnvAsFloat("TICK_BUY_TICKS", 3),
			SellTicks: getEnvAsFloat("TICK_SELL_TICKS", 3),
		},

		RebalanceCron: getEnv("REBALANCE_CRON", "0 0 23 * * MON-FRI"),
		ExchangeCron:  getEnv("EXCHANGE_CRON", "0 30 9 * * MON-FRI"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency. The emphasis strategy name is
// resolved here so a typo fails at startup, not mid-run.
func (c *Config) Validate() error {
	if _, err := pricing.ForName(c.DefaultEmphasis); err != nil {
		return fmt.Errorf("DEFAULT_EMPHASIS: %w (known: %s)", err, strings.Join(pricing.EmphasisNames(), ", "))
	}
	if c.SlippageThreshold < 0 {
		return fmt.Errorf("SLIPPAGE_THRESHOLD must be >= 0, got %v", c.SlippageThreshold)
	}
	if c.MinDepositRatio+c.DepositBufferRatio >= 1 {
		return fmt.Errorf("deposit ratios reserve the whole base: min=%v buffer=%v", c.MinDepositRatio, c.DepositBufferRatio)
	}
	if c.PlannedSplits < 1 {
		return fmt.Errorf("PLANNED_SPLITS must be >= 1, got %d", c.PlannedSplits)
	}
	if c.ErrorMsgLimit < 1 {
		return fmt.Errorf("ERROR_MSG_LIMIT must be >= 1, got %d", c.ErrorMsgLimit)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
