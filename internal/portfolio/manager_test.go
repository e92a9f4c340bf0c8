package portfolio

import (
	"errors"
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/pricing"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/rs/zerolog"
)

func testLog() zerolog.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func TestMaxOrderBase(t *testing.T) {
	tests := []struct {
		name          string
		base          float64
		minDeposit    float64
		depositBuffer float64
		want          float64
	}{
		{"five percent reserved", 10000, 0.03, 0.02, 9500},
		{"nothing reserved", 10000, 0, 0, 10000},
		{"heavy reserve", 10000, 0.2, 0.1, 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxOrderBase(tt.base, tt.minDeposit, tt.depositBuffer)
			if got != tt.want {
				t.Errorf("MaxOrderBase(%v, %v, %v) = %v, want %v", tt.base, tt.minDeposit, tt.depositBuffer, got, tt.want)
			}
		})
	}
}

func TestIsRebalancingConditionMet(t *testing.T) {
	target := map[string]float64{"AAA": 0.6, "BBB": 0.4}
	current := map[string]float64{"AAA": 0.5, "BBB": 0.5}

	tests := []struct {
		name      string
		current   map[string]float64
		target    map[string]float64
		threshold float64
		want      bool
	}{
		// Slippage on AAA is 0.1
		{"slippage exceeds threshold", current, target, 0.05, true},
		{"slippage below threshold", current, target, 0.15, false},
		{"exactly at threshold is not met", current, target, 0.1, false},
		{"identical portfolios", target, target, 0.01, false},
		{
			"deposit gap triggers",
			map[string]float64{"AAA": 0.45, "BBB": 0.45}, // 10% cash
			map[string]float64{"AAA": 0.5, "BBB": 0.5},   // 0% cash
			0.07,
			true,
		},
		{
			"symbol only in target counts",
			map[string]float64{"AAA": 0.5},
			map[string]float64{"AAA": 0.5, "NEW": 0.2},
			0.1,
			true,
		},
		{
			"symbol only in current counts",
			map[string]float64{"AAA": 0.5, "OLD": 0.3},
			map[string]float64{"AAA": 0.5},
			0.2,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRebalancingConditionMet(tt.current, tt.target, tt.threshold)
			if got != tt.want {
				t.Errorf("IsRebalancingConditionMet(threshold=%v) = %v, want %v", tt.threshold, got, tt.want)
			}
		})
	}
}

func TestCalcRebalancingPortfolio(t *testing.T) {
	m := NewManager(testLog())
	weights := map[string]float64{"AAA": 0.6, "BBB": 0.4, "ZERO": 0}
	prices := map[string]float64{"AAA": 100, "BBB": 50, "ZERO": 10}

	target, err := m.CalcRebalancingPortfolio(1000, weights, prices, pricing.WeightFirst{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := target["ZERO"]; ok {
		t.Error("zero-weight symbol must be filtered out")
	}
	if target["AAA"].Shares != 6 {
		t.Errorf("AAA shares = %d, want 6", target["AAA"].Shares)
	}
	if target["BBB"].Shares != 8 {
		t.Errorf("BBB shares = %d, want 8", target["BBB"].Shares)
	}
	if target["AAA"].Weight != 0.6 {
		t.Errorf("AAA weight = %v, want 0.6", target["AAA"].Weight)
	}
}

func TestCalcRebalancingPortfolioMissingPrice(t *testing.T) {
	m := NewManager(testLog())
	weights := map[string]float64{"AAA": 0.6}
	_, err := m.CalcRebalancingPortfolio(1000, weights, map[string]float64{}, pricing.WeightFirst{}, false)
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestCalcRebalancingPortfolioNoSymbols(t *testing.T) {
	m := NewManager(testLog())
	_, err := m.CalcRebalancingPortfolio(1000, map[string]float64{"AAA": 0}, map[string]float64{"AAA": 10}, pricing.WeightFirst{}, false)
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}
