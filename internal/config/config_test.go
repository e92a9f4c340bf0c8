package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HELMSMAN_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DefaultEmphasis != "weight_first" {
		t.Errorf("DefaultEmphasis = %q, want weight_first", cfg.DefaultEmphasis)
	}
	if cfg.PlannedSplits != 4 {
		t.Errorf("PlannedSplits = %d, want 4", cfg.PlannedSplits)
	}
	if cfg.StalenessWindow != 10*time.Minute {
		t.Errorf("StalenessWindow = %v, want 10m", cfg.StalenessWindow)
	}
	if cfg.ErrorMsgLimit != 200 {
		t.Errorf("ErrorMsgLimit = %d, want 200", cfg.ErrorMsgLimit)
	}
}

func TestLoadRejectsUnknownEmphasis(t *testing.T) {
	t.Setenv("HELMSMAN_DATA_DIR", t.TempDir())
	t.Setenv("DEFAULT_EMPHASIS", "clever_guess")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject unknown emphasis strategy")
	}
}

func TestLoadParsesTestbedTickers(t *testing.T) {
	t.Setenv("HELMSMAN_DATA_DIR", t.TempDir())
	t.Setenv("TESTBED_TICKERS", "TSLA, AAPL ,,QQQ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := []string{"TSLA", "AAPL", "QQQ"}
	if len(cfg.TestbedTickers) != len(want) {
		t.Fatalf("TestbedTickers = %v, want %v", cfg.TestbedTickers, want)
	}
	for i, s := range want {
		if cfg.TestbedTickers[i] != s {
			t.Errorf("TestbedTickers[%d] = %q, want %q", i, cfg.TestbedTickers[i], s)
		}
	}
}

func TestValidateRejectsFullReserve(t *testing.T) {
	t.Setenv("HELMSMAN_DATA_DIR", t.TempDir())
	t.Setenv("MIN_DEPOSIT_RATIO", "0.6")
	t.Setenv("DEPOSIT_BUFFER_RATIO", "0.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject deposit ratios summing past 1")
	}
}
