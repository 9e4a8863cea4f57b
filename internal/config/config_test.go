package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const minimalYAML = `
exchange: binance
symbol: BTC-PERP
adapter:
  ws_market_url: wss://example.invalid/ws
  rest_base_url: https://example.invalid
llm:
  base_url: https://example.invalid/v1
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickIntervalMs != 250 {
		t.Errorf("TickIntervalMs = %d, want default 250", cfg.TickIntervalMs)
	}
	if cfg.ReflectionWindowMinutes != 60 {
		t.Errorf("ReflectionWindowMinutes = %d, want default 60", cfg.ReflectionWindowMinutes)
	}
	if cfg.Model != "default" {
		t.Errorf("Model = %q, want default", cfg.Model)
	}
	if cfg.Store.Path == "" {
		t.Error("expected a default store path")
	}
	if cfg.LLM.TimeoutMs != 30000 {
		t.Errorf("LLM.TimeoutMs = %d, want default 30000", cfg.LLM.TimeoutMs)
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	path := writeConfigFile(t, `
symbol: BTC-PERP
adapter:
  ws_market_url: wss://example.invalid/ws
  rest_base_url: https://example.invalid
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config missing exchange")
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	t.Setenv("MMBOT_ADAPTER_API_KEY", "secret-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Adapter.APIKey != "secret-key" {
		t.Errorf("Adapter.APIKey = %q, want secret-key", cfg.Adapter.APIKey)
	}
}

func TestLoadDryRunFromEnv(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	t.Setenv("MMBOT_DRY_RUN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected DryRun to be true from MMBOT_DRY_RUN=true")
	}
}

func TestValidateRejectsNonPositiveTickInterval(t *testing.T) {
	cfg := &Config{
		Exchange: "binance", Symbol: "BTC-PERP",
		Adapter:                          AdapterConfig{WSMarketURL: "wss://x", RESTBaseURL: "https://x"},
		TickIntervalMs:                   0,
		StaleCancelMs:                    1,
		LatestTopUpsertIntervalMs:        1,
		StateSnapshotIntervalMs:          1,
		EventFlushIntervalMs:             1,
		ProposalApplyBoundaryMinutes:     1,
		ReflectionIntervalMs:             1,
		ReflectionWindowMinutes:          1,
		LogDir:                           "./logs",
		Model:                            "default",
		Store:                            StoreConfig{Path: "./x.db"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject tick_interval_ms=0")
	}
}
