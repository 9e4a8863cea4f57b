// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MMBOT_* environment variables, using a
// load-then-validate pattern.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure; field names mirror the configuration schema verbatim so a
// reviewer can check one against the other without a translation table.
type Config struct {
	Exchange string `mapstructure:"exchange"`
	Symbol   string `mapstructure:"symbol"`
	DryRun   bool   `mapstructure:"dry_run"`

	TickIntervalMs             int64 `mapstructure:"tick_interval_ms"`
	StaleCancelMs              int64 `mapstructure:"stale_cancel_ms"`
	BboThrottleMs              int64 `mapstructure:"bbo_throttle_ms"`
	BboMinChangeBps            float64 `mapstructure:"bbo_min_change_bps"`
	LatestTopUpsertIntervalMs  int64 `mapstructure:"latest_top_upsert_interval_ms"`
	StateSnapshotIntervalMs    int64 `mapstructure:"state_snapshot_interval_ms"`
	EventFlushIntervalMs       int64 `mapstructure:"event_flush_interval_ms"`

	ProposalApplyBoundaryMinutes      int64   `mapstructure:"proposal_apply_boundary_minutes"`
	ProposalApplyBoundaryGraceSeconds int64   `mapstructure:"proposal_apply_boundary_grace_seconds"`
	MaxPauseCountForApply             int     `mapstructure:"max_pause_count_for_apply"`
	MinMarkout10sP50ForApply          float64 `mapstructure:"min_markout_10s_p50_for_apply"`

	ReflectionIntervalMs    int64  `mapstructure:"reflection_interval_ms"`
	ReflectionWindowMinutes int64  `mapstructure:"reflection_window_minutes"`
	LogDir                  string `mapstructure:"log_dir"`
	Model                   string `mapstructure:"model"`

	Adapter   AdapterConfig   `mapstructure:"adapter"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

// LLMConfig holds the reflector client's endpoint and credentials. APIKey is
// left empty in the file and supplied via MMBOT_LLM_API_KEY.
type LLMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMs int64  `mapstructure:"timeout_ms"`
}

// AdapterConfig holds the market-data/trading adapter endpoints and
// credentials. Secrets are left empty in the file and supplied via env.
type AdapterConfig struct {
	WSMarketURL string `mapstructure:"ws_market_url"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
	APIKey      string `mapstructure:"api_key"`
}

// StoreConfig sets where the SQLite persistence store lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only status dashboard.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// defaults mirrors what v.SetDefault populates before the file is read, so a
// minimal config file only needs to set exchange/symbol/adapter endpoints.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval_ms", 250)
	v.SetDefault("stale_cancel_ms", 3000)
	v.SetDefault("bbo_throttle_ms", 200)
	v.SetDefault("bbo_min_change_bps", 1.0)
	v.SetDefault("latest_top_upsert_interval_ms", 1000)
	v.SetDefault("state_snapshot_interval_ms", 5000)
	v.SetDefault("event_flush_interval_ms", 1000)
	v.SetDefault("proposal_apply_boundary_minutes", 5)
	v.SetDefault("proposal_apply_boundary_grace_seconds", 30)
	v.SetDefault("max_pause_count_for_apply", 3)
	v.SetDefault("min_markout_10s_p50_for_apply", -2.0)
	v.SetDefault("reflection_interval_ms", 15*60*1000)
	v.SetDefault("reflection_window_minutes", 60)
	v.SetDefault("log_dir", "./data/logs")
	v.SetDefault("model", "default")
	v.SetDefault("store.path", "./data/mmbot.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)
	v.SetDefault("llm.timeout_ms", 30000)
}

// Load reads config from a YAML file with env var overrides.
// Secrets use env vars: MMBOT_ADAPTER_API_KEY, MMBOT_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MMBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MMBOT_ADAPTER_API_KEY"); key != "" {
		cfg.Adapter.APIKey = key
	}
	if key := os.Getenv("MMBOT_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if os.Getenv("MMBOT_DRY_RUN") == "true" || os.Getenv("MMBOT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges — the load-time
// schema check the configuration contract requires every field pass.
func (c *Config) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Adapter.WSMarketURL == "" {
		return fmt.Errorf("adapter.ws_market_url is required")
	}
	if c.Adapter.RESTBaseURL == "" {
		return fmt.Errorf("adapter.rest_base_url is required")
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if c.StaleCancelMs <= 0 {
		return fmt.Errorf("stale_cancel_ms must be > 0")
	}
	if c.BboThrottleMs < 0 {
		return fmt.Errorf("bbo_throttle_ms must be >= 0")
	}
	if c.BboMinChangeBps < 0 {
		return fmt.Errorf("bbo_min_change_bps must be >= 0")
	}
	if c.LatestTopUpsertIntervalMs <= 0 {
		return fmt.Errorf("latest_top_upsert_interval_ms must be > 0")
	}
	if c.StateSnapshotIntervalMs <= 0 {
		return fmt.Errorf("state_snapshot_interval_ms must be > 0")
	}
	if c.EventFlushIntervalMs <= 0 {
		return fmt.Errorf("event_flush_interval_ms must be > 0")
	}
	if c.ProposalApplyBoundaryMinutes <= 0 {
		return fmt.Errorf("proposal_apply_boundary_minutes must be > 0")
	}
	if c.ProposalApplyBoundaryGraceSeconds < 0 {
		return fmt.Errorf("proposal_apply_boundary_grace_seconds must be >= 0")
	}
	if c.MaxPauseCountForApply < 0 {
		return fmt.Errorf("max_pause_count_for_apply must be >= 0")
	}
	if c.ReflectionIntervalMs <= 0 {
		return fmt.Errorf("reflection_interval_ms must be > 0")
	}
	if c.ReflectionWindowMinutes <= 0 {
		return fmt.Errorf("reflection_window_minutes must be > 0")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.TimeoutMs <= 0 {
		return fmt.Errorf("llm.timeout_ms must be > 0")
	}
	return nil
}
