// Package config loads the governance core's structured configuration
// file, overriding secret-bearing fields from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly onto the config
// file's section structure (spec.md §6).
type Config struct {
	Hyperliquid   HyperliquidConfig   `mapstructure:"hyperliquid"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Governance    GovernanceConfig    `mapstructure:"governance"`
	Signals       SignalsConfig       `mapstructure:"signals"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Assets        []AssetConfig       `mapstructure:"assets"`
}

// AssetConfig identifies one tradable coin's canonical symbol and its
// venue-specific aliases, feeding account.IdentityRegistry.Hydrate.
type AssetConfig struct {
	CanonicalSymbol string   `mapstructure:"canonical_symbol"`
	WalletAlias     string   `mapstructure:"wallet_alias"`
	PerpAlias       string   `mapstructure:"perp_alias"`
	SpotAliases     []string `mapstructure:"spot_aliases"`
	DefaultQuote    string   `mapstructure:"default_quote"`
}

// HyperliquidConfig holds venue account credentials and connection
// settings.
type HyperliquidConfig struct {
	Account string `mapstructure:"account"`
	Secret  string `mapstructure:"secret"`
	BaseURL string `mapstructure:"base_url"`
}

// LLMConfig configures the Oracle's backing model call.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Key         string  `mapstructure:"key"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AgentConfig sets the top-level run loop's own behavior (distinct from
// the Scheduler's per-loop cadences, which live under Governance).
type AgentConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Retries      int           `mapstructure:"retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	LogLevel     string        `mapstructure:"log_level"`
}

// RiskConfig bounds the funding planner and Executor safety behavior.
type RiskConfig struct {
	EnableAutoTransfers      bool    `mapstructure:"enable_auto_transfers"`
	TargetInitialMarginRatio float64 `mapstructure:"target_initial_margin_ratio"`
	MinPerpBalanceUSD        float64 `mapstructure:"min_perp_balance_usd"`
	TargetSpotUSDCBufferUSD  float64 `mapstructure:"target_spot_usdc_buffer_usd"`
	MinOrderNotional         float64 `mapstructure:"min_order_notional"`
}

// GovernanceConfig bundles the Governor, Regime Detector, Tripwire
// Service, and Scheduler loop-interval parameters under one section.
type GovernanceConfig struct {
	MinimumAdvantageOverCostBps float64 `mapstructure:"minimum_advantage_over_cost_bps"`
	MinimumDwellMinutes         float64 `mapstructure:"minimum_dwell_minutes"`
	CooldownAfterChangeMinutes float64  `mapstructure:"cooldown_after_change_minutes"`
	PartialRotationPctPerCycle float64  `mapstructure:"partial_rotation_pct_per_cycle"`
	StatePersistencePath       string   `mapstructure:"state_persistence_path"`

	ConfirmationCyclesRequired int           `mapstructure:"confirmation_cycles_required"`
	HysteresisEnterThreshold   float64       `mapstructure:"hysteresis_enter_threshold"`
	HysteresisExitThreshold    float64       `mapstructure:"hysteresis_exit_threshold"`
	EventLockWindowBefore      time.Duration `mapstructure:"event_lock_window_before"`
	EventLockWindowAfter       time.Duration `mapstructure:"event_lock_window_after"`

	MinMarginRatio                float64 `mapstructure:"min_margin_ratio"`
	LiquidationProximityThreshold float64 `mapstructure:"liquidation_proximity_threshold"`
	DailyLossLimitPct             float64 `mapstructure:"daily_loss_limit_pct"`
	CheckInvalidationTriggers     bool    `mapstructure:"check_invalidation_triggers"`
	MaxDataStalenessSeconds       float64 `mapstructure:"max_data_staleness_seconds"`
	MaxAPIFailureCount            int64   `mapstructure:"max_api_failure_count"`
	EmergencyReductionPct         float64 `mapstructure:"emergency_reduction_pct"`

	FastLoopInterval   time.Duration `mapstructure:"fast_loop_interval"`
	MediumLoopInterval time.Duration `mapstructure:"medium_loop_interval"`
	SlowLoopInterval   time.Duration `mapstructure:"slow_loop_interval"`
}

// SignalsConfig configures the Orchestrator/Processor's provider timeouts
// and cache backing store, plus per-provider enable/ttl blocks.
type SignalsConfig struct {
	FastDeadline   time.Duration                    `mapstructure:"fast_deadline"`
	MediumDeadline time.Duration                    `mapstructure:"medium_deadline"`
	SlowDeadline   time.Duration                    `mapstructure:"slow_deadline"`
	CacheDBPath    string                           `mapstructure:"cache_db_path"`
	Providers      map[string]ProviderSignalConfig  `mapstructure:"providers"`
}

// ProviderSignalConfig is one provider's enable flag and cache TTL.
type ProviderSignalConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ObservabilityConfig controls the metrics/status HTTP surface.
type ObservabilityConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from a file (YAML/TOML/JSON, detected by extension)
// with environment overrides. A local .env is loaded first (if present)
// so secrets can be supplied without exporting them into the shell.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // no .env file is not an error

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.retries", 3)
	v.SetDefault("agent.backoff_base", "500ms")
	v.SetDefault("governance.fast_loop_interval", "10s")
	v.SetDefault("governance.medium_loop_interval", "30m")
	v.SetDefault("governance.slow_loop_interval", "24h")
	v.SetDefault("governance.minimum_advantage_over_cost_bps", 50.0)
	v.SetDefault("governance.cooldown_after_change_minutes", 60.0)
	v.SetDefault("governance.partial_rotation_pct_per_cycle", 25.0)
	v.SetDefault("governance.confirmation_cycles_required", 3)
	v.SetDefault("governance.hysteresis_enter_threshold", 0.7)
	v.SetDefault("governance.hysteresis_exit_threshold", 0.4)
	v.SetDefault("governance.event_lock_window_before", "2h")
	v.SetDefault("governance.event_lock_window_after", "1h")
	v.SetDefault("governance.min_margin_ratio", 0.15)
	v.SetDefault("governance.liquidation_proximity_threshold", 0.25)
	v.SetDefault("governance.daily_loss_limit_pct", 5.0)
	v.SetDefault("governance.check_invalidation_triggers", true)
	v.SetDefault("governance.max_data_staleness_seconds", 300.0)
	v.SetDefault("governance.max_api_failure_count", 3)
	v.SetDefault("governance.emergency_reduction_pct", 50.0)
	v.SetDefault("risk.target_initial_margin_ratio", 1.25)
	v.SetDefault("risk.min_perp_balance_usd", 50.0)
	v.SetDefault("risk.target_spot_usdc_buffer_usd", 25.0)
	v.SetDefault("signals.fast_deadline", "5s")
	v.SetDefault("signals.medium_deadline", "15s")
	v.SetDefault("signals.slow_deadline", "30s")
	v.SetDefault("signals.cache_db_path", "state/cache.db")
	v.SetDefault("observability.enabled", true)
	v.SetDefault("observability.addr", ":9090")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
}

// applyEnvOverrides handles the secret-bearing fields spec.md §6 calls out
// by name, on top of viper's automatic GOV_* binding.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Agent.LogLevel = v
	}
	if v := os.Getenv("HYPERLIQUID_SECRET"); v != "" {
		cfg.Hyperliquid.Secret = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.Key = v
	}
}

// Validate checks required fields, failing startup with a precise
// message rather than proceeding on a half-populated config.
func (c *Config) Validate() error {
	if c.Hyperliquid.Account == "" {
		return fmt.Errorf("hyperliquid.account is required")
	}
	if c.Hyperliquid.BaseURL == "" {
		return fmt.Errorf("hyperliquid.base_url is required")
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Governance.StatePersistencePath == "" {
		return fmt.Errorf("governance.state_persistence_path is required")
	}
	return nil
}
