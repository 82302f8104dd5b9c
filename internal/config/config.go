// Package config defines all configuration for the trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PM_* environment variables. Venue
// credentials may alternatively live in a JSON credentials file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun      bool              `mapstructure:"dry_run"`
	Mode        string            `mapstructure:"mode"` // "paper" or "live"
	Database    DatabaseConfig    `mapstructure:"database"`
	API         APIConfig         `mapstructure:"api"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Exit        ExitConfig        `mapstructure:"exit"`
	Tiers       TierConfig        `mapstructure:"tiers"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

// APIConfig holds venue endpoints.
type APIConfig struct {
	CLOBBaseURL    string        `mapstructure:"clob_base_url"`
	GammaBaseURL   string        `mapstructure:"gamma_base_url"`
	WSMarketURL    string        `mapstructure:"ws_market_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// CredentialsConfig points at the JSON credentials file. Fields present in
// the file override the inline values; env vars override both.
type CredentialsConfig struct {
	Path       string `mapstructure:"path"`
	ApiKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"api_passphrase"`
}

// WalletConfig holds the signing wallet. PrivateKey signs L1 (EIP-712) auth
// and order payloads. Funder may differ from the signer when using a proxy.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	SignatureType int    `mapstructure:"signature_type"`
}

// IngestConfig controls the trade poller and universe fetcher.
type IngestConfig struct {
	TradePollInterval time.Duration `mapstructure:"trade_poll_interval"`
	MaxTradeAge       time.Duration `mapstructure:"max_trade_age"` // trades older than this are dropped
	PageSize          int           `mapstructure:"page_size"`
	PageDelay         time.Duration `mapstructure:"page_delay"` // min inter-page delay
	EventQueueSize    int           `mapstructure:"event_queue_size"`
}

// PipelineConfig tunes the trigger pipeline and watchlist.
type PipelineConfig struct {
	Thresholds         []float64     `mapstructure:"thresholds"` // e.g. [0.95, 0.97]
	MinTimeToEndHours  float64       `mapstructure:"min_time_to_end_hours"`
	ExecutionThreshold float64       `mapstructure:"execution_threshold"` // watchlist promote
	WatchlistMin       float64       `mapstructure:"watchlist_min"`       // watchlist expire
	RescoreInterval    time.Duration `mapstructure:"rescore_interval"`
}

// ExecutionConfig sets order and balance limits.
type ExecutionConfig struct {
	MaxBuyPrice      float64       `mapstructure:"max_buy_price"`
	OrderSizeUSD     float64       `mapstructure:"order_size_usd"`
	PaperBalanceUSD  float64       `mapstructure:"paper_balance_usd"`
	MinReserve       float64       `mapstructure:"min_reserve"`
	BalanceStaleness time.Duration `mapstructure:"balance_staleness"`
	ReservationTTL   time.Duration `mapstructure:"reservation_ttl"`
	ReconcileEvery   time.Duration `mapstructure:"reconcile_every"`
}

// ExitConfig sets the exit-rule thresholds, evaluated per open position.
type ExitConfig struct {
	ProfitTarget     float64       `mapstructure:"profit_target"`
	StopLoss         float64       `mapstructure:"stop_loss"`
	TimeExitHours    float64       `mapstructure:"time_exit_hours"`
	HoldHoursDefault float64       `mapstructure:"hold_hours_default"` // imported positions
	EvaluateEvery    time.Duration `mapstructure:"evaluate_every"`
}

// TierConfig controls universe tier capacities and hysteresis.
// Promote scores must exceed demote scores so markets don't churn.
type TierConfig struct {
	CycleInterval        time.Duration `mapstructure:"cycle_interval"`
	Tier2Max             int           `mapstructure:"tier_2_max"`
	Tier3Max             int           `mapstructure:"tier_3_max"`
	PromoteToTier2Score  float64       `mapstructure:"promote_to_tier_2_score"`
	PromoteToTier3Score  float64       `mapstructure:"promote_to_tier_3_score"`
	DemoteFromTier3Score float64       `mapstructure:"demote_from_tier_3_score"`
	DemoteFromTier2Score float64       `mapstructure:"demote_from_tier_2_score"`
	Tier3InactivityHours float64       `mapstructure:"tier_3_inactivity_hours"`
	Tier2LowScoreDays    float64       `mapstructure:"tier_2_low_score_days"`
}

// SyncConfig controls the full and price-only sync loops.
type SyncConfig struct {
	FullInterval  time.Duration `mapstructure:"full_interval"`
	PriceInterval time.Duration `mapstructure:"price_interval"`
	PriceTopN     int           `mapstructure:"price_top_n"` // price-only runs limit to top-N by volume
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// credentialsFile is the on-disk JSON credentials layout.
type credentialsFile struct {
	ApiKey     string `json:"api_key"`
	Secret     string `json:"api_secret"`
	Passphrase string `json:"api_passphrase"`
	Funder     string `json:"funder"`
	PrivateKey string `json:"private_key"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PM_DATABASE_URL, PM_PRIVATE_KEY,
// PM_API_KEY, PM_API_SECRET, PM_PASSPHRASE, PM_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PM")
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

	if cfg.Credentials.Path != "" {
		if err := cfg.loadCredentialsFile(); err != nil {
			return nil, err
		}
	}

	// Override sensitive fields from env
	if url := os.Getenv("PM_DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if key := os.Getenv("PM_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("PM_API_KEY"); key != "" {
		cfg.Credentials.ApiKey = key
	}
	if secret := os.Getenv("PM_API_SECRET"); secret != "" {
		cfg.Credentials.Secret = secret
	}
	if pass := os.Getenv("PM_PASSPHRASE"); pass != "" {
		cfg.Credentials.Passphrase = pass
	}
	if os.Getenv("PM_DRY_RUN") == "true" || os.Getenv("PM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func (c *Config) loadCredentialsFile() error {
	data, err := os.ReadFile(c.Credentials.Path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}
	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse credentials file: %w", err)
	}
	if f.ApiKey != "" {
		c.Credentials.ApiKey = f.ApiKey
	}
	if f.Secret != "" {
		c.Credentials.Secret = f.Secret
	}
	if f.Passphrase != "" {
		c.Credentials.Passphrase = f.Passphrase
	}
	if f.Funder != "" {
		c.Wallet.FunderAddress = f.Funder
	}
	if f.PrivateKey != "" {
		c.Wallet.PrivateKey = f.PrivateKey
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "paper")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.connect_attempts", 8)
	v.SetDefault("database.connect_backoff", "500ms")
	v.SetDefault("database.max_backoff", "10s")
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.heartbeat_timeout", "90s")
	v.SetDefault("api.max_reconnect_delay", "30s")
	v.SetDefault("ingest.trade_poll_interval", "15s")
	v.SetDefault("ingest.max_trade_age", "300s")
	v.SetDefault("ingest.page_size", 100)
	v.SetDefault("ingest.page_delay", "250ms")
	v.SetDefault("ingest.event_queue_size", 1024)
	v.SetDefault("pipeline.thresholds", []float64{0.95})
	v.SetDefault("pipeline.min_time_to_end_hours", 6)
	v.SetDefault("pipeline.execution_threshold", 0.97)
	v.SetDefault("pipeline.watchlist_min", 0.90)
	v.SetDefault("pipeline.rescore_interval", "5m")
	v.SetDefault("execution.max_buy_price", 0.95)
	v.SetDefault("execution.order_size_usd", 100)
	v.SetDefault("execution.paper_balance_usd", 1000)
	v.SetDefault("execution.min_reserve", 10)
	v.SetDefault("execution.balance_staleness", "30s")
	v.SetDefault("execution.reservation_ttl", "1h")
	v.SetDefault("execution.reconcile_every", "10s")
	v.SetDefault("exit.profit_target", 0.99)
	v.SetDefault("exit.stop_loss", 0.90)
	v.SetDefault("exit.time_exit_hours", 2)
	v.SetDefault("exit.hold_hours_default", 168)
	v.SetDefault("exit.evaluate_every", "30s")
	v.SetDefault("tiers.cycle_interval", "15m")
	v.SetDefault("tiers.tier_2_max", 200)
	v.SetDefault("tiers.tier_3_max", 50)
	v.SetDefault("tiers.promote_to_tier_2_score", 0.5)
	v.SetDefault("tiers.promote_to_tier_3_score", 0.8)
	v.SetDefault("tiers.demote_from_tier_3_score", 0.6)
	v.SetDefault("tiers.demote_from_tier_2_score", 0.3)
	v.SetDefault("tiers.tier_3_inactivity_hours", 24)
	v.SetDefault("tiers.tier_2_low_score_days", 3)
	v.SetDefault("sync.full_interval", "1h")
	v.SetDefault("sync.price_interval", "5m")
	v.SetDefault("sync.price_top_n", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges. Failures here are
// fatal at startup (configuration errors are never retried).
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set PM_DATABASE_URL)")
	}
	if c.Mode != "paper" && c.Mode != "live" {
		return fmt.Errorf("mode must be \"paper\" or \"live\", got %q", c.Mode)
	}
	if c.Mode == "live" && !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set PM_PRIVATE_KEY)")
		}
		if c.Credentials.ApiKey == "" || c.Credentials.Secret == "" || c.Credentials.Passphrase == "" {
			return fmt.Errorf("venue credentials are required in live mode (set credentials.path or PM_API_KEY/PM_API_SECRET/PM_PASSPHRASE)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required in live mode (137 for mainnet)")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if len(c.Pipeline.Thresholds) == 0 {
		return fmt.Errorf("pipeline.thresholds must list at least one threshold")
	}
	for _, th := range c.Pipeline.Thresholds {
		if th <= 0 || th > 1 {
			return fmt.Errorf("pipeline.thresholds entries must be in (0, 1], got %v", th)
		}
	}
	if c.Execution.MaxBuyPrice <= 0 || c.Execution.MaxBuyPrice > 1 {
		return fmt.Errorf("execution.max_buy_price must be in (0, 1]")
	}
	if c.Execution.OrderSizeUSD <= 0 {
		return fmt.Errorf("execution.order_size_usd must be > 0")
	}
	if c.Tiers.PromoteToTier3Score <= c.Tiers.DemoteFromTier3Score {
		return fmt.Errorf("tiers.promote_to_tier_3_score must exceed tiers.demote_from_tier_3_score (hysteresis)")
	}
	if c.Tiers.PromoteToTier2Score <= c.Tiers.DemoteFromTier2Score {
		return fmt.Errorf("tiers.promote_to_tier_2_score must exceed tiers.demote_from_tier_2_score (hysteresis)")
	}
	return nil
}
