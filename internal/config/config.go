// Package config defines all configuration for the auction coordinator.
// Config is loaded from a YAML file with sensitive fields overridable via
// AUCTION_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure and covers every CLI/env field named in spec §6.
type Config struct {
	Chain      ChainConfig      `mapstructure:"chain"`
	Auction    AuctionConfig    `mapstructure:"auction"`
	Solvers    []SolverConfig   `mapstructure:"solvers"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Validator  ValidatorConfig  `mapstructure:"validator"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ChainConfig holds the RPC endpoint and the account used to sign
// submission transactions.
type ChainConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	ChainID          int64         `mapstructure:"chain_id"`
	PrivateKey       string        `mapstructure:"private_key"`
	SettlementAddr   string        `mapstructure:"settlement_contract"`
	AuthenticatorAddr string       `mapstructure:"authenticator_contract"`
	LiquidityRouterURL string      `mapstructure:"liquidity_router_url"`
	UpdateInterval   time.Duration `mapstructure:"update_interval"`
}

// AuctionConfig tunes round construction and timing.
//
//   - RoundInterval: fixed interval T between auction rounds (spec §2, ~30s).
//   - DeadlineBlockBuffer: blocks added to the current block number to
//     form each auction's DeadlineBlock (internal/coordinator).
//   - TimeWithoutTrade / MinOrderAge: loaded from config; no component
//     reads them.
type AuctionConfig struct {
	RoundInterval          time.Duration `mapstructure:"round_interval"`
	DeadlineBlockBuffer    uint64        `mapstructure:"deadline_block_buffer"`
	TimeWithoutTrade       time.Duration `mapstructure:"time_without_trade"`
	MinOrderAge            time.Duration `mapstructure:"min_order_age"`
	MaxLimitOrdersPerUser  int           `mapstructure:"max_limit_orders_per_user"`
	MaxGasPerOrder         uint64        `mapstructure:"max_gas_per_order"`
	MaxSolutionsMerged     int           `mapstructure:"max_solutions_merged"`
	OrderbookAPI           string        `mapstructure:"orderbook_api"`
	APIGetOrderMinInterval time.Duration `mapstructure:"api_get_order_min_interval"`
}

// SolverConfig names one registered solver endpoint competed against
// every round (spec §4.9, §6 "solver endpoints").
type SolverConfig struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig is the back-off triple used to construct every C7
// rate limiter (spec §4.7, §6 "rate-limit triple").
type RateLimitConfig struct {
	GrowthFactor float64       `mapstructure:"growth_factor"`
	MinBackOff   time.Duration `mapstructure:"min_back_off"`
	MaxBackOff   time.Duration `mapstructure:"max_back_off"`
}

// ValidatorConfig bounds the order validation pipeline (C5).
//
// SupportedSources, SupportedDestinations, and SupportedClasses declare
// stage 1's "supported token-source/destination, class allowed" check
// (spec §4.5); values are the lowercase spellings internal/validate's
// ParseSource/ParseDestination/ParseClass accept (e.g. "erc20",
// "external", "internal", "market", "limit", "liquidity"). Empty means
// every value is supported.
type ValidatorConfig struct {
	MinValidTo            time.Duration `mapstructure:"min_valid_to"`
	MaxValidTo            time.Duration `mapstructure:"max_valid_to"`
	SupportedSources      []string      `mapstructure:"supported_sources"`
	SupportedDestinations []string      `mapstructure:"supported_destinations"`
	SupportedClasses      []string      `mapstructure:"supported_classes"`
}

// SubmissionConfig configures the settlement submitter (C11): one entry
// per submission key / mempool channel pair.
type SubmissionConfig struct {
	Keys               []string      `mapstructure:"keys"`
	MaxRetries         int           `mapstructure:"max_retries"`
	SimulationOnRevert bool          `mapstructure:"simulation_on_revert"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
}

// AlertingConfig matches spec §6's alerting fields exactly.
type AlertingConfig struct {
	MinAlertInterval        time.Duration `mapstructure:"min_alert_interval"`
	ErrorsInARowBeforeAlert int           `mapstructure:"errors_in_a_row_before_alert"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only operator dashboard.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig controls the Prometheus exporter (spec §6 "metrics-port").
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AUCTION_CHAIN_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AUCTION_CHAIN_PRIVATE_KEY"); key != "" {
		cfg.Chain.PrivateKey = key
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("chain.private_key is required (set AUCTION_CHAIN_PRIVATE_KEY)")
	}
	if c.Chain.SettlementAddr == "" {
		return fmt.Errorf("chain.settlement_contract is required")
	}
	if len(c.Solvers) == 0 {
		return fmt.Errorf("at least one entry in solvers is required")
	}
	if c.RateLimit.GrowthFactor < 1 {
		return fmt.Errorf("rate_limit.growth_factor must be >= 1")
	}
	if c.RateLimit.MinBackOff <= 0 || c.RateLimit.MaxBackOff < c.RateLimit.MinBackOff {
		return fmt.Errorf("rate_limit.min_back_off/max_back_off misconfigured")
	}
	if c.Auction.RoundInterval <= 0 {
		return fmt.Errorf("auction.round_interval must be > 0")
	}
	if c.Auction.MaxLimitOrdersPerUser <= 0 {
		return fmt.Errorf("auction.max_limit_orders_per_user must be > 0")
	}
	if c.Auction.MaxGasPerOrder == 0 {
		return fmt.Errorf("auction.max_gas_per_order must be > 0")
	}
	if len(c.Submission.Keys) == 0 {
		return fmt.Errorf("at least one entry in submission.keys is required")
	}
	return nil
}
