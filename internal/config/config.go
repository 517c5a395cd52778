// Package config defines the flasharb configuration file, its defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by FLASHARB_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Chain     ChainConfig     `toml:"chain"`
	Venues    []VenueConfig   `toml:"venues"`
	Flash     FlashConfig     `toml:"flash"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ChainConfig is the JSON-RPC endpoint monitor mode reads pool state from.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	ChainID      int64    `toml:"chain_id"`
	PollInterval duration `toml:"poll_interval"`
}

// VenueConfig is one on-chain pool.
type VenueConfig struct {
	ID          string `toml:"id"`
	Kind        string `toml:"kind"`
	Address     string `toml:"address"`
	Asset0      string `toml:"asset0"`
	Asset1      string `toml:"asset1"`
	FeeBps      uint32 `toml:"fee_bps"`
	TickSpacing int32  `toml:"tick_spacing"`
	// WordRadius is how many tick bitmap words either side of the current
	// tick are loaded.
	WordRadius int `toml:"word_radius"`
}

// FlashConfig is the flash-loan venue. Balances seed the forked lender in
// monitor mode, keyed by asset address.
type FlashConfig struct {
	ID       string            `toml:"id"`
	Address  string            `toml:"address"`
	FeeBps   uint32            `toml:"fee_bps"`
	Balances map[string]string `toml:"balances"`
}

// ArbitrageConfig is the initial arbitrage configuration and execution
// limits. Amounts are decimal strings in base units.
type ArbitrageConfig struct {
	Source         string   `toml:"source"`
	Destination    string   `toml:"destination"`
	Reverse        bool     `toml:"reverse"`
	MinProfit0     string   `toml:"min_profit0"`
	MinProfit1     string   `toml:"min_profit1"`
	MaxInput       string   `toml:"max_input"`
	MaxSlippageBps uint32   `toml:"max_slippage_bps"`
	Operator       string   `toml:"operator"`
	LockTTL        duration `toml:"lock_ttl"`
	DedupTTL       duration `toml:"dedup_ttl"`
	// Scenario is the fixture simulate mode runs: a built-in scenario name
	// or a YAML file path. Empty uses the default built-in scenario.
	Scenario string `toml:"scenario"`
}

// PostgresConfig holds connection parameters. When disabled, settlements,
// attempts and audit entries are kept in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds connection parameters. When disabled, pair locks are
// process-local and no events are published.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config is the settlement archive target.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	Prefix         string   `toml:"prefix"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	Interval       duration `toml:"interval"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
}

// NotifyConfig holds Telegram and Discord credentials. Events filters which
// notifications are sent; empty sends all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig serves /metrics on its own listener in modes without the
// API server.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration decodes TOML strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs simulate mode with no external
// services.
func Defaults() Config {
	return Config{
		Mode:     "simulate",
		LogLevel: "info",
		Chain: ChainConfig{
			ChainID:      1,
			PollInterval: duration{12 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinProfit0: "0",
			MinProfit1: "0",
			LockTTL:    duration{30 * time.Second},
			DedupTTL:   duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "flasharb-archive",
			Prefix:         "settlements",
			ForcePathStyle: true,
			RetentionDays:  30,
			Interval:       duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement", "abort", "retrieve"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

var validModes = map[string]bool{
	"simulate": true,
	"monitor":  true,
	"server":   true,
	"archive":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: simulate, monitor, server, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	for name, v := range map[string]string{
		"arbitrage.min_profit0": c.Arbitrage.MinProfit0,
		"arbitrage.min_profit1": c.Arbitrage.MinProfit1,
		"arbitrage.max_input":   c.Arbitrage.MaxInput,
	} {
		if _, err := domain.ParseAmount(v); err != nil {
			add("%s: %v", name, err)
		}
	}
	if c.Arbitrage.Operator != "" && !common.IsHexAddress(c.Arbitrage.Operator) {
		add("arbitrage.operator %q is not an address", c.Arbitrage.Operator)
	}
	if c.Arbitrage.MaxSlippageBps > 10_000 {
		add("arbitrage.max_slippage_bps %d exceeds 10000", c.Arbitrage.MaxSlippageBps)
	}

	if mode == "monitor" || (mode == "server" && c.Chain.RPCURL != "") {
		errs = append(errs, c.validateChain()...)
	}
	if mode == "monitor" || mode == "server" {
		if c.Arbitrage.Operator == "" {
			add("arbitrage.operator is required in %s mode", mode)
		}
	}
	if mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port %d out of range", c.Server.Port)
	}
	if mode == "archive" {
		if !c.S3.Enabled {
			add("archive mode requires s3.enabled")
		}
		if !c.Postgres.Enabled {
			add("archive mode requires postgres.enabled")
		}
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		add("postgres: dsn or host is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3.bucket is required")
		}
		if c.S3.RetentionDays <= 0 {
			add("s3.retention_days must be positive")
		}
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}

	return errors.Join(errs...)
}

// validateChain checks the on-chain venues. Server mode without an RPC URL
// trades the scenario fixture instead.
func (c *Config) validateChain() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Chain.RPCURL == "" {
		add("chain.rpc_url is required")
	}
	if len(c.Venues) < 2 {
		add("at least two venues are required, got %d", len(c.Venues))
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			add("venues[%d].id is required", i)
		}
		if seen[v.ID] {
			add("venues[%d]: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		switch domain.VenueKind(v.Kind) {
		case domain.KindConstantProduct:
		case domain.KindConcentratedLiquidity:
			if v.TickSpacing <= 0 {
				add("venues[%d] %s: tick_spacing must be positive", i, v.ID)
			}
		default:
			add("venues[%d] %s: unknown kind %q", i, v.ID, v.Kind)
		}
		for field, addr := range map[string]string{"address": v.Address, "asset0": v.Asset0, "asset1": v.Asset1} {
			if !common.IsHexAddress(addr) {
				add("venues[%d] %s: %s %q is not an address", i, v.ID, field, addr)
			}
		}
		if v.FeeBps >= 10_000 {
			add("venues[%d] %s: fee_bps %d must be below 10000", i, v.ID, v.FeeBps)
		}
	}

	if c.Flash.ID == "" {
		add("flash.id is required")
	} else if seen[c.Flash.ID] {
		add("flash.id %q must not be one of the traded venues", c.Flash.ID)
	}
	for asset, amount := range c.Flash.Balances {
		if !common.IsHexAddress(asset) {
			add("flash.balances: %q is not an address", asset)
		}
		if _, err := domain.ParseAmount(amount); err != nil {
			add("flash.balances[%s]: %v", asset, err)
		}
	}
	for name, id := range map[string]string{"arbitrage.source": c.Arbitrage.Source, "arbitrage.destination": c.Arbitrage.Destination} {
		if id != "" && !seen[id] {
			add("%s %q is not a configured venue", name, id)
		}
	}
	if c.Arbitrage.Source != "" && c.Arbitrage.Source == c.Arbitrage.Destination {
		add("arbitrage.source and arbitrage.destination must differ")
	}
	return errs
}

// Amounts parses the arbitrage amounts. Call after Validate.
func (a ArbitrageConfig) Amounts() (minProfit0, minProfit1, maxInput *uint256.Int, err error) {
	if minProfit0, err = domain.ParseAmount(a.MinProfit0); err != nil {
		return nil, nil, nil, fmt.Errorf("config: min_profit0: %w", err)
	}
	if minProfit1, err = domain.ParseAmount(a.MinProfit1); err != nil {
		return nil, nil, nil, fmt.Errorf("config: min_profit1: %w", err)
	}
	if maxInput, err = domain.ParseAmount(a.MaxInput); err != nil {
		return nil, nil, nil, fmt.Errorf("config: max_input: %w", err)
	}
	return minProfit0, minProfit1, maxInput, nil
}
