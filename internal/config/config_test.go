package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const monitorTOML = `
mode = "monitor"
log_level = "debug"

[chain]
rpc_url = "http://localhost:8545"
poll_interval = "3s"

[[venues]]
id = "aqueduct"
kind = "constant_product"
address = "0x0000000000000000000000000000000000000f01"
asset0 = "0x00000000000000000000000000000000000000a0"
asset1 = "0x00000000000000000000000000000000000000b1"
fee_bps = 30

[[venues]]
id = "external"
kind = "concentrated_liquidity"
address = "0x0000000000000000000000000000000000000f02"
asset0 = "0x00000000000000000000000000000000000000a0"
asset1 = "0x00000000000000000000000000000000000000b1"
tick_spacing = 60

[flash]
id = "flash"
fee_bps = 9
[flash.balances]
"0x00000000000000000000000000000000000000a0" = "1000000000000000000000"

[arbitrage]
source = "aqueduct"
destination = "external"
max_input = "5000000000000000000"
operator = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flasharb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "simulate", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Arbitrage.LockTTL.Duration)
}

func TestLoadMonitorConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(writeConfig(t, monitorTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Second, cfg.Chain.PollInterval.Duration)
	require.Len(t, cfg.Venues, 2)
	assert.EqualValues(t, 60, cfg.Venues[1].TickSpacing)
	assert.Equal(t, "1000000000000000000000", cfg.Flash.Balances["0x00000000000000000000000000000000000000a0"])
	// Untouched sections keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)

	_, _, maxInput, err := cfg.Arbitrage.Amounts()
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000000", maxInput.Dec())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "mode = \"simulate\"\nbogus = 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLASHARB_MODE", "server")
	t.Setenv("FLASHARB_SERVER_PORT", "9100")
	t.Setenv("FLASHARB_ARBITRAGE_MAX_SLIPPAGE_BPS", "25")
	t.Setenv("FLASHARB_NOTIFY_EVENTS", "settlement, abort ,")
	t.Setenv("FLASHARB_REDIS_ENABLED", "true")
	t.Setenv("FLASHARB_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.EqualValues(t, 25, cfg.Arbitrage.MaxSlippageBps)
	assert.Equal(t, []string{"settlement", "abort"}, cfg.Notify.Events)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 120, cfg.Server.RateLimit, "unparseable values are ignored")
}

func TestDotEnvLoaded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FLASHARB_LOG_LEVEL=warn\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("FLASHARB_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Arbitrage.MaxInput = "-5"
	cfg.Arbitrage.Operator = "nobody"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "unknown log_level", "arbitrage.max_input", "arbitrage.operator"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateChain(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Chdir(t.TempDir())
		cfg, err := Load(writeConfig(t, monitorTOML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing rpc", func(c *Config) { c.Chain.RPCURL = "" }, "chain.rpc_url"},
		{"one venue", func(c *Config) { c.Venues = c.Venues[:1] }, "at least two venues"},
		{"bad kind", func(c *Config) { c.Venues[0].Kind = "orderbook" }, "unknown kind"},
		{"no spacing", func(c *Config) { c.Venues[1].TickSpacing = 0 }, "tick_spacing"},
		{"bad address", func(c *Config) { c.Venues[0].Address = "0x12" }, "address"},
		{"flash is traded", func(c *Config) { c.Flash.ID = "aqueduct" }, "must not be one of the traded venues"},
		{"unknown source", func(c *Config) { c.Arbitrage.Source = "nowhere" }, "arbitrage.source"},
		{"same venues", func(c *Config) { c.Arbitrage.Destination = "aqueduct" }, "must differ"},
		{"duplicate id", func(c *Config) { c.Venues[1].ID = "aqueduct" }, "duplicate id"},
		{"no operator", func(c *Config) { c.Arbitrage.Operator = "" }, "arbitrage.operator is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateArchiveNeedsStores(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.enabled")
	assert.Contains(t, err.Error(), "postgres.enabled")

	cfg.S3.Enabled, cfg.Postgres.Enabled = true, true
	assert.NoError(t, cfg.Validate())
}

func TestServerModeWithoutChainUsesScenario(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Arbitrage.Operator = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg"
	cfg.Chain.RPCURL = "https://mainnet.infura.io/v3/key"
	cfg.Flash.Balances = map[string]string{"0xa": "1"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Chain.RPCURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Flash.Balances["0xa"] = "2"
	out.Notify.Events[0] = "changed"
	assert.Equal(t, "1", cfg.Flash.Balances["0xa"])
	assert.Equal(t, "settlement", cfg.Notify.Events[0])
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
