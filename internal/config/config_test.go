package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsSafe(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Testnet)
	assert.True(t, cfg.DryRun)
	assert.False(t, cfg.AllowLiveMainnet)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("live without credentials refused", func(t *testing.T) {
		cfg := Default()
		cfg.DryRun = false
		assert.Error(t, cfg.Validate())
	})

	t.Run("live mainnet without override refused", func(t *testing.T) {
		cfg := Default()
		cfg.DryRun = false
		cfg.Testnet = false
		cfg.APIKey = "k"
		cfg.APISecret = "s"
		assert.Error(t, cfg.Validate())
	})

	t.Run("live mainnet with override allowed", func(t *testing.T) {
		cfg := Default()
		cfg.DryRun = false
		cfg.Testnet = false
		cfg.AllowLiveMainnet = true
		cfg.APIKey = "k"
		cfg.APISecret = "s"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad timeframe", func(t *testing.T) {
		cfg := Default()
		cfg.Timeframe = "7m"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "supported: 1m, 5m, 15m, 30m, 1h, 4h, 1d")
	})

	t.Run("bad trail mode", func(t *testing.T) {
		cfg := Default()
		cfg.TrailMode = "chandelier"
		assert.Error(t, cfg.Validate())
	})

	t.Run("no symbols", func(t *testing.T) {
		cfg := Default()
		cfg.Symbols = nil
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols: ["SOLUSDT"]
timeframe: "4h"
risk_pct: 0.01
max_positions: 3
`), 0o644))

	t.Setenv("RISK_PCT", "0.02")
	t.Setenv("SYMBOLS", "btcusdt, ethusdt")
	t.Setenv("WS_MAX_RECONNECT_DELAY_SEC", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	// env beats file, file beats default
	assert.Equal(t, 0.02, cfg.RiskPct)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "4h", cfg.Timeframe)
	assert.Equal(t, 3, cfg.MaxPositions)
	assert.Equal(t, 45*time.Second, cfg.WSMaxReconnectDelay.Std())
	assert.Equal(t, 2.0, cfg.ATRMult) // untouched default
}

func TestLoadYAMLDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll_interval: 2s
wait_fill_timeout: 1m30s
ws_max_reconnect_delay: 45
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 90*time.Second, cfg.WaitFillTimeout.Std())
	// bare numbers are seconds
	assert.Equal(t, 45*time.Second, cfg.WSMaxReconnectDelay.Std())
}

func TestLoadYAMLBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestEndpointSelection(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "https://testnet.binance.vision/api", cfg.BaseURL())
	assert.Equal(t, "wss://testnet.binance.vision", cfg.WSURL())

	cfg.Testnet = false
	assert.Equal(t, "https://api.binance.com", cfg.BaseURL())
	assert.Equal(t, "wss://stream.binance.com:9443", cfg.WSURL())
}

func TestMajorsSet(t *testing.T) {
	cfg := Default()
	cfg.Majors = []string{"btcusdt", " ETHUSDT "}
	set := cfg.MajorsSet()
	assert.True(t, set["BTCUSDT"])
	assert.True(t, set["ETHUSDT"])
	assert.False(t, set["SOLUSDT"])
}
