// Package config
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/breakout-trader/internal/tfutils"
)

/*
YAML config example:
testnet: true
dry_run: true
symbols: ["BTCUSDT", "ETHUSDT"]
timeframe: "1h"
risk_pct: 0.0075
atr_mult: 2.0
breakout_n: 20
atr_period: 14
breakout_buffer_atr: 0.1
take_profit_r: 3.0
partial_pct: 0.4
trail_mode: "lowest_low"
trail_lookback: 20
trail_atr_mult: 3.0
time_stop_candles: 10
max_positions: 5
majors: ["BTCUSDT", "ETHUSDT"]
max_major_positions: 2
global_open_risk_cap: 0.03
entry_order_type: "market"
db_conn_str: "..."
telegram_token: "..."
telegram_chat_id: "..."
*/

// Duration unmarshals from YAML either as a Go duration string ("2s",
// "1m30s") or as a bare number of seconds. yaml.v3 decodes plain numbers
// into time.Duration as nanoseconds, which nobody writes in a config file.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if dur, err := time.ParseDuration(raw); err == nil {
		*d = Duration(dur)
		return nil
	}
	if sec, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(sec * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration %q", raw)
}

type Config struct {
	AppName          string `yaml:"app_name"`
	Testnet          bool   `yaml:"testnet"`
	DryRun           bool   `yaml:"dry_run"`
	AllowLiveMainnet bool   `yaml:"allow_live_mainnet"`
	APIKey           string `yaml:"api_key"`
	APISecret        string `yaml:"api_secret"`

	BaseURLTestnet string `yaml:"base_url_testnet"`
	BaseURLMainnet string `yaml:"base_url_mainnet"`
	WSURLTestnet   string `yaml:"ws_url_testnet"`
	WSURLMainnet   string `yaml:"ws_url_mainnet"`

	Symbols   []string `yaml:"symbols"`
	Timeframe string   `yaml:"timeframe"`

	RiskPct           float64 `yaml:"risk_pct"`
	ATRMult           float64 `yaml:"atr_mult"`
	BreakoutN         int     `yaml:"breakout_n"`
	ATRPeriod         int     `yaml:"atr_period"`
	BreakoutBufferATR float64 `yaml:"breakout_buffer_atr"`

	TakeProfitR     float64 `yaml:"take_profit_r"`
	PartialPct      float64 `yaml:"partial_pct"`
	TrailMode       string  `yaml:"trail_mode"` // "lowest_low" or "atr"
	TrailLookback   int     `yaml:"trail_lookback"`
	TrailATRMult    float64 `yaml:"trail_atr_mult"`
	TimeStopCandles int     `yaml:"time_stop_candles"`

	MaxPositions      int      `yaml:"max_positions"`
	Majors            []string `yaml:"majors"`
	MaxMajorPositions int      `yaml:"max_major_positions"`
	GlobalOpenRiskCap float64  `yaml:"global_open_risk_cap"`

	EntryOrderType  string   `yaml:"entry_order_type"` // "market" or "stop_limit"
	PollInterval    Duration `yaml:"poll_interval"`
	WaitFillTimeout Duration `yaml:"wait_fill_timeout"`

	RESTMaxRetries      int      `yaml:"rest_max_retries"`
	WSMaxReconnectDelay Duration `yaml:"ws_max_reconnect_delay"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DBConnStr      string `yaml:"db_conn_str"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	SimEquity float64 `yaml:"sim_equity"`
}

// Default returns the baseline configuration. Safe by default: testnet and
// dry-run both on.
func Default() Config {
	return Config{
		AppName:             "breakout-trader",
		Testnet:             true,
		DryRun:              true,
		BaseURLTestnet:      "https://testnet.binance.vision/api",
		BaseURLMainnet:      "https://api.binance.com",
		WSURLTestnet:        "wss://testnet.binance.vision",
		WSURLMainnet:        "wss://stream.binance.com:9443",
		Symbols:             []string{"BTCUSDT", "ETHUSDT"},
		Timeframe:           "1h",
		RiskPct:             0.0075,
		ATRMult:             2.0,
		BreakoutN:           20,
		ATRPeriod:           14,
		BreakoutBufferATR:   0.1,
		TakeProfitR:         3.0,
		PartialPct:          0.4,
		TrailMode:           "lowest_low",
		TrailLookback:       20,
		TrailATRMult:        3.0,
		TimeStopCandles:     10,
		MaxPositions:        5,
		Majors:              []string{"BTCUSDT", "ETHUSDT"},
		MaxMajorPositions:   2,
		GlobalOpenRiskCap:   0.03,
		EntryOrderType:      "market",
		PollInterval:        Duration(2 * time.Second),
		WaitFillTimeout:     Duration(90 * time.Second),
		RESTMaxRetries:      5,
		WSMaxReconnectDelay: Duration(30 * time.Second),
		LogLevel:            "info",
		LogFile:             "bot.log",
		SimEquity:           10000,
	}
}

// Load builds the configuration: defaults, then the optional YAML file, then
// environment overrides. A .env file in the working directory is read into
// the environment first (existing variables win).
func Load(configFile string) (Config, error) {
	loadDotenv(".env")

	cfg := Default()
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays environment variables on top of the config.
func applyEnv(cfg *Config) {
	setBool(&cfg.Testnet, "TESTNET")
	setBool(&cfg.DryRun, "DRY_RUN")
	setBool(&cfg.AllowLiveMainnet, "ALLOW_LIVE_MAINNET")
	setString(&cfg.APIKey, "API_KEY")
	setString(&cfg.APISecret, "API_SECRET")
	setSymbols(&cfg.Symbols, "SYMBOLS")
	setString(&cfg.Timeframe, "TIMEFRAME")
	setFloat(&cfg.RiskPct, "RISK_PCT")
	setFloat(&cfg.ATRMult, "ATR_MULT")
	setInt(&cfg.BreakoutN, "BREAKOUT_N")
	setInt(&cfg.ATRPeriod, "ATR_PERIOD")
	setFloat(&cfg.BreakoutBufferATR, "BREAKOUT_BUFFER_ATR")
	setFloat(&cfg.TakeProfitR, "TAKE_PROFIT_R")
	setFloat(&cfg.PartialPct, "PARTIAL_PCT")
	setString(&cfg.TrailMode, "TRAIL_MODE")
	setInt(&cfg.TrailLookback, "TRAIL_LOOKBACK")
	setFloat(&cfg.TrailATRMult, "TRAIL_ATR_MULT")
	setInt(&cfg.TimeStopCandles, "TIME_STOP_CANDLES")
	setInt(&cfg.MaxPositions, "MAX_POSITIONS")
	setSymbols(&cfg.Majors, "MAJORS")
	setInt(&cfg.MaxMajorPositions, "MAX_MAJOR_POSITIONS")
	setFloat(&cfg.GlobalOpenRiskCap, "GLOBAL_OPEN_RISK_CAP")
	setString(&cfg.EntryOrderType, "ENTRY_ORDER_TYPE")
	setInt(&cfg.RESTMaxRetries, "REST_MAX_RETRIES")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFile, "LOG_FILE")
	setString(&cfg.DBConnStr, "DB_CONN_STR")
	setString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	setString(&cfg.TelegramChatID, "TELEGRAM_CHAT_ID")
	setFloat(&cfg.SimEquity, "SIM_EQUITY")
	if v := os.Getenv("WS_MAX_RECONNECT_DELAY_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxReconnectDelay = Duration(time.Duration(sec) * time.Second)
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.PollInterval = Duration(sec * float64(time.Second))
		}
	}
}

// Validate enforces the startup safety gates.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q (supported: %s)",
			c.Timeframe, strings.Join(tfutils.GetSupportedTimeframes(), ", "))
	}
	if c.RiskPct <= 0 || c.RiskPct >= 1 {
		return fmt.Errorf("risk_pct must be in (0, 1), got %v", c.RiskPct)
	}
	if c.PartialPct < 0 || c.PartialPct >= 1 {
		return fmt.Errorf("partial_pct must be in [0, 1), got %v", c.PartialPct)
	}
	if c.TrailMode != "lowest_low" && c.TrailMode != "atr" {
		return fmt.Errorf("trail_mode must be lowest_low or atr, got %q", c.TrailMode)
	}
	if c.EntryOrderType != "market" && c.EntryOrderType != "stop_limit" {
		return fmt.Errorf("entry_order_type must be market or stop_limit, got %q", c.EntryOrderType)
	}
	if !c.DryRun {
		if c.APIKey == "" || c.APISecret == "" {
			return fmt.Errorf("live trading requires API_KEY and API_SECRET")
		}
		if !c.Testnet && !c.AllowLiveMainnet {
			return fmt.Errorf("refusing live mainnet trading without ALLOW_LIVE_MAINNET=true")
		}
	}
	return nil
}

// BaseURL returns the REST endpoint for the selected network.
func (c Config) BaseURL() string {
	if c.Testnet {
		return c.BaseURLTestnet
	}
	return c.BaseURLMainnet
}

// WSURL returns the websocket endpoint for the selected network.
func (c Config) WSURL() string {
	if c.Testnet {
		return c.WSURLTestnet
	}
	return c.WSURLMainnet
}

// MajorsSet returns the majors list as a lookup set.
func (c Config) MajorsSet() map[string]bool {
	set := make(map[string]bool, len(c.Majors))
	for _, s := range c.Majors {
		set[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return set
}

// loadDotenv reads KEY=VALUE lines into the environment; variables already
// set are left alone.
func loadDotenv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		default:
			*dst = false
		}
	}
}

func setFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setSymbols(dst *[]string, name string) {
	if v := os.Getenv(name); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
