// Package config loads and validates the controller's boot-time configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AppConfig is the root configuration document, loaded from config.json and
// overridden by environment variables. The temperature band and ASIC IP in
// use at runtime come only from the persisted settings file; the
// Temperature and Miner.DefaultIP values here are not applied.
type AppConfig struct {
	Database    DatabaseConfig    `json:"database"`
	Settings    SettingsConfig    `json:"settings"`
	Relay       RelayConfig       `json:"relay"`
	Miner       MinerConfig       `json:"miner"`
	Temperature TemperatureConfig `json:"temperature"`
	Intervals   IntervalConfig    `json:"intervals"`
	Safety      SafetyConfig      `json:"safety"`
	Predictive  PredictiveConfig  `json:"predictive"`
	HTTP        HTTPConfig        `json:"http"`
	Logging     LoggingConfig     `json:"logging"`
}

// DatabaseConfig locates the supplemental telemetry archive.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SettingsConfig locates the persisted settings document and its backups.
type SettingsConfig struct {
	Dir string `json:"dir"`
}

// RelayConfig describes the two GPIO relay channels.
type RelayConfig struct {
	UpperPin     int    `json:"upper_pin"`
	LowerPin     int    `json:"lower_pin"`
	Mode         string `json:"mode"` // BCM | BOARD
	ActiveLow    bool   `json:"active_low"`
	CleanupOnEnd bool   `json:"cleanup_on_end"`
}

// MinerConfig describes defaults for reaching the ASIC.
type MinerConfig struct {
	DefaultIP      string `json:"default_ip"`
	Port           int    `json:"port"`
	Account        string `json:"account"`
	Password       string `json:"password"`
	ConnectTimeout int    `json:"connect_timeout_seconds"`
}

// TemperatureConfig is a setpoint band loaded from config.json and the
// MIN_TEMP/MAX_TEMP environment variables and validated here. The running
// controller does not read it: its band comes from the persisted settings
// file, which is materialized from defaults.json or a built-in band.
type TemperatureConfig struct {
	MinC float64 `json:"min_c"`
	MaxC float64 `json:"max_c"`
}

// IntervalConfig controls the period of every background loop.
type IntervalConfig struct {
	PollSeconds    float64 `json:"poll_seconds"`
	ControlSeconds float64 `json:"control_seconds"`
	LogSeconds     float64 `json:"log_seconds"`
}

// SafetyConfig bounds relay switching frequency.
type SafetyConfig struct {
	MinCycleSeconds float64 `json:"min_cycle_seconds"`
}

// PredictiveConfig tunes the slope-based pre-actuation algorithm.
type PredictiveConfig struct {
	WindowSeconds      float64 `json:"window_seconds"`
	LookAheadSeconds   float64 `json:"look_ahead_seconds"`
	MinRateCPerSec     float64 `json:"min_rate_c_per_s"`
	PreOnMarginC       float64 `json:"pre_on_margin_c"`
	PreOffMarginC      float64 `json:"pre_off_margin_c"`
	ReverseRateCPerSec float64 `json:"reverse_rate_c_per_s"`
	ReverseMarginC     float64 `json:"reverse_margin_c"`
}

// HTTPConfig controls the runtime API server.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// LoggingConfig controls where and how verbosely the controller logs.
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Load reads config.json at path, applies environment variable overrides,
// then validates and defaults every field. A missing config.json is
// tolerated — defaults and environment variables carry the system.
func Load(path string) (AppConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	// Booleans cannot be defaulted after parsing, so active-low relays and
	// cleanup on exit are preset and only a config.json value overrides them.
	cfg := AppConfig{Relay: RelayConfig{ActiveLow: true, CleanupOnEnd: true}}
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", filepath.Base(absPath), jsonErr)
		}
	case os.IsNotExist(err):
		// no config.json: rely on defaults + env overrides
	default:
		return AppConfig{}, fmt.Errorf("read config %s: %w", absPath, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(filepath.Dir(absPath)); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v, ok := os.LookupEnv("RELAY_PIN"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Relay.UpperPin = n
		}
	}
	if v, ok := os.LookupEnv("RELAY_PIN_LOW"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Relay.LowerPin = n
		}
	}
	if v, ok := os.LookupEnv("GPIO_MODE"); ok && v != "" {
		c.Relay.Mode = v
	}
	if v, ok := os.LookupEnv("ASIC_IP"); ok && v != "" {
		c.Miner.DefaultIP = v
	}
	if v, ok := os.LookupEnv("MAX_TEMP"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature.MaxC = f
		}
	}
	if v, ok := os.LookupEnv("MIN_TEMP"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature.MinC = f
		}
	}
	if v, ok := os.LookupEnv("CONTROL_INTERVAL"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Intervals.ControlSeconds = f
		}
	}
	if v, ok := os.LookupEnv("UPDATE_INTERVAL"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Intervals.PollSeconds = f
		}
	}
	if v, ok := os.LookupEnv("MIN_CYCLE_TIME"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Safety.MinCycleSeconds = f
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok && v != "" {
		c.Logging.File = v
	}
}

func (c *AppConfig) validate(baseDir string) error {
	if c.Database.Path == "" {
		c.Database.Path = "data/telemetry_archive.db"
	}
	if !filepath.IsAbs(c.Database.Path) {
		c.Database.Path = filepath.Clean(filepath.Join(baseDir, c.Database.Path))
	}

	if c.Settings.Dir == "" {
		c.Settings.Dir = "config"
	}
	if !filepath.IsAbs(c.Settings.Dir) {
		c.Settings.Dir = filepath.Clean(filepath.Join(baseDir, c.Settings.Dir))
	}

	if c.Relay.UpperPin <= 0 {
		c.Relay.UpperPin = 17
	}
	if c.Relay.LowerPin <= 0 {
		c.Relay.LowerPin = 22
	}
	if c.Relay.Mode == "" {
		c.Relay.Mode = "BCM"
	}
	if c.Relay.Mode != "BCM" && c.Relay.Mode != "BOARD" {
		return fmt.Errorf("gpio mode must be BCM or BOARD, got %q", c.Relay.Mode)
	}

	if c.Miner.Port <= 0 {
		c.Miner.Port = 4433
	}
	if c.Miner.Account == "" {
		c.Miner.Account = "super"
	}
	if c.Miner.Password == "" {
		c.Miner.Password = "super"
	}
	if c.Miner.ConnectTimeout <= 0 {
		c.Miner.ConnectTimeout = 10
	}

	if c.Temperature.MaxC <= 0 {
		c.Temperature.MaxC = 55.0
	}
	if c.Temperature.MinC <= 0 {
		c.Temperature.MinC = 45.0
	}
	if c.Temperature.MinC >= c.Temperature.MaxC {
		return fmt.Errorf("temperature.min_c (%v) must be less than temperature.max_c (%v)", c.Temperature.MinC, c.Temperature.MaxC)
	}

	if c.Intervals.PollSeconds <= 0 {
		c.Intervals.PollSeconds = 1.0
	}
	if c.Intervals.ControlSeconds <= 0 {
		c.Intervals.ControlSeconds = 1.0
	}
	if c.Intervals.LogSeconds <= 0 {
		c.Intervals.LogSeconds = 1.0
	}

	if c.Safety.MinCycleSeconds <= 0 {
		c.Safety.MinCycleSeconds = 1.0
	}

	if c.Predictive.WindowSeconds <= 0 {
		c.Predictive.WindowSeconds = 5.0
	}
	if c.Predictive.LookAheadSeconds <= 0 {
		c.Predictive.LookAheadSeconds = 5.0
	}
	if c.Predictive.MinRateCPerSec <= 0 {
		c.Predictive.MinRateCPerSec = 0.05
	}
	if c.Predictive.PreOnMarginC <= 0 {
		c.Predictive.PreOnMarginC = 0.5
	}
	if c.Predictive.PreOffMarginC <= 0 {
		c.Predictive.PreOffMarginC = 0.5
	}
	if c.Predictive.ReverseRateCPerSec <= 0 {
		c.Predictive.ReverseRateCPerSec = 0.02
	}
	if c.Predictive.ReverseMarginC <= 0 {
		c.Predictive.ReverseMarginC = 0.10
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}

// NewDefault returns a validated AppConfig with every field at its
// documented default, active-low relays, and no config.json on disk.
func NewDefault(baseDir string) AppConfig {
	cfg := AppConfig{Relay: RelayConfig{ActiveLow: true, CleanupOnEnd: true}}
	_ = cfg.validate(baseDir)
	return cfg
}
