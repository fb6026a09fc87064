// Package daemon manages the pickle daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/pricing"
	"github.com/maco144/pickle/internal/infra/scheduler"
)

// Config holds all daemon configuration.
type Config struct {
	Engine     EngineConfig      `toml:"engine" yaml:"engine"`
	Validators []ValidatorConfig `toml:"validators" yaml:"validators"`
	API        APIConfig         `toml:"api" yaml:"api"`
	Ledger     LedgerConfig      `toml:"ledger" yaml:"ledger"`
	Logging    LoggingConfig     `toml:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig   `toml:"telemetry" yaml:"telemetry"`
}

// EngineConfig tunes the simulation. Durations are Go duration strings.
type EngineConfig struct {
	Seed                    uint64  `toml:"seed" yaml:"seed"` // 0 = random
	BasePrice               float64 `toml:"base_price" yaml:"base_price"`
	PriceSlope              float64 `toml:"price_slope" yaml:"price_slope"`
	SampleEvery             uint64  `toml:"sample_every" yaml:"sample_every"`
	RewardShare             float64 `toml:"reward_share" yaml:"reward_share"`
	NormalInterval          string  `toml:"normal_interval" yaml:"normal_interval"`
	NormalSubmitProbability float64 `toml:"normal_submit_probability" yaml:"normal_submit_probability"`
	FloodInterval           string  `toml:"flood_interval" yaml:"flood_interval"`
	FloodBatch              int     `toml:"flood_batch" yaml:"flood_batch"`
	DrainInterval           string  `toml:"drain_interval" yaml:"drain_interval"`
	DrainPerTick            int     `toml:"drain_per_tick" yaml:"drain_per_tick"`
	MaxBatch                int     `toml:"max_batch" yaml:"max_batch"`
	MinDelay                string  `toml:"min_delay" yaml:"min_delay"`
	MaxDelay                string  `toml:"max_delay" yaml:"max_delay"`
	MatchProbability        float64 `toml:"match_probability" yaml:"match_probability"`
	MissProbability         float64 `toml:"miss_probability" yaml:"miss_probability"`
}

// ValidatorConfig is one roster entry.
type ValidatorConfig struct {
	ID             int     `toml:"id" yaml:"id"`
	Name           string  `toml:"name" yaml:"name"`
	Specialization string  `toml:"specialization" yaml:"specialization"`
	Speed          float64 `toml:"speed" yaml:"speed"`
	Accuracy       float64 `toml:"accuracy" yaml:"accuracy"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host" yaml:"host"`
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

// LedgerConfig controls the payout ledger.
type LedgerConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Dir           string `toml:"dir" yaml:"dir"`
	Buffer        int    `toml:"buffer" yaml:"buffer"`
	BatchSize     int    `toml:"batch_size" yaml:"batch_size"`
	FlushInterval string `toml:"flush_interval" yaml:"flush_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`   // info, debug, trace
	Format string `toml:"format" yaml:"format"` // console, json
}

// TelemetryConfig controls metrics and health reporting.
type TelemetryConfig struct {
	Prometheus     bool   `toml:"prometheus" yaml:"prometheus"`
	HealthInterval string `toml:"health_interval" yaml:"health_interval"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	homeDir := pickleHome()
	sc := scheduler.DefaultConfig()
	cfg := Config{
		Engine: EngineConfig{
			BasePrice:               sc.Curve.BasePrice,
			PriceSlope:              sc.Curve.Slope,
			SampleEvery:             sc.Curve.SampleEvery,
			RewardShare:             sc.RewardShare,
			NormalInterval:          sc.NormalInterval.String(),
			NormalSubmitProbability: sc.NormalSubmitProbability,
			FloodInterval:           sc.FloodInterval.String(),
			FloodBatch:              sc.FloodBatch,
			DrainInterval:           sc.DrainInterval.String(),
			DrainPerTick:            sc.DrainPerTick,
			MaxBatch:                sc.MaxBatch,
			MinDelay:                sc.Policy.MinDelay.String(),
			MaxDelay:                sc.Policy.MaxDelay.String(),
			MatchProbability:        sc.Policy.MatchProbability,
			MissProbability:         sc.Policy.MissProbability,
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        7340,
			CORSOrigins: []string{"*"},
		},
		Ledger: LedgerConfig{
			Enabled:       true,
			Dir:           homeDir,
			Buffer:        8192,
			BatchSize:     256,
			FlushInterval: "250ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: "30s",
		},
	}
	for _, v := range domain.DefaultRoster() {
		cfg.Validators = append(cfg.Validators, ValidatorConfig{
			ID:             v.ID,
			Name:           v.Name,
			Specialization: string(v.Specialization),
			Speed:          v.Speed,
			Accuracy:       v.Accuracy,
		})
	}
	return cfg
}

// ConfigPath returns $PICKLE_HOME/config.toml.
func ConfigPath() string {
	return filepath.Join(pickleHome(), "config.toml")
}

// LoadConfig reads config from $PICKLE_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	path := ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil // No config file yet, use defaults
	}
	return LoadConfigFile(path)
}

// LoadConfigFile reads a TOML or YAML (.yaml/.yml) config over the defaults
// and validates it.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		_, err = toml.Decode(string(data), &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to $PICKLE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	return SaveConfigFile(cfg, ConfigPath())
}

// SaveConfigFile writes cfg to path, as YAML for .yaml/.yml and TOML otherwise.
func SaveConfigFile(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	default:
		return toml.NewEncoder(f).Encode(cfg)
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate reports every problem in cfg, wrapped in domain.ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	e := c.Engine

	for name, s := range map[string]string{
		"normal_interval": e.NormalInterval,
		"flood_interval":  e.FloodInterval,
		"drain_interval":  e.DrainInterval,
		"max_delay":       e.MaxDelay,
	} {
		if err := checkDuration(s, true); err != nil {
			errs = append(errs, fmt.Errorf("engine.%s: %w", name, err))
		}
	}
	if err := checkDuration(e.MinDelay, false); err != nil {
		errs = append(errs, fmt.Errorf("engine.min_delay: %w", err))
	}
	if parseDuration(e.MinDelay, 0) > parseDuration(e.MaxDelay, 0) {
		errs = append(errs, errors.New("engine.min_delay exceeds engine.max_delay"))
	}

	for name, p := range map[string]float64{
		"normal_submit_probability": e.NormalSubmitProbability,
		"match_probability":         e.MatchProbability,
		"miss_probability":          e.MissProbability,
		"reward_share":              e.RewardShare,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("engine.%s must be within [0, 1], got %v", name, p))
		}
	}
	if e.BasePrice <= 0 {
		errs = append(errs, fmt.Errorf("engine.base_price must be positive, got %v", e.BasePrice))
	}
	if e.PriceSlope < 0 {
		errs = append(errs, fmt.Errorf("engine.price_slope must not be negative, got %v", e.PriceSlope))
	}
	if e.FloodBatch <= 0 {
		errs = append(errs, fmt.Errorf("engine.flood_batch must be positive, got %d", e.FloodBatch))
	}
	if e.DrainPerTick <= 0 {
		errs = append(errs, fmt.Errorf("engine.drain_per_tick must be positive, got %d", e.DrainPerTick))
	}
	if e.MaxBatch <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_batch must be positive, got %d", e.MaxBatch))
	}

	if _, err := c.Roster(); err != nil {
		errs = append(errs, fmt.Errorf("validators: %w", err))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if err := checkDuration(c.Ledger.FlushInterval, false); err != nil {
		errs = append(errs, fmt.Errorf("ledger.flush_interval: %w", err))
	}
	if err := checkDuration(c.Telemetry.HealthInterval, false); err != nil {
		errs = append(errs, fmt.Errorf("telemetry.health_interval: %w", err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "info", "debug", "trace":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q unknown", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Roster converts the configured validators.
func (c Config) Roster() ([]domain.Validator, error) {
	roster := make([]domain.Validator, 0, len(c.Validators))
	for _, v := range c.Validators {
		cat, err := domain.ParseCategory(v.Specialization)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", v.ID, err)
		}
		roster = append(roster, domain.Validator{
			ID:             v.ID,
			Name:           v.Name,
			Specialization: cat,
			Speed:          v.Speed,
			Accuracy:       v.Accuracy,
		})
	}
	if err := domain.ValidateRoster(roster); err != nil {
		return nil, err
	}
	return roster, nil
}

// SchedulerConfig converts the engine section. Unparseable durations fall
// back to the stock values; Validate reports them.
func (c Config) SchedulerConfig() scheduler.Config {
	def := scheduler.DefaultConfig()
	e := c.Engine
	return scheduler.Config{
		Curve: pricing.Curve{
			BasePrice:   e.BasePrice,
			Slope:       e.PriceSlope,
			SampleEvery: e.SampleEvery,
		},
		Policy: scheduler.PolicyConfig{
			MatchProbability: e.MatchProbability,
			MissProbability:  e.MissProbability,
			MinDelay:         parseDuration(e.MinDelay, def.Policy.MinDelay),
			MaxDelay:         parseDuration(e.MaxDelay, def.Policy.MaxDelay),
		},
		RewardShare:             e.RewardShare,
		NormalInterval:          parseDuration(e.NormalInterval, def.NormalInterval),
		NormalSubmitProbability: e.NormalSubmitProbability,
		FloodInterval:           parseDuration(e.FloodInterval, def.FloodInterval),
		FloodBatch:              e.FloodBatch,
		DrainInterval:           parseDuration(e.DrainInterval, def.DrainInterval),
		DrainPerTick:            e.DrainPerTick,
		MaxBatch:                e.MaxBatch,
	}
}

func checkDuration(s string, positive bool) error {
	if s == "" {
		if positive {
			return errors.New("must be set")
		}
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < 0 || (positive && d == 0) {
		return fmt.Errorf("must be positive, got %s", s)
	}
	return nil
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// pickleHome returns the pickle data directory.
func pickleHome() string {
	if env := os.Getenv("PICKLE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pickle")
}

// PickleHome is exported for use by other packages.
func PickleHome() string {
	return pickleHome()
}
