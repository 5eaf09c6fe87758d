package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mholtzmann/tpfand/internal/model"
)

// ConfigurationError reports an invalid or unusable configuration value.
// Validation failures are fatal: the control loop never starts on one.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

type DatadogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type Config struct {
	ConfigFile string `yaml:"-"`

	// Control loop settings.
	SensorIndex           int     `yaml:"sensor_index"`
	UpdateIntervalSeconds float64 `yaml:"update_interval_seconds"`
	FanCurve              [][]int `yaml:"fan_curve"`
	CriticalTemperature   int     `yaml:"critical_temperature"`

	// Daemon settings.
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
	DatabasePath  string        `yaml:"database_path"`
	LockFile      string        `yaml:"lock_file"`
	ListenAddr    string        `yaml:"listen_addr"`
	RetentionDays int           `yaml:"retention_days"`
	NtfyTopic     string        `yaml:"ntfy_topic"`
	Datadog       DatadogConfig `yaml:"datadog"`

	curve model.FanCurve
}

// Default returns the configuration applied when file keys are absent. The
// loop settings match the reference tool's shipped defaults.
func Default() *Config {
	return &Config{
		SensorIndex:           0,
		UpdateIntervalSeconds: 5,
		CriticalTemperature:   90,
		LogLevel:              "info",
		DatabasePath:          "/var/lib/tpfand/tpfand.db",
		LockFile:              "/run/tpfand.lock",
		RetentionDays:         14,
		Datadog: DatadogConfig{
			Addr:      "127.0.0.1:8125",
			Namespace: "tpfand",
		},
	}
}

// Load reads the YAML config at path on top of the defaults and validates
// it. All validation failures are *ConfigurationError.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.ConfigFile = path

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.UpdateIntervalSeconds == 0 {
		cfg.UpdateIntervalSeconds = 5
	}
	if cfg.FanCurve == nil {
		cfg.FanCurve = model.DefaultCurvePairs
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.SensorIndex < 0 || cfg.SensorIndex > 7 {
		return &ConfigurationError{Field: "sensor_index", Reason: fmt.Sprintf("%d out of range 0-7", cfg.SensorIndex)}
	}
	if cfg.UpdateIntervalSeconds <= 0 {
		return &ConfigurationError{Field: "update_interval_seconds", Reason: fmt.Sprintf("%v is not positive", cfg.UpdateIntervalSeconds)}
	}
	curve, err := model.NewFanCurve(cfg.FanCurve)
	if err != nil {
		return &ConfigurationError{Field: "fan_curve", Reason: err.Error()}
	}
	cfg.curve = curve

	if cfg.CriticalTemperature < 0 {
		return &ConfigurationError{Field: "critical_temperature", Reason: "must be 0 (disabled) or positive"}
	}
	if cfg.RetentionDays < 0 {
		return &ConfigurationError{Field: "retention_days", Reason: "must be 0 (keep forever) or positive"}
	}
	return nil
}

// Curve returns the validated fan curve.
func (cfg *Config) Curve() model.FanCurve {
	return cfg.curve
}

// UpdateInterval returns the cycle cadence as a duration.
func (cfg *Config) UpdateInterval() time.Duration {
	return time.Duration(cfg.UpdateIntervalSeconds * float64(time.Second))
}

// Level maps the configured log level string to a zerolog level. Unknown
// strings fall back to info.
func (cfg *Config) Level() zerolog.Level {
	switch cfg.LogLevel {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
