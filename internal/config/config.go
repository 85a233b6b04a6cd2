package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values
const (
	DefaultPort                   = "8888"
	DefaultTempDir                = "./images-temp"
	DefaultStaticDir              = "./dist"
	DefaultMaxUploadBytes         = 64 * 1024 * 1024
	DefaultScalingThresholdPixels = 540000
	DefaultTolerance              = 10
	DefaultLogLevel               = "info"
)

// Config holds the server settings.
type Config struct {
	Port                   string  `yaml:"port"`
	TempDir                string  `yaml:"temp_dir"`
	StaticDir              string  `yaml:"static_dir"`
	MaxUploadBytes         int64   `yaml:"max_upload_bytes"`
	ComposeWorkers         int64   `yaml:"compose_workers"`
	ScalingThresholdPixels int     `yaml:"scaling_threshold_pixels"`
	Tolerance              float64 `yaml:"tolerance"`
	LogLevel               string  `yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                   DefaultPort,
		TempDir:                DefaultTempDir,
		StaticDir:              DefaultStaticDir,
		MaxUploadBytes:         DefaultMaxUploadBytes,
		ComposeWorkers:         int64(4 * runtime.GOMAXPROCS(0)),
		ScalingThresholdPixels: DefaultScalingThresholdPixels,
		Tolerance:              DefaultTolerance,
		LogLevel:               DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then RECEIPTS_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("RECEIPTS_PORT", c.Port)
	c.TempDir = getEnv("RECEIPTS_TEMP_DIR", c.TempDir)
	c.StaticDir = getEnv("RECEIPTS_STATIC_DIR", c.StaticDir)
	c.LogLevel = getEnv("RECEIPTS_LOG_LEVEL", c.LogLevel)

	var err error
	if c.MaxUploadBytes, err = getEnvInt64("RECEIPTS_MAX_UPLOAD_BYTES", c.MaxUploadBytes); err != nil {
		return err
	}
	if c.ComposeWorkers, err = getEnvInt64("RECEIPTS_COMPOSE_WORKERS", c.ComposeWorkers); err != nil {
		return err
	}
	threshold, err := getEnvInt64("RECEIPTS_SCALING_THRESHOLD_PIXELS", int64(c.ScalingThresholdPixels))
	if err != nil {
		return err
	}
	c.ScalingThresholdPixels = int(threshold)

	if v := os.Getenv("RECEIPTS_TOLERANCE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RECEIPTS_TOLERANCE %q: %w", v, err)
		}
		c.Tolerance = t
	}

	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.TempDir == "" {
		return fmt.Errorf("temp_dir must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ComposeWorkers <= 0 {
		return fmt.Errorf("compose_workers must be positive, got %d", c.ComposeWorkers)
	}
	if c.ScalingThresholdPixels <= 0 {
		return fmt.Errorf("scaling_threshold_pixels must be positive, got %d", c.ScalingThresholdPixels)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative, got %v", c.Tolerance)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Addr is the listen address for the configured port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// ParseLevel maps a log level name to its slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
