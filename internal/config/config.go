// Package config provides configuration management for fxlab using Viper
// for loading from files, environment variables, and command-line flags.
//
// Values are read from .fxlab.yml (or the file named by FXLAB_CONFIG_FILE),
// overridden by FXLAB_<SECTION>_<KEY> environment variables and then by flags.
// Load applies defaults for anything left unset and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/validation"
)

// Defaults for the preview section.
const (
	DefaultDebounce     = 800 * time.Millisecond
	DefaultGalleryScale = 0.5
	DefaultRunTimeout   = 2 * time.Second
	DefaultTimerHorizon = 5 * time.Second
	DefaultMaxTasks     = 10000
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Preview   PreviewConfig   `mapstructure:"preview" yaml:"preview"`
	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Environment    string   `mapstructure:"environment" yaml:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// PreviewConfig controls synthesis and headless execution.
type PreviewConfig struct {
	// Debounce is the quiet period after the last edit before the editor
	// preview reloads. Zero reloads on every edit.
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	GalleryScale float64       `mapstructure:"gallery_scale" yaml:"gallery_scale"`
	RunTimeout   time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	TimerHorizon time.Duration `mapstructure:"timer_horizon" yaml:"timer_horizon"`
	MaxTasks     int           `mapstructure:"max_tasks" yaml:"max_tasks"`
}

type CatalogConfig struct {
	// Path to a YAML catalog. Empty uses the catalog built into the binary.
	Path  string `mapstructure:"path" yaml:"path"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fxerrors.Wrap(err, fxerrors.ErrorTypeConfig, fxerrors.ErrCodeConfigInvalid,
			"failed to decode configuration")
	}

	// Server
	if config.Server.Port == 0 && !v.IsSet("server.port") {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	// Preview
	if !v.IsSet("preview.debounce") {
		config.Preview.Debounce = DefaultDebounce
	}
	if config.Preview.GalleryScale == 0 {
		config.Preview.GalleryScale = DefaultGalleryScale
	}
	if config.Preview.RunTimeout == 0 {
		config.Preview.RunTimeout = DefaultRunTimeout
	}
	if config.Preview.TimerHorizon == 0 {
		config.Preview.TimerHorizon = DefaultTimerHorizon
	}
	if config.Preview.MaxTasks == 0 {
		config.Preview.MaxTasks = DefaultMaxTasks
	}

	// Catalog
	if !v.IsSet("catalog.watch") {
		config.Catalog.Watch = true
	}

	// Storage
	if config.Storage.Driver == "" {
		config.Storage.Driver = "memory"
	}
	if config.Storage.Driver == "sqlite" && config.Storage.DSN == "" {
		config.Storage.DSN = ".fxlab/drafts.db"
	}

	// Log
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if v.IsSet("log-level") && v.GetString("log-level") != "" {
		config.Log.Level = v.GetString("log-level")
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	// Rate limit
	if !v.IsSet("rate_limit.enabled") {
		config.RateLimit.Enabled = true
	}
	if config.RateLimit.RequestsPerSecond == 0 {
		config.RateLimit.RequestsPerSecond = 20
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 40
	}

	if err := validateConfig(&config); err != nil {
		return nil, fxerrors.Wrap(err, fxerrors.ErrorTypeConfig, fxerrors.ErrCodeConfigInvalid,
			"invalid configuration")
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validatePreviewConfig(&config.Preview); err != nil {
		return fmt.Errorf("preview config: %w", err)
	}

	if config.Catalog.Path != "" {
		if err := validation.Path(config.Catalog.Path); err != nil {
			return fmt.Errorf("catalog config: %w", err)
		}
	}

	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if config.RateLimit.RequestsPerSecond < 0 || config.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit config: values must not be negative")
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if err := validation.Host(config.Host); err != nil {
		return err
	}

	for _, origin := range config.AllowedOrigins {
		if err := validation.Origin(origin); err != nil {
			return fmt.Errorf("allowed_origins: %w", err)
		}
	}

	return nil
}

func validatePreviewConfig(config *PreviewConfig) error {
	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", config.Debounce)
	}
	if config.GalleryScale <= 0 || config.GalleryScale > 1 {
		return fmt.Errorf("gallery_scale %v is not in range (0, 1]", config.GalleryScale)
	}
	if config.RunTimeout < 0 || config.TimerHorizon < 0 {
		return fmt.Errorf("run_timeout and timer_horizon must not be negative")
	}
	if config.MaxTasks < 0 {
		return fmt.Errorf("max_tasks must not be negative: %d", config.MaxTasks)
	}

	return nil
}

func validateStorageConfig(config *StorageConfig) error {
	switch config.Driver {
	case "memory":
		return nil
	case "sqlite":
		if strings.HasPrefix(config.DSN, "file:") || config.DSN == ":memory:" {
			return nil
		}
		return validation.Path(config.DSN)
	default:
		return fmt.Errorf("unknown storage driver %q", config.Driver)
	}
}

func validateLogConfig(config *LogConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown log level %q", config.Level)
	}
	if config.Format != "text" && config.Format != "json" {
		return fmt.Errorf("unknown log format %q", config.Format)
	}

	return nil
}
