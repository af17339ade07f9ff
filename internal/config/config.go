// Package config loads postfs configuration from defaults, an optional
// config file, POSTFS_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fruitsalade/postfs/pkg/client"
	"github.com/fruitsalade/postfs/pkg/retry"
)

// EnvPrefix prefixes every environment variable, e.g. POSTFS_BASE_URL.
const EnvPrefix = "POSTFS"

// Config holds all postfs configuration.
type Config struct {
	// Catalog
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	PageLimit      int           `mapstructure:"page_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`

	// Logging
	Log LogConfig `mapstructure:"log"`

	// Mount
	AllowOther  bool          `mapstructure:"allow_other"`
	DebugFUSE   bool          `mapstructure:"debug_fuse"`
	HealthCheck time.Duration `mapstructure:"health_check"`

	// Metrics ("" disables the endpoint)
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// RetryConfig bounds retries of catalog requests.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "https://e621.net")
	v.SetDefault("user_agent", client.DefaultUserAgent)
	v.SetDefault("page_limit", 75)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_wait", 200*time.Millisecond)
	v.SetDefault("retry.max_wait", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("allow_other", false)
	v.SetDefault("debug_fuse", false)
	v.SetDefault("health_check", time.Duration(0))
	v.SetDefault("metrics_addr", "")
}

// BindFlags binds command-line flags to their keys. Flag names use dashes
// where keys use underscores and dots.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.NewReplacer("-", "_").Replace(f.Name)
		switch f.Name {
		case "log-level":
			key = "log.level"
		case "log-format":
			key = "log.format"
		case "retries":
			key = "retry.max_attempts"
		case "config":
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Load reads configuration. file may be empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	if c.PageLimit <= 0 {
		return fmt.Errorf("page_limit must be positive, got %d", c.PageLimit)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialWait < 0 || c.Retry.MaxWait < 0 {
		return fmt.Errorf("retry waits must not be negative")
	}
	if c.HealthCheck < 0 {
		return fmt.Errorf("health_check must not be negative")
	}
	return nil
}

// RetryPolicy converts the retry settings for the catalog client.
func (c *Config) RetryPolicy() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = c.Retry.MaxAttempts
	rc.InitialWait = c.Retry.InitialWait
	rc.MaxWait = c.Retry.MaxWait
	return rc
}

// ClientConfig builds the catalog client configuration.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:     c.BaseURL,
		UserAgent:   c.UserAgent,
		Timeout:     c.RequestTimeout,
		RetryConfig: c.RetryPolicy(),
	}
}
