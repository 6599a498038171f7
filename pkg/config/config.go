// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads shuckctl settings from a file, SHUCK_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "SHUCK"

// Config is the full shuckctl configuration
type Config struct {
	Link      LinkConfig      `mapstructure:"link"`
	Collector CollectorConfig `mapstructure:"collector"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LinkConfig selects the transport to the logger
type LinkConfig struct {
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
	MaxWrite    int    `mapstructure:"maxWrite"`
	StrictSync  bool   `mapstructure:"strictSync"`
}

// CollectorConfig controls forwarding of batches to the collection server
type CollectorConfig struct {
	Enable   bool          `mapstructure:"enable"`
	Endpoint string        `mapstructure:"endpoint"`
	Method   string        `mapstructure:"method"`
	Format   string        `mapstructure:"format"` // json|cbor
	Timeout  time.Duration `mapstructure:"timeout"`
	PerEntry bool          `mapstructure:"perEntry"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"` // console|json
	File   FileConfig `mapstructure:"file"`
}

// FileConfig controls rolling log files. An empty Filename disables file output.
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// Loader wraps a viper instance so flags can be bound before loading
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment overrides set
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag binds a command-line flag to a configuration key
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the config file at path (or searches the default locations
// when path is empty) and unmarshals the merged result. A missing config
// file is not an error.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = l.v.GetString("config")
	}
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.config/shuckctl")
		l.v.SetConfigName("shuckctl")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	if c.Link.Port != "" && c.Link.URL != "" {
		return errors.New("config: link.port and link.url are mutually exclusive")
	}
	if c.Link.MaxWrite < 20 {
		return fmt.Errorf("config: link.maxWrite must be at least 20, got %d", c.Link.MaxWrite)
	}
	switch strings.ToLower(c.Collector.Format) {
	case "json", "cbor":
	default:
		return fmt.Errorf("config: collector.format must be json or cbor, got %q", c.Collector.Format)
	}
	if c.Collector.Timeout <= 0 {
		return fmt.Errorf("config: collector.timeout must be positive, got %s", c.Collector.Timeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.port", "")
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.url", "")
	v.SetDefault("link.username", "")
	v.SetDefault("link.noSSLVerify", false)
	v.SetDefault("link.maxWrite", 20)
	v.SetDefault("link.strictSync", false)

	v.SetDefault("collector.enable", true)
	v.SetDefault("collector.endpoint", "http://localhost:1337/newMeasurement")
	v.SetDefault("collector.method", "POST")
	v.SetDefault("collector.format", "json")
	v.SetDefault("collector.timeout", "10s")
	v.SetDefault("collector.perEntry", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")
}
