package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `json:"log_level"`
	ScanTimeout    time.Duration `json:"scan_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	OutputFormat   string        `json:"output_format"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       logrus.InfoLevel,
		ScanTimeout:    30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		OutputFormat:   "table", // table, json
	}
}

// fileConfig is the YAML shape of a config file. The log level and the
// timeouts are strings so files can say "debug" and "30s".
type fileConfig struct {
	LogLevel       string `yaml:"log_level"`
	ScanTimeout    string `yaml:"scan_timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	OutputFormat   string `yaml:"output_format"`
}

// Load reads a YAML config file and overlays it on the defaults. Fields
// absent from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := DefaultConfig()
	if file.LogLevel != "" {
		level, err := logrus.ParseLevel(file.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if file.ScanTimeout != "" {
		d, err := time.ParseDuration(file.ScanTimeout)
		if err != nil {
			return nil, fmt.Errorf("scan_timeout: %w", err)
		}
		cfg.ScanTimeout = d
	}
	if file.ConnectTimeout != "" {
		d, err := time.ParseDuration(file.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if file.OutputFormat != "" {
		cfg.OutputFormat = file.OutputFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be > 0, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0, got %s", c.ConnectTimeout)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
