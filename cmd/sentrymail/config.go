// Package main provides the SentryMail server CLI.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Builder    BuilderConfig    `yaml:"builder"`
	Email      EmailConfig      `yaml:"email"`
	LogLevel   string           `yaml:"log_level"` // debug, info, warn, error
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"` // HTTP listen address (default: :8080)
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // database file path
}

// RedisConfig contains queue transport settings. When disabled the
// process falls back to an in-memory queue, which only makes sense for a
// single instance.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AggregatorConfig contains reconciliation settings.
type AggregatorConfig struct {
	Schedule string `yaml:"schedule"` // cron spec for reconciliation passes
}

// BuilderConfig contains email job builder settings.
type BuilderConfig struct {
	Schedule          string `yaml:"schedule"`             // cron spec for builder passes
	MinAlerts         int    `yaml:"min_alerts"`           // alert count threshold per notification
	BatchSize         int    `yaml:"batch_size"`           // notifications per pass
	MaxAlertsPerEmail int    `yaml:"max_alerts_per_email"` // alerts fetched per email body
	LockTTLMinutes    int    `yaml:"lock_ttl_minutes"`     // builder lock TTL
}

// EmailConfig contains delivery settings.
type EmailConfig struct {
	MockMode          bool       `yaml:"mock_mode"`           // log emails instead of sending
	MaxAttempts       int        `yaml:"max_attempts"`        // delivery attempts per job
	RetryDelaySeconds int        `yaml:"retry_delay_seconds"` // delay before a retry becomes visible
	SendsPerSecond    float64    `yaml:"sends_per_second"`    // outbound throttle
	SendBurst         int        `yaml:"send_burst"`          // throttle burst allowance
	SMTP              SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains SMTP transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 465 for implicit TLS, 587 for STARTTLS
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.applyEnv()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/sentrymail.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Aggregator.Schedule == "" {
		c.Aggregator.Schedule = "@every 5m"
	}
	if c.Builder.Schedule == "" {
		c.Builder.Schedule = "@every 2m"
	}
	if c.Builder.MinAlerts == 0 {
		c.Builder.MinAlerts = 1
	}
	if c.Builder.BatchSize == 0 {
		c.Builder.BatchSize = 10
	}
	if c.Builder.MaxAlertsPerEmail == 0 {
		c.Builder.MaxAlertsPerEmail = 50
	}
	if c.Builder.LockTTLMinutes == 0 {
		c.Builder.LockTTLMinutes = 5
	}
	if c.Email.MaxAttempts == 0 {
		c.Email.MaxAttempts = 3
	}
	if c.Email.RetryDelaySeconds == 0 {
		c.Email.RetryDelaySeconds = 60
	}
	if c.Email.SendsPerSecond == 0 {
		c.Email.SendsPerSecond = 1
	}
	if c.Email.SendBurst == 0 {
		c.Email.SendBurst = 5
	}
	if c.Email.SMTP.Port == 0 {
		c.Email.SMTP.Port = 587
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// applyEnv overrides secrets and addresses from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SENTRYMAIL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SENTRYMAIL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SENTRYMAIL_SMTP_PASSWORD"); v != "" {
		c.Email.SMTP.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Builder.MinAlerts < 1 {
		return fmt.Errorf("builder.min_alerts must be at least 1")
	}
	if c.Email.MaxAttempts < 1 {
		return fmt.Errorf("email.max_attempts must be at least 1")
	}
	if !c.Email.MockMode {
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp.host is required unless mock_mode is enabled")
		}
		if c.Email.SMTP.From == "" {
			return fmt.Errorf("email.smtp.from is required unless mock_mode is enabled")
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}
