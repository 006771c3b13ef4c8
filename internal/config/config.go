// Package config loads and validates application configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all application configuration. It is immutable after Load
// and safe for concurrent reads.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	Migrate         bool          `koanf:"migrate"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig groups delivery subsystem settings.
type NotificationsConfig struct {
	Retry   RetryConfig   `koanf:"retry"`
	Cleanup CleanupConfig `koanf:"cleanup"`
	Email   EmailConfig   `koanf:"email"`
	Webhook WebhookConfig `koanf:"webhook"`
	Push    PushConfig    `koanf:"push"`
}

// RetryConfig controls the retry scheduler.
type RetryConfig struct {
	Interval          time.Duration `koanf:"interval"`
	MaxRetries        int           `koanf:"max_retries"`
	BaseDelay         time.Duration `koanf:"base_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	MaxAge            time.Duration `koanf:"max_age"`
	BatchSize         int           `koanf:"batch_size"`
}

// CleanupConfig controls the cleanup sweeper.
type CleanupConfig struct {
	Interval time.Duration `koanf:"interval"`
	MaxAge   time.Duration `koanf:"max_age"`
}

// EmailConfig contains SMTP sender settings.
type EmailConfig struct {
	Enabled      bool          `koanf:"enabled"`
	SMTPHost     string        `koanf:"smtp_host"`
	SMTPPort     int           `koanf:"smtp_port"`
	SMTPUser     string        `koanf:"smtp_user"`
	SMTPPassword string        `koanf:"smtp_password"`
	FromAddress  string        `koanf:"from_address"`
	Timeout      time.Duration `koanf:"timeout"`
}

// WebhookConfig contains chat-webhook sender settings.
type WebhookConfig struct {
	Timeout  time.Duration `koanf:"timeout"`
	Username string        `koanf:"username"`
}

// PushConfig contains push gateway and batching settings.
type PushConfig struct {
	Enabled    bool          `koanf:"enabled"`
	GatewayURL string        `koanf:"gateway_url"`
	ServerKey  string        `koanf:"server_key"`
	Timeout    time.Duration `koanf:"timeout"`
	BatchSize  int           `koanf:"batch_size"`
	BatchDelay time.Duration `koanf:"batch_delay"`
	TokenCap   int           `koanf:"token_cap"`
}

// Default returns the built-in defaults applied before file and env layers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Notifications: NotificationsConfig{
			Retry: RetryConfig{
				Interval:          5 * time.Minute,
				MaxRetries:        3,
				BaseDelay:         1 * time.Minute,
				BackoffMultiplier: 2.0,
				MaxAge:            7 * 24 * time.Hour,
				BatchSize:         100,
			},
			Cleanup: CleanupConfig{
				Interval: 1 * time.Hour,
				MaxAge:   30 * 24 * time.Hour,
			},
			Email: EmailConfig{
				SMTPPort: 587,
				Timeout:  10 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout:  10 * time.Second,
				Username: "TaskGarden",
			},
			Push: PushConfig{
				Timeout:    10 * time.Second,
				BatchSize:  500,
				BatchDelay: 100 * time.Millisecond,
				TokenCap:   10,
			},
		},
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Notifications.Retry.MaxRetries < 1 {
		return errors.New("notifications.retry.max_retries must be at least 1")
	}
	if c.Notifications.Retry.BackoffMultiplier <= 1 {
		return errors.New("notifications.retry.backoff_multiplier must be greater than 1")
	}
	if c.Notifications.Retry.BatchSize < 1 {
		return errors.New("notifications.retry.batch_size must be at least 1")
	}
	if c.Notifications.Push.BatchSize < 1 {
		return errors.New("notifications.push.batch_size must be at least 1")
	}
	if c.Notifications.Push.TokenCap < 1 {
		return errors.New("notifications.push.token_cap must be at least 1")
	}
	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.SMTPHost == "" {
			return errors.New("notifications.email.smtp_host is required when email is enabled")
		}
		if c.Notifications.Email.FromAddress == "" {
			return errors.New("notifications.email.from_address is required when email is enabled")
		}
	}
	if c.Notifications.Push.Enabled && c.Notifications.Push.GatewayURL == "" {
		return errors.New("notifications.push.gateway_url is required when push is enabled")
	}
	if err := validateLogConfig(c.Log); err != nil {
		return err
	}
	return nil
}

func validateLogConfig(cfg LogConfig) error {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text; got %q", cfg.Format)
	}
	return nil
}
