// Package config loads pubsubd's runtime configuration from environment
// variables (with an optional .env file for local development),
// validates it, and exposes it as a typed struct.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Server holds listener and transport-level settings.
type Server struct {
	Addr           string `env:"PUBSUBD_ADDR" envDefault:":8080"`
	ShutdownGrace  string `env:"PUBSUBD_SHUTDOWN_GRACE" envDefault:"10s"`
}

// Broker holds tunables for the pub/sub core itself.
type Broker struct {
	DispatcherQueueSize int     `env:"PUBSUBD_DISPATCHER_QUEUE_SIZE" envDefault:"1024"`
	HistoryCapacity     int     `env:"PUBSUBD_HISTORY_CAPACITY" envDefault:"100"`
	RateLimitRPS        float64 `env:"PUBSUBD_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst      int     `env:"PUBSUBD_RATE_LIMIT_BURST" envDefault:"100"`
}

// Logging holds zerolog output settings.
type Logging struct {
	Level  string `env:"PUBSUBD_LOG_LEVEL" envDefault:"info"`
	Format string `env:"PUBSUBD_LOG_FORMAT" envDefault:"json"`
}

// Config is the full, validated process configuration.
type Config struct {
	Server  Server
	Broker  Broker
	Logging Logging
}

// Load reads configuration from an optional .env file and the process
// environment, applying defaults and validating the result. Priority:
// env vars > .env file > struct defaults, matching the teacher's
// LoadConfig.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Broker); err != nil {
		return nil, fmt.Errorf("parsing broker config: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("parsing logging config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the resolved config for internally-consistent values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("PUBSUBD_ADDR is required")
	}
	if c.Broker.DispatcherQueueSize < 1 {
		return fmt.Errorf("PUBSUBD_DISPATCHER_QUEUE_SIZE must be > 0, got %d", c.Broker.DispatcherQueueSize)
	}
	if c.Broker.HistoryCapacity < 1 {
		return fmt.Errorf("PUBSUBD_HISTORY_CAPACITY must be > 0, got %d", c.Broker.HistoryCapacity)
	}
	if c.Broker.RateLimitRPS <= 0 {
		return fmt.Errorf("PUBSUBD_RATE_LIMIT_RPS must be > 0, got %.1f", c.Broker.RateLimitRPS)
	}
	if c.Broker.RateLimitBurst < 1 {
		return fmt.Errorf("PUBSUBD_RATE_LIMIT_BURST must be > 0, got %d", c.Broker.RateLimitBurst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("PUBSUBD_LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("PUBSUBD_LOG_FORMAT must be one of: json, pretty (got %q)", c.Logging.Format)
	}
	return nil
}

// LogConfig emits the resolved configuration as a structured log event,
// the production-facing counterpart to a human-readable dump.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Server.Addr).
		Int("dispatcher_queue_size", c.Broker.DispatcherQueueSize).
		Int("history_capacity", c.Broker.HistoryCapacity).
		Float64("rate_limit_rps", c.Broker.RateLimitRPS).
		Int("rate_limit_burst", c.Broker.RateLimitBurst).
		Str("log_level", c.Logging.Level).
		Str("log_format", c.Logging.Format).
		Msg("configuration loaded")
}
