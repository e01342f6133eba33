// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	defaultAddr            = ":12345"
	defaultHTTPAddr        = ":8080"
	defaultMaxMessageSize  = 4 << 20
	defaultSendQueueSize   = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultRateBurst       = 20
	defaultRateInterval    = time.Second
	defaultLogLevel        = "info"

	allowedOriginsEnv = "CHANRELAY_ALLOWED_ORIGINS"
)

// RateLimitConfig defines the parameters for per-connection line rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"CHANRELAY_RATE_LIMIT_BURST" validate:"gte=0"`
	RefillInterval time.Duration `env:"CHANRELAY_RATE_LIMIT_REFILL_INTERVAL" validate:"gte=0"`
}

// Config holds the relay settings. Zero values are replaced by defaults when
// the config is handed to NewServer.
type Config struct {
	// Addr is the TCP listen address for line-protocol clients.
	Addr string `env:"CHANRELAY_ADDR" validate:"required"`
	// HTTPAddr serves /ws, /healthz and /metrics. Empty disables HTTP.
	HTTPAddr string `env:"CHANRELAY_HTTP_ADDR"`
	// AllowedOrigins gates WebSocket upgrades; "*" allows every origin.
	AllowedOrigins  []string
	MaxMessageSize  int64         `env:"CHANRELAY_MAX_MESSAGE_SIZE" validate:"gte=0"`
	SendQueueSize   int           `env:"CHANRELAY_SEND_QUEUE_SIZE" validate:"gte=0"`
	WriteTimeout    time.Duration `env:"CHANRELAY_WRITE_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout time.Duration `env:"CHANRELAY_SHUTDOWN_TIMEOUT" validate:"gte=0"`
	RateLimit       RateLimitConfig
	LogLevel        string `env:"CHANRELAY_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

var validate = validator.New()

func defaultConfig() Config {
	return Config{
		Addr:     defaultAddr,
		HTTPAddr: defaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  defaultMaxMessageSize,
		SendQueueSize:   defaultSendQueueSize,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRateInterval,
		},
		LogLevel: defaultLogLevel,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv starts from the defaults and overrides every setting whose
// CHANRELAY_* variable is present in the environment.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if origins, ok := os.LookupEnv(allowedOriginsEnv); ok {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot be repaired by falling back to a default.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// sanitize fills zero values with defaults and normalizes origins.
func (c Config) sanitize() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultRateBurst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRateInterval
	}

	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
