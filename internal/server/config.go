// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the linkchat hub.
package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	// MaxNameLen is the longest accepted display name in bytes.
	MaxNameLen = 30
	// MinNameLen is the shortest accepted display name in bytes.
	MinNameLen = 2
	// NameFrameSize bounds the handshake frame, line terminator included.
	NameFrameSize = 32
	// ExitCommand is the line a client sends to leave the chatroom.
	ExitCommand = "exit"
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting. A zero Burst disables the limiter.
type RateLimitConfig struct {
	Burst          int           `validate:"gte=0"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// Config holds the hub configuration. Port comes from the command line, the
// rest from the environment.
type Config struct {
	Host             string
	Port             int           `validate:"gte=1,lte=65535"`
	MaxClients       int           `validate:"gte=1"`
	MaxMessageSize   int           `validate:"gte=1,lte=65536"`
	SendQueueSize    int           `validate:"gte=1"`
	WriteTimeout     time.Duration `validate:"gt=0"`
	HandshakeTimeout time.Duration `validate:"gt=0"`
	IdleTimeout      time.Duration `validate:"gte=0"`
	RateLimit        RateLimitConfig
	AdminAddr        string
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration `validate:"gt=0"`
	LogLevel         string        `validate:"oneof=debug info warn error"`
	LogFormat        string        `validate:"oneof=text json"`
}

// environment mirrors Config as flat environment variables.
type environment struct {
	Host             string        `env:"HOST"`
	MaxClients       int           `env:"MAX_CLIENTS,default=100"`
	MaxMessageSize   int           `env:"MAX_MESSAGE_SIZE,default=2048"`
	SendQueueSize    int           `env:"SEND_QUEUE_SIZE,default=256"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT,default=30s"`
	IdleTimeout      time.Duration `env:"IDLE_TIMEOUT,default=0s"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST,default=0"`
	RateLimitRefill  time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	AdminAddr        string        `env:"ADMIN_ADDR,default=:8081"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS,default=http://localhost:8081"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	LogFormat        string        `env:"LOG_FORMAT,default=text"`
}

var validate = validator.New()

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxClients:       100,
		MaxMessageSize:   2048,
		SendQueueSize:    256,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		AdminAddr:       ":8081",
		AllowedOrigins:  []string{"http://localhost:8081"},
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadConfig reads the environment, applies defaults for unusable values and
// validates the result for the given listening port.
func LoadConfig(port int) (Config, error) {
	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	cfg := Config{
		Host:             e.Host,
		Port:             port,
		MaxClients:       e.MaxClients,
		MaxMessageSize:   e.MaxMessageSize,
		SendQueueSize:    e.SendQueueSize,
		WriteTimeout:     e.WriteTimeout,
		HandshakeTimeout: e.HandshakeTimeout,
		IdleTimeout:      e.IdleTimeout,
		RateLimit: RateLimitConfig{
			Burst:          e.RateLimitBurst,
			RefillInterval: e.RateLimitRefill,
		},
		AdminAddr:       strings.TrimSpace(e.AdminAddr),
		AllowedOrigins:  parseOrigins(e.AllowedOrigins),
		ShutdownTimeout: e.ShutdownTimeout,
		LogLevel:        strings.ToLower(strings.TrimSpace(e.LogLevel)),
		LogFormat:       strings.ToLower(strings.TrimSpace(e.LogFormat)),
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every bound declared on the Config fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr is the TCP address the chat listener binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaults.MaxClients
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
	return cfg
}

// ParsePort extracts the listening port from the process arguments. Exactly
// one argument is accepted and it must be a port number.
func ParsePort(args []string) (int, error) {
	if len(args) != 2 {
		return 0, ErrUsage
	}
	port, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrUsage, args[1])
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range", ErrUsage, port)
	}
	return port, nil
}

func parseOrigins(origins string) []string {
	if strings.TrimSpace(origins) == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
