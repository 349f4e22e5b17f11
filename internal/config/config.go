package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for chatd
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CHATD_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"CHATD_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Model backend configuration
	Backend BackendConfig

	// Chat request defaults
	Chat ChatConfig

	// Event bus configuration
	Events EventsConfig

	// Redis configuration, used when Events.Backend is "redis"
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// BackendConfig holds model backend configuration
type BackendConfig struct {
	Provider       string        `env:"BACKEND_PROVIDER" envDefault:"llamacpp"`
	URL            string        `env:"BACKEND_URL" envDefault:"http://localhost:8081"`
	APIKey         string        `env:"BACKEND_API_KEY"`
	RequestTimeout time.Duration `env:"BACKEND_REQUEST_TIMEOUT" envDefault:"600s"`

	// Tokenizer settings
	AddSpecial    bool   `env:"BACKEND_ADD_SPECIAL" envDefault:"true"`
	EOSTokenID    int    `env:"BACKEND_EOS_TOKEN_ID" envDefault:"-1"`
	ThinkingKwarg string `env:"BACKEND_THINKING_KWARG" envDefault:"thinking"`
	// SpecialTokens are dropped from replies in addition to BOS and EOS.
	// Strings that are not a single token in the loaded vocabulary are ignored.
	SpecialTokens []string `env:"BACKEND_SPECIAL_TOKENS" envSeparator:"," envDefault:"<|im_start|>,<|im_end|>,<|endoftext|>,<|eot_id|>,<|start_header_id|>,<|end_header_id|>,<|eom_id|>,<start_of_turn>,<end_of_turn>,<pad>,<|end|>,<|user|>,<|assistant|>,<|system|>"`

	HealthCheckInterval time.Duration `env:"BACKEND_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	HealthCheckTimeout  time.Duration `env:"BACKEND_HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
}

// ChatConfig holds defaults for fields omitted from a chat request
type ChatConfig struct {
	DefaultMaxTokens   int     `env:"CHAT_DEFAULT_MAX_TOKENS" envDefault:"512"`
	DefaultTemperature float64 `env:"CHAT_DEFAULT_TEMPERATURE" envDefault:"0.8"`
}

// EventsConfig selects the event bus implementation
type EventsConfig struct {
	Backend      string `env:"EVENTS_BACKEND" envDefault:"memory"`
	StreamMaxLen int64  `env:"EVENTS_STREAM_MAX_LEN" envDefault:"10000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	BackendLoadTimeout time.Duration `env:"TIMEOUT_BACKEND_LOAD" envDefault:"60s"`
	ShutdownTimeout    time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate backend config
	if c.Backend.Provider != "llamacpp" {
		return fmt.Errorf("unsupported backend provider: %s (only 'llamacpp' is supported)", c.Backend.Provider)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend URL is required")
	}
	if c.Backend.HealthCheckInterval <= 0 {
		return fmt.Errorf("backend health check interval must be positive")
	}

	// Validate chat defaults
	if c.Chat.DefaultMaxTokens < 1 {
		return fmt.Errorf("default max tokens must be at least 1")
	}
	if c.Chat.DefaultTemperature < 0 {
		return fmt.Errorf("default temperature must not be negative")
	}

	// Validate events config
	switch c.Events.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when EVENTS_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// GRPCEnabled reports whether the gRPC health server should run
func (c *Config) GRPCEnabled() bool {
	return c.GRPCPort != 0
}
