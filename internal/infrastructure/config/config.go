package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig
	Proxy      ProxyConfig
	Cache      CacheConfig
	Connection ConnectionConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8787"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// CORSOrigins restricts which browser origins may call the service.
	// Empty admits any origin.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// ProxyConfig holds the fetch-routing surface configuration.
type ProxyConfig struct {
	// ScopePrefix is the URL prefix bundle files are served under.
	ScopePrefix string `envconfig:"SCOPE_PREFIX" default:"/space"`
	// DefaultServerURL is the sync endpoint used when neither the load
	// request nor the bundle manifest names one.
	DefaultServerURL string `envconfig:"DEFAULT_SERVER_URL" default:""`
	// ReadyTimeout bounds how long a fetch waits on restart recovery
	// before giving up on a not-yet-active bundle.
	ReadyTimeout time.Duration `envconfig:"READY_TIMEOUT" default:"15s"`
}

// CacheConfig holds durable state cache configuration.
type CacheConfig struct {
	Path string `envconfig:"CACHE_PATH" default:"bundle-cache.db"`
}

// ConnectionConfig holds health-check and reconnect tuning.
type ConnectionConfig struct {
	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"5s"`
	SettleDelay    time.Duration `envconfig:"SETTLE_DELAY" default:"500ms"`
	BackoffBase    time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffCap     time.Duration `envconfig:"BACKOFF_CAP" default:"30s"`
	MaxAttempts    int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"10"`
	// ContinuousRetry keeps reconnecting past MaxAttempts by resetting the
	// counter; when false the monitor declares reconnectionFailed and stops.
	ContinuousRetry bool `envconfig:"CONTINUOUS_RETRY" default:"false"`
	// SyncWaitTimeout bounds the wait for one remote-origin change on the
	// root directory after a connect, before listings are trusted.
	SyncWaitTimeout time.Duration `envconfig:"SYNC_WAIT_TIMEOUT" default:"1s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8787",
			Host: "0.0.0.0",
		},
		Proxy: ProxyConfig{
			ScopePrefix:  "/space",
			ReadyTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Path: "bundle-cache.db",
		},
		Connection: ConnectionConfig{
			HealthInterval:  5 * time.Second,
			SettleDelay:     500 * time.Millisecond,
			BackoffBase:     time.Second,
			BackoffCap:      30 * time.Second,
			MaxAttempts:     10,
			ContinuousRetry: false,
			SyncWaitTimeout: time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
