// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/artpar/actionkit/core/retry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ACTIONKIT_"

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
	MCP       MCPConfig       `yaml:"mcp" envPrefix:"MCP_"`
	Retry     RetryConfig     `yaml:"retry" envPrefix:"RETRY_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATELIMIT_"`
	Dev       DevConfig       `yaml:"dev" envPrefix:"DEV_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// AuditConfig selects where run entries go.
type AuditConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // none, memory, sqlite or redis
	DSN             string        `yaml:"dsn" env:"DSN"`
	BatchSize       int           `yaml:"batch_size" env:"BATCH_SIZE"`
	BufferSize      int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	FlushInterval   time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	CapturePayloads bool          `yaml:"capture_payloads" env:"CAPTURE_PAYLOADS"`
}

// RedisConfig is shared by the redis audit driver and the rate limit store.
type RedisConfig struct {
	Address  string        `yaml:"address" env:"ADDRESS"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	MaxRuns  int64         `yaml:"max_runs" env:"MAX_RUNS"`
	TraceTTL time.Duration `yaml:"trace_ttl" env:"TRACE_TTL"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// MCPConfig configures the MCP channel.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Transport string `yaml:"transport" env:"TRANSPORT"` // stdio or sse
	Address   string `yaml:"address" env:"ADDRESS"`
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	Name      string `yaml:"name" env:"NAME"`
}

// RetryConfig is the default policy for actions that declare none.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Backoff     string        `yaml:"backoff" env:"BACKOFF"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Deadline    time.Duration `yaml:"deadline" env:"DEADLINE"`
}

// Policy converts the section into a retry policy.
func (r RetryConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts: r.MaxAttempts,
		Backoff:     retry.Backoff(r.Backoff),
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Deadline:    r.Deadline,
	}.Normalize()
}

// AuthConfig configures the global API key guard. Keys maps a subject to a
// plaintext key or a bcrypt hash. No keys means no API key guard.
type AuthConfig struct {
	Header     string            `yaml:"header" env:"HEADER"`
	Keys       map[string]string `yaml:"keys" env:"KEYS"`
	BcryptCost int               `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

// RateLimitConfig configures the global rate limit guard.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Limit       int           `yaml:"limit" env:"LIMIT"`
	Window      time.Duration `yaml:"window" env:"WINDOW"`
	BurstTokens int           `yaml:"burst_tokens" env:"BURST_TOKENS"`
}

// DevConfig enables development conveniences.
type DevConfig struct {
	HotReload bool          `yaml:"hot_reload" env:"HOT_RELOAD"`
	Watch     []string      `yaml:"watch" env:"WATCH"`
	Debounce  time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// Load reads configuration from a YAML file. Environment variables are
// expanded inside the file and ACTIONKIT_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv builds configuration from ACTIONKIT_* variables only.
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads from path when it exists, otherwise from the
// environment alone.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ParseEnv overlays ACTIONKIT_* variables onto target. Unset variables
// leave fields untouched.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "memory"
	}
	if cfg.Audit.Driver == "sqlite" && cfg.Audit.DSN == "" {
		cfg.Audit.DSN = "actionkit.db"
	}
	if cfg.Audit.BatchSize == 0 {
		cfg.Audit.BatchSize = 100
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 10000
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 5 * time.Second
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "actionkit:"
	}
	if cfg.Redis.MaxRuns == 0 {
		cfg.Redis.MaxRuns = 10000
	}
	if cfg.Redis.TraceTTL == 0 {
		cfg.Redis.TraceTTL = 24 * time.Hour
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.MCP.Transport == "" {
		cfg.MCP.Transport = "stdio"
	}
	if cfg.MCP.Address == "" {
		cfg.MCP.Address = ":8081"
	}
	if cfg.MCP.Name == "" {
		cfg.MCP.Name = "actionkit"
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = string(retry.Exponential)
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = retry.DefaultBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = retry.DefaultMaxDelay
	}

	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}

	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}

	if cfg.Dev.Debounce == 0 {
		cfg.Dev.Debounce = 100 * time.Millisecond
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, disabled")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	validDrivers := map[string]bool{"none": true, "memory": true, "sqlite": true, "redis": true}
	if !validDrivers[cfg.Audit.Driver] {
		return fmt.Errorf("audit.driver must be one of: none, memory, sqlite, redis")
	}
	if cfg.Audit.Driver == "redis" && !cfg.Redis.Enabled() {
		return fmt.Errorf("redis.address is required when audit.driver is 'redis'")
	}

	if cfg.MCP.Transport != "stdio" && cfg.MCP.Transport != "sse" {
		return fmt.Errorf("mcp.transport must be 'stdio' or 'sse', got %q", cfg.MCP.Transport)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.Backoff != string(retry.Fixed) && cfg.Retry.Backoff != string(retry.Exponential) {
		return fmt.Errorf("retry.backoff must be 'fixed' or 'exponential', got %q", cfg.Retry.Backoff)
	}
	if cfg.Retry.Deadline < 0 {
		return fmt.Errorf("retry.deadline must not be negative")
	}

	for subject, key := range cfg.Auth.Keys {
		if key == "" {
			return fmt.Errorf("auth.keys[%s] is empty", subject)
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be positive when rate limiting is enabled")
	}

	return nil
}
