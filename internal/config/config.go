package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/ratelimit"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreFailover = "failover"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Data       DataConfig       `mapstructure:"data"`
	APIKeys    []SeedKey        `mapstructure:"api_keys"`
	RequestLog RequestLogConfig `mapstructure:"request_log"`
	Health     HealthConfig     `mapstructure:"health"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxConnections  int           `mapstructure:"max_connections"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	// TrustedProxies lists the peers, as IPs or CIDRs, whose
	// X-Forwarded-For header is believed. Empty means the TCP peer is
	// always the client address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GetRedisAddr prefers Addr and falls back to Host:Port.
func (r RedisConfig) GetRedisAddr() string {
	if r.Addr != "" {
		return r.Addr
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// DatabaseConfig backs key provisioning, admin users and the request log.
// An empty DSN runs the gateway from the configured api_keys only.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTExpiry     time.Duration `mapstructure:"jwt_expiry"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
	// LoginLimit is the number of login attempts per client IP per minute.
	LoginLimit int `mapstructure:"login_limit"`
}

type TierPolicy struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Store         string                `mapstructure:"store"`
	Tiers         map[string]TierPolicy `mapstructure:"tiers"`
	SweepInterval time.Duration         `mapstructure:"sweep_interval"`
	SweepGrace    time.Duration         `mapstructure:"sweep_grace"`
	KeyPrefix     string                `mapstructure:"key_prefix"`
	Retention     time.Duration         `mapstructure:"retention"`
	Breaker       BreakerConfig         `mapstructure:"breaker"`
}

// Policies builds the tier table. Tiers missing from the file keep their
// default quota.
func (r RateLimitConfig) Policies() ratelimit.PolicyTable {
	table := ratelimit.DefaultPolicies()
	for name, p := range r.Tiers {
		table[models.Tier(strings.ToLower(name))] = ratelimit.Policy{
			Window:      p.Window,
			MaxRequests: p.MaxRequests,
		}
	}
	return table
}

type CORSConfig struct {
	AllowOrigin   string   `mapstructure:"allow_origin"`
	AllowMethods  []string `mapstructure:"allow_methods"`
	AllowHeaders  []string `mapstructure:"allow_headers"`
	ExposeHeaders []string `mapstructure:"expose_headers"`
}

type GatewayConfig struct {
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	CORS           CORSConfig    `mapstructure:"cors"`
	AdminOrigins   []string      `mapstructure:"admin_origins"`
}

type DataConfig struct {
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// SeedKey is an API key defined in configuration rather than provisioned
// through the admin API.
type SeedKey struct {
	Key     string `mapstructure:"key"`
	Account string `mapstructure:"account"`
	Tier    string `mapstructure:"tier"`
}

type RequestLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

var envBindings = map[string]string{
	"server.port":      "PORT",
	"redis.addr":       "REDIS_ADDR",
	"redis.password":   "REDIS_PASSWORD",
	"database.dsn":     "DATABASE_DSN",
	"auth.jwt_secret":  "JWT_SECRET",
	"data.dir":         "DATA_DIR",
	"log.level":        "LOG_LEVEL",
	"rate_limit.store": "RATE_LIMIT_STORE",

	"server.trusted_proxies": "TRUSTED_PROXIES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_connections", 1024)

	v.SetDefault("log.level", "info")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("database.driver", "postgres")

	v.SetDefault("auth.jwt_expiry", "24h")
	v.SetDefault("auth.login_limit", 10)

	v.SetDefault("rate_limit.store", StoreMemory)
	v.SetDefault("rate_limit.sweep_interval", "5m")
	v.SetDefault("rate_limit.sweep_grace", "1m")
	v.SetDefault("rate_limit.key_prefix", ratelimit.DefaultKeyPrefix)
	v.SetDefault("rate_limit.retention", "1m")
	v.SetDefault("rate_limit.breaker.max_failures", 5)
	v.SetDefault("rate_limit.breaker.timeout", "30s")

	v.SetDefault("gateway.handler_timeout", "10s")

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.cache_ttl", "30s")

	v.SetDefault("request_log.enabled", true)
	v.SetDefault("request_log.buffer_size", 1000)
	v.SetDefault("request_log.flush_interval", "5s")
	v.SetDefault("request_log.retention", "720h")

	v.SetDefault("health.interval", "15s")
	v.SetDefault("health.timeout", "2s")
}

// Load reads the JSON config at path, then applies environment overrides.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Setting REDIS_ADDR is enough to turn redis on.
	if v.IsSet("redis.addr") && cfg.Redis.Addr != "" {
		cfg.Redis.Enabled = true
	}
	if cfg.RateLimit.Store != StoreMemory {
		cfg.Redis.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy)
		}
	}

	switch c.RateLimit.Store {
	case StoreMemory, StoreRedis, StoreFailover:
	default:
		return fmt.Errorf("rate_limit.store must be one of memory, redis, failover; got %q", c.RateLimit.Store)
	}

	for name := range c.RateLimit.Tiers {
		if !models.Tier(strings.ToLower(name)).Valid() {
			return fmt.Errorf("rate_limit.tiers: unknown tier %q", name)
		}
	}
	if err := c.RateLimit.Policies().Validate(); err != nil {
		return err
	}

	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite; got %q", c.Database.Driver)
	}

	if c.Database.Enabled() && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when the database is enabled")
	}

	for i, k := range c.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api_keys[%d]: key is required", i)
		}
		if !models.Tier(k.Tier).Assignable() {
			return fmt.Errorf("api_keys[%d]: tier %q cannot be assigned to a key", i, k.Tier)
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
