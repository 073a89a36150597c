package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pool      PoolConfig      `yaml:"pool"`
	Provider  ProviderConfig  `yaml:"provider"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	// APIToken protects the dispatch routes. Empty disables auth
	// (local development only).
	APIToken string `yaml:"api_token"`
}

type PoolConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries"`
	BatchConcurrency  int           `yaml:"batch_concurrency"`
	DailyBudgetUSD    float64       `yaml:"daily_budget_usd"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// Circuit breaker over the provider connection.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerProbeInterval    time.Duration `yaml:"breaker_probe_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Name         string `yaml:"name"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Pool: PoolConfig{
			MaxConnections:    20,
			CacheSize:         1000,
			CacheTTL:          time.Hour,
			RequestsPerMinute: 60,
			MaxRetries:        3,
			BatchConcurrency:  5,
		},
		Provider: ProviderConfig{
			BaseURL:                 "https://api.openai.com/v1",
			Timeout:                 60 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerProbeInterval:    15 * time.Second,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Name:         "llmpool",
			User:         "llmpool",
			MaxOpenConns: 25,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate covers the fatal construction-time error class: invalid
// bounds and a missing provider credential abort startup.
func (c *Config) Validate() error {
	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("config: pool.max_connections must be positive")
	}
	if c.Pool.CacheSize <= 0 {
		return fmt.Errorf("config: pool.cache_size must be positive")
	}
	if c.Pool.CacheTTL <= 0 {
		return fmt.Errorf("config: pool.cache_ttl must be positive")
	}
	if c.Pool.RequestsPerMinute <= 0 {
		return fmt.Errorf("config: pool.requests_per_minute must be positive")
	}
	if c.Pool.MaxRetries <= 0 {
		return fmt.Errorf("config: pool.max_retries must be positive")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider.api_key is required (set LLMPOOL_PROVIDER_API_KEY)")
	}
	return nil
}
