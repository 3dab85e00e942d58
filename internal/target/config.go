package target

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the target service configuration, read from the environment
// and an optional .env file.
type Config struct {
	AppPort                 int    `mapstructure:"APP_PORT"`
	Store                   string `mapstructure:"STORE"`
	RedisHost               string `mapstructure:"REDIS_HOST"`
	RedisPort               int    `mapstructure:"REDIS_PORT"`
	RedisPassword           string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                 int    `mapstructure:"REDIS_DB"`
	RateMaxRequestsByIP     int64  `mapstructure:"RATE_MAX_REQUESTS_BY_IP"`
	RateMaxRequestsByToken  int64  `mapstructure:"RATE_MAX_REQUESTS_BY_TOKEN"`
	RatePeriodWindowSeconds int    `mapstructure:"RATE_PERIOD_WINDOW_SECONDS"`
}

// SetDefaults registers the default of every key on v. Keys must be known
// to v for AutomaticEnv values to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("STORE", StoreMemory)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_MAX_REQUESTS_BY_IP", 10)
	v.SetDefault("RATE_MAX_REQUESTS_BY_TOKEN", 100)
	v.SetDefault("RATE_PERIOD_WINDOW_SECONDS", 1)
}

// LoadConfig reads dir/.env if it exists, then the environment, into a
// validated Config. v may carry overrides already set by the caller.
func LoadConfig(v *viper.Viper, dir string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.AutomaticEnv()

	if dir != "" {
		envFile := filepath.Join(dir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode target config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks limits, ports and the store backend.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be between 1 and 65535, got %d", c.AppPort))
	}
	if c.Store != StoreMemory && c.Store != StoreRedis {
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.Store))
	}
	if c.RateMaxRequestsByIP <= 0 {
		errs = append(errs, errors.New("RATE_MAX_REQUESTS_BY_IP must be greater than 0"))
	}
	if c.RateMaxRequestsByToken <= 0 {
		errs = append(errs, errors.New("RATE_MAX_REQUESTS_BY_TOKEN must be greater than 0"))
	}
	if c.RatePeriodWindowSeconds <= 0 {
		errs = append(errs, errors.New("RATE_PERIOD_WINDOW_SECONDS must be greater than 0"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.AppPort)
}

// RedisAddr is host:port of the Redis server.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// IPRate is the per-IP budget.
func (c *Config) IPRate() Rate {
	return NewRate(c.RateMaxRequestsByIP, c.RatePeriodWindowSeconds)
}

// TokenRate is the per-token budget.
func (c *Config) TokenRate() Rate {
	return NewRate(c.RateMaxRequestsByToken, c.RatePeriodWindowSeconds)
}
