package target

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, int64(10), cfg.RateMaxRequestsByIP)
	assert.Equal(t, int64(100), cfg.RateMaxRequestsByToken)
	assert.Equal(t, Rate{Limit: 10, Period: time.Second}, cfg.IPRate())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("RATE_MAX_REQUESTS_BY_TOKEN", "5")
	t.Setenv("STORE", "redis")

	cfg, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.AppPort)
	assert.Equal(t, int64(5), cfg.RateMaxRequestsByToken)
	assert.Equal(t, StoreRedis, cfg.Store)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	content := "RATE_MAX_REQUESTS_BY_IP=3\nRATE_PERIOD_WINDOW_SECONDS=10\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644))

	cfg, err := LoadConfig(viper.New(), dir)
	require.NoError(t, err)
	assert.Equal(t, Rate{Limit: 3, Period: 10 * time.Second}, cfg.IPRate())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("STORE", "memcached")
	t.Setenv("RATE_PERIOD_WINDOW_SECONDS", "0")

	_, err := LoadConfig(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE")
	assert.Contains(t, err.Error(), "RATE_PERIOD_WINDOW_SECONDS")
}

func TestLoadConfig_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("APP_PORT", 7000)

	cfg, err := LoadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.AppPort)
}
