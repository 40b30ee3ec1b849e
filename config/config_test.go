package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresGeminiKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "GEMINI_API_KEYS")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-one, key-two ,,")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"key-one", "key-two"}, cfg.GeminiAPIKeys)
	require.Equal(t, 300*time.Second, cfg.CoolingPeriod)
	require.Equal(t, 120*time.Second, cfg.RequestTimeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, EnvDevelopment, cfg.Environment)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.True(t, cfg.CacheEnabled)
	require.True(t, cfg.Insecure())
	require.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoadBoundsChecked(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k")
	t.Setenv("GEMINI_COOLING_PERIOD", "30")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMINI_COOLING_PERIOD", "60")
	t.Setenv("GEMINI_REQUEST_TIMEOUT", "5")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("GEMINI_REQUEST_TIMEOUT", "10")
	t.Setenv("GEMINI_MAX_RETRIES", "0")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadCacheSizeBound(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("CACHE_MAX_SIZE", "0")
	_, err := Load()
	require.NoError(t, err, "size bound only applies when the cache is enabled")

	t.Setenv("CACHE_ENABLED", "true")
	_, err = Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CACHE_MAX_SIZE")
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k")
	t.Setenv("SERVICE_ENVIRONMENT", "qa")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SERVICE_ENVIRONMENT")
}

func TestLoadSecurityLists(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k")
	t.Setenv("SECURITY_ADAPTER_API_KEYS", "c1,c2")
	t.Setenv("SECURITY_ADMIN_API_KEYS", "a1")
	t.Setenv("SERVICE_CORS_ORIGINS", "https://a.example, https://b.example")
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Insecure())
	require.Equal(t, []string{"c1", "c2"}, cfg.AdapterAPIKeys)
	require.Equal(t, []string{"a1"}, cfg.AdminAPIKeys)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}
