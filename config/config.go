// Package config loads the gateway configuration from the process
// environment. All settings are flat environment variables; see the
// repository README for the complete list. Load returns an error on any
// malformed or out-of-bounds value so the process can exit non-zero before
// binding its listen socket.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete gateway configuration.
type Config struct {
	// Gemini upstream settings.
	GeminiAPIKeys  []string
	CoolingPeriod  time.Duration
	RequestTimeout time.Duration
	MaxRetries     int

	// Client and admin authentication. An empty AdapterAPIKeys list puts the
	// gateway in insecure mode: every client request is allowed. An empty
	// AdminAPIKeys list disables the admin endpoints entirely (403).
	AdapterAPIKeys []string
	AdminAPIKeys   []string

	// Per-client rate limiting.
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// HTTP service settings.
	Host        string
	Port        int
	LogLevel    string
	CORSOrigins []string
	Environment Environment

	// Response cache settings.
	CacheEnabled   bool
	CacheMaxSize   int
	CacheTTL       time.Duration
	CacheKeyPrefix string

	// Optional Redis backing store for the response cache.
	RedisURL string
}

// Load reads and validates the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		GeminiAPIKeys:  splitList(os.Getenv("GEMINI_API_KEYS")),
		AdapterAPIKeys: splitList(os.Getenv("SECURITY_ADAPTER_API_KEYS")),
		AdminAPIKeys:   splitList(os.Getenv("SECURITY_ADMIN_API_KEYS")),
		Host:           envDefault("SERVICE_HOST", "0.0.0.0"),
		LogLevel:       envDefault("SERVICE_LOG_LEVEL", "info"),
		CacheKeyPrefix: envDefault("CACHE_KEY_PREFIX", "geminigate"),
		RedisURL:       os.Getenv("DATABASE_REDIS_URL"),
	}

	if len(cfg.GeminiAPIKeys) == 0 {
		return nil, fmt.Errorf("GEMINI_API_KEYS is required and must contain at least one non-empty key")
	}

	var err error
	if cfg.CoolingPeriod, err = envSeconds("GEMINI_COOLING_PERIOD", 300, 60); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = envSeconds("GEMINI_REQUEST_TIMEOUT", 120, 10); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("GEMINI_MAX_RETRIES", 3, 1); err != nil {
		return nil, err
	}
	if cfg.Port, err = envInt("SERVICE_PORT", 8000, 1); err != nil {
		return nil, err
	}

	env := Environment(envDefault("SERVICE_ENVIRONMENT", string(EnvDevelopment)))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		cfg.Environment = env
	default:
		return nil, fmt.Errorf("SERVICE_ENVIRONMENT must be one of development, staging, production; got %q", env)
	}

	cfg.CORSOrigins = splitList(os.Getenv("SERVICE_CORS_ORIGINS"))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	if cfg.CacheEnabled, err = envBool("CACHE_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.CacheMaxSize, err = envInt("CACHE_MAX_SIZE", 1000, 0); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envSeconds("CACHE_TTL", 300, 1); err != nil {
		return nil, err
	}
	if cfg.CacheEnabled && cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("CACHE_MAX_SIZE must be positive when caching is enabled")
	}

	if cfg.RateLimitEnabled, err = envBool("SECURITY_ENABLE_RATE_LIMITING", true); err != nil {
		return nil, err
	}
	if cfg.RateLimitRequests, err = envInt("SECURITY_RATE_LIMIT_REQUESTS", 100, 1); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envSeconds("SECURITY_RATE_LIMIT_WINDOW", 60, 1); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Insecure reports whether the gateway accepts unauthenticated client
// requests.
func (c *Config) Insecure() bool { return len(c.AdapterAPIKeys) == 0 }

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// splitList splits a comma-separated environment value, trimming whitespace
// and dropping empty entries.
func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDefault(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def, min int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	if n < min {
		return 0, fmt.Errorf("%s must be >= %d; got %d", name, min, n)
	}
	return n, nil
}

func envSeconds(name string, def, min int) (time.Duration, error) {
	n, err := envInt(name, def, min)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, err)
	}
	return b, nil
}
