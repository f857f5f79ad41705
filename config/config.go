package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration values.
type Config struct {
	// Server
	Addr            string
	AdminAddr       string // loopback-only admin surface, see middleware.LoopbackOnly
	Env             string
	GracefulTimeout time.Duration

	// Redis — optional distribution backend for session directives and
	// quota snapshots; absence degrades to in-process maps.
	RedisURL string

	// Authentication
	APIKeyHeader string
	GatewayAPIKey string // shared key dataplane callers must present

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int // requests per minute per key
	RateLimitBurst   int

	// Timeouts
	DefaultTimeout time.Duration

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string

	// Declarative Provider Profile / Route Definition files. Parsing
	// itself lives in config/providers.go and config/routes.go; this
	// struct only carries the paths.
	ProvidersFile string
	RoutesFile    string

	// Quota control loop tuning.
	QuotaBlacklistThreshold int
	QuotaRefreshIntervalSec int
}

// Load reads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)
	defaultTimeoutSec := getEnvInt("GATEWAY_DEFAULT_TIMEOUT_SEC", 120)

	cfg := &Config{
		Addr:                    getEnv("GATEWAY_ADDR", ":8080"),
		AdminAddr:               getEnv("GATEWAY_ADMIN_ADDR", "127.0.0.1:8081"),
		Env:                     getEnv("ENV", "development"),
		GracefulTimeout:         time.Duration(gracefulSec) * time.Second,
		RedisURL:                getEnv("REDIS_URL", ""),
		APIKeyHeader:            getEnv("API_KEY_HEADER", "Authorization"),
		GatewayAPIKey:           getEnv("GATEWAY_API_KEY", ""),
		RateLimitEnabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:            getEnvInt("RATE_LIMIT_RPM", 60),
		RateLimitBurst:          getEnvInt("RATE_LIMIT_BURST", 10),
		DefaultTimeout:          time.Duration(defaultTimeoutSec) * time.Second,
		MaxBodyBytes:            int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		ProvidersFile:           getEnv("GATEWAY_PROVIDERS_FILE", ""),
		RoutesFile:              getEnv("GATEWAY_ROUTES_FILE", ""),
		QuotaBlacklistThreshold: getEnvInt("GATEWAY_QUOTA_BLACKLIST_THRESHOLD", 3),
		QuotaRefreshIntervalSec: getEnvInt("GATEWAY_QUOTA_REFRESH_INTERVAL_SEC", 60),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
