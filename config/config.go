package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP control plane
	HTTPAddr string

	// Data layout
	CacheDir string

	// Exchange client
	BybitBaseURL  string
	BybitCategory string

	// Optional infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string

	// Model defaults
	DefaultSymbol   string
	DefaultInterval string
	ActGate         float64

	// Background workers
	AutoBackfill        bool
	AutoBackfillSymbols string
	Lifecycle           bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),
		CacheDir: getEnv("CACHE_DIR", "cache"),

		BybitBaseURL:  getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
		BybitCategory: getEnv("BYBIT_CATEGORY", "linear"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "cache/journal.db"),

		DefaultSymbol:   getEnv("DEFAULT_SYMBOL", "BTCUSDT"),
		DefaultInterval: getEnv("DEFAULT_INTERVAL", "15"),
		ActGate:         getEnvFloat("ACT_GATE", 0.10),

		AutoBackfill:        getEnvBool("AUTO_BACKFILL", false),
		AutoBackfillSymbols: getEnv("AUTO_BACKFILL_SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT"),
		Lifecycle:           getEnvBool("LIFECYCLE", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParseSymbols splits the auto-backfill symbol list.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.AutoBackfillSymbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p))
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] skipping invalid float for %s: %q", key, v)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}
