package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the admission service.
// Numeric trading policy lives in the YAML policy file, not here.
type Config struct {
	Port string

	// Paths
	PolicyPath string // YAML policy; empty uses the built-in default
	StatePath  string // JSON engine-state snapshot
	DBPath     string // SQLite decision/fill journal

	// Volatility buffer
	PriceBufferSize int

	// Logging
	LogLevel  string // debug, info, warn, error
	LogPretty bool   // console writer instead of JSON
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:            getEnv("PORT", "8090"),
		PolicyPath:      getEnv("POLICY_PATH", ""),
		StatePath:       getEnv("STATE_PATH", "./data/risk_state.json"),
		DBPath:          getEnv("DB_PATH", "./data/journal.db"),
		PriceBufferSize: getEnvInt("PRICE_BUFFER_SIZE", 256),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnv("LOG_PRETTY", "false") == "true",
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
