package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"alpha-engine/internal/alpha"
	"alpha-engine/internal/indicator"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Initial computation context
	Flags  alpha.Flags
	Groups int

	// Indicators recomputed on every refresh (INDICATORS="MA:20,SLOPE:10,...")
	Specs []indicator.Spec

	// Bars to load: timeframe in seconds and instrument keys ("" = all stored)
	TF   int
	Keys []string

	// Infrastructure
	HTTPAddr      string
	MetricsAddr   string
	RedisAddr     string // empty disables Redis
	RedisPassword string
	RedisDB       int
	SQLitePath    string

	// ADMIN_TOTP_SECRET guards PUT /api/v1/context when set
	AdminTOTPSecret string

	LogLevel        string
	Workers         int
	RefreshInterval int // seconds; 0 disables periodic recompute
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	flags, err := alpha.ParseFlags(getEnv("ALPHA_FLAGS", "none"))
	if err != nil {
		log.Printf("[config] invalid ALPHA_FLAGS: %v, using none", err)
		flags = alpha.FlagNone
	}

	return &Config{
		Flags:  flags,
		Groups: getEnvInt("ALPHA_GROUPS", 1),
		Specs:  indicator.ParseSpecs(getEnv("INDICATORS", "")),

		TF:   getEnvInt("BAR_TF", 60),
		Keys: parseList(getEnv("INSTRUMENTS", "")),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Workers:         getEnvInt("WORKERS", 0),
		RefreshInterval: getEnvInt("REFRESH_INTERVAL_SEC", 60),
	}
}

// Context builds the initial alpha.Context from Flags and Groups.
func (c *Config) Context() (alpha.Context, error) {
	return alpha.NewContextFromFlags(c.Flags, c.Groups)
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
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

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
