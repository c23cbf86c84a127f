package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string // text|json

	CORSOrigins []string

	// Dedup thresholds. The window bounds how far apart two submissions of
	// the same attempt may start; the threshold is the minimum answer
	// similarity for a duplicate match.
	DedupWindow         time.Duration
	SimilarityThreshold float64
}

// FromEnv loads configuration from the environment, reading a .env file
// first when one exists.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:            envOr("HTTP_ADDR", ":8080"),
		DBDriver:            envOr("DB_DRIVER", "sqlite"),
		DBDSN:               envOr("DB_DSN", ""),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "text"),
		CORSOrigins:         csvOr("CORS_ORIGINS", "*"),
		DedupWindow:         time.Duration(envInt("DEDUP_WINDOW_MINUTES", 7)) * time.Minute,
		SimilarityThreshold: envFloat("DEDUP_SIMILARITY_THRESHOLD", 0.92),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
