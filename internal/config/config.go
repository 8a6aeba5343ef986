package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Blob storage for chunks and replay artifacts
	StorageType string
	StoragePath string

	// Finalizer
	FinalizerWorkers int

	// Retention
	RetentionDays       int
	RetentionHashKey    string
	SamplingRatePercent int

	// Operator dashboard
	DashboardURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),
		StorageType: getEnvOrDefault("STORAGE_TYPE", "local"),
		StoragePath: getEnvOrDefault("STORAGE_PATH", "./recordings"),

		FinalizerWorkers: getEnvAsIntOrDefault("FINALIZER_WORKERS", 2),

		RetentionDays:       getEnvAsIntOrDefault("RETENTION_DAYS", 90),
		RetentionHashKey:    getEnvOrDefault("RETENTION_HASH_KEY", ""),
		SamplingRatePercent: getEnvAsIntOrDefault("SAMPLING_RATE_PERCENT", 100),

		DashboardURL: getEnvOrDefault("DASHBOARD_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
