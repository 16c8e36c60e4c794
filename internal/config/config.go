package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Postgres archive of changes and comments. Optional: with no DB_HOST
	// the server runs memory-only.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis relay for multi-node broadcast. Optional: empty disables it.
	RedisAddr string

	// Archive worker pool
	ArchiveWorkers   int
	ArchiveQueueSize int

	// Session defaults
	DefaultMaxParticipants int

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "collab_engine"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		ArchiveWorkers:   getEnvInt("ARCHIVE_WORKERS", 4),
		ArchiveQueueSize: getEnvInt("ARCHIVE_QUEUE_SIZE", 1024),

		DefaultMaxParticipants: getEnvInt("DEFAULT_MAX_PARTICIPANTS", 50),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.DefaultMaxParticipants <= 0 {
		return nil, fmt.Errorf("DEFAULT_MAX_PARTICIPANTS must be positive")
	}

	return cfg, nil
}

// ArchiveEnabled reports whether the Postgres archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.DBHost != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
