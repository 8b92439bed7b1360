package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Team     TeamConfig
	Fetch    FetchConfig
	Snapshot SnapshotConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// TeamConfig identifies the upstream team whose members are ranked
type TeamConfig struct {
	ID         string `validate:"required"`
	LichessURL string `validate:"required,url"`
	UserAgent  string `validate:"required"`
}

// FetchConfig tunes the fetch pipeline (accuracy over throughput)
type FetchConfig struct {
	MaxWorkers     int           `validate:"min=1,max=64"`
	ActiveDays     int           `validate:"min=1"`
	RequestTimeout time.Duration `validate:"min=1s"`
	RetryAttempts  int           `validate:"min=1,max=10"`
	RetryBackoff   time.Duration `validate:"min=100ms"`
	FetchHistory   bool
}

// SnapshotConfig holds snapshot persistence configuration
type SnapshotConfig struct {
	Path            string `validate:"required"`
	RefreshInterval time.Duration
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int `validate:"min=1,max=65535"`
}

// DatabaseConfig holds the optional PostgreSQL archive configuration
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the optional Redis cache configuration
type RedisConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Team: TeamConfig{
			ID:         getEnv("TEAM_ID", "xadrezjovemes"),
			LichessURL: getEnv("LICHESS_URL", "https://lichess.org"),
			UserAgent:  getEnv("USER_AGENT", "xadrezjovemes-ranking/1.0"),
		},
		Fetch: FetchConfig{
			MaxWorkers:     getEnvAsInt("MAX_WORKERS", 8),
			ActiveDays:     getEnvAsInt("ACTIVE_DAYS", 30),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 8*time.Second),
			RetryAttempts:  getEnvAsInt("RETRY_ATTEMPTS", 3),
			RetryBackoff:   getEnvAsDuration("RETRY_BACKOFF", time.Second),
			FetchHistory:   getEnvAsBool("FETCH_HISTORY", true),
		},
		Snapshot: SnapshotConfig{
			Path:            getEnv("SNAPSHOT_PATH", "docs/players.json"),
			RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", time.Hour),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("BACKEND_PORT", 8000),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ranking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Username: getEnv("REDIS_USERNAME", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ActivityWindow returns the recency threshold as a duration
func (c *Config) ActivityWindow() time.Duration {
	return time.Duration(c.Fetch.ActiveDays) * 24 * time.Hour
}

// DatabaseEnabled reports whether the PostgreSQL archive is configured
func (c *Config) DatabaseEnabled() bool {
	return c.Database.URL != "" || c.Database.Host != ""
}

// RedisEnabled reports whether the Redis cache is configured
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// GetDSN returns the PostgreSQL DSN
func (c *Config) GetDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
