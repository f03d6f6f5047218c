package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Load() is the only place that reads the environment.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// BSE StAR MF order-entry gateway
	BSE BSEConfig

	// Pipeline worker
	Pipeline PipelineConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// BSEConfig holds BSE StAR MF gateway configuration.
type BSEConfig struct {
	BaseURL string

	// MockMode replaces the live transport with a deterministic local
	// substitute. Read once at startup; never consulted mid-job.
	MockMode bool

	// CredentialKey is the hex-encoded AES-256 key used to decrypt
	// per-advisor partner credentials at rest.
	CredentialKey string

	RequestTimeout time.Duration
	TokenTTL       time.Duration
	TokenSkew      time.Duration
}

// PipelineConfig holds order submission worker configuration.
type PipelineConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		BSE: BSEConfig{
			BaseURL:        getEnv("BSE_BASE_URL", "https://bsestarmfdemo.bseindia.com"),
			MockMode:       getEnvAsBool("BSE_MOCK_MODE", true),
			CredentialKey:  getEnv("BSE_CREDENTIAL_KEY", ""),
			RequestTimeout: getEnvAsDuration("BSE_REQUEST_TIMEOUT", "30s"),
			TokenTTL:       getEnvAsDuration("BSE_TOKEN_TTL", "1h"),
			TokenSkew:      getEnvAsDuration("BSE_TOKEN_SKEW", "5m"),
		},

		Pipeline: PipelineConfig{
			Concurrency:  getEnvAsInt("PIPELINE_CONCURRENCY", 5),
			PollInterval: getEnvAsDuration("PIPELINE_POLL_INTERVAL", "1s"),
			MaxAttempts:  getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			RetryBackoff: getEnvAsDuration("PIPELINE_RETRY_BACKOFF", "30s"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	// Live mode needs the key that unlocks advisor credentials.
	if !c.BSE.MockMode && c.BSE.CredentialKey == "" {
		return fmt.Errorf("BSE_CREDENTIAL_KEY is required when BSE_MOCK_MODE is false")
	}

	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("PIPELINE_CONCURRENCY must be at least 1")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
