package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL    string
	DBMaxOpenConns int

	// Transactions
	TxTimeout        time.Duration
	BatchTxTimeout   time.Duration
	TxRetryAttempts  int
	TxRetryBaseDelay time.Duration
	LockTimeout      time.Duration
	LockBackend      string

	// ERA batch posting
	BatchSize        int
	BatchItemTimeout time.Duration
	BatchYield       time.Duration

	// Background Workers
	WorkerCount int

	// Events
	KafkaBrokers     []string
	KafkaTopicPrefix string

	// CORS
	AllowedOrigins []string

	// Sentry
	SentryDSN string
}

// Lock backends
const (
	LockBackendMemory   = "memory"
	LockBackendPostgres = "postgres"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
		TxTimeout:        getEnvAsDuration("TX_TIMEOUT", 30*time.Second),
		BatchTxTimeout:   getEnvAsDuration("BATCH_TX_TIMEOUT", 300*time.Second),
		TxRetryAttempts:  getEnvAsInt("TX_RETRY_ATTEMPTS", 3),
		TxRetryBaseDelay: getEnvAsDuration("TX_RETRY_BASE_DELAY", 100*time.Millisecond),
		LockTimeout:      getEnvAsDuration("LOCK_TIMEOUT", 10*time.Second),
		LockBackend:      getEnv("LOCK_BACKEND", LockBackendMemory),
		BatchSize:        getEnvAsInt("BATCH_SIZE", 10),
		BatchItemTimeout: getEnvAsDuration("BATCH_ITEM_TIMEOUT", 10*time.Second),
		BatchYield:       getEnvAsDuration("BATCH_YIELD", 0),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 5),
		KafkaBrokers:     getEnvAsSlice("KAFKA_BROKERS", nil),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "rcm"),
		AllowedOrigins:   getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the ledger cannot run with
func (c *Config) Validate() error {
	if c.TxTimeout <= 0 {
		return fmt.Errorf("TX_TIMEOUT must be positive, got %s", c.TxTimeout)
	}
	if c.BatchTxTimeout < c.TxTimeout {
		return fmt.Errorf("BATCH_TX_TIMEOUT (%s) must not be shorter than TX_TIMEOUT (%s)", c.BatchTxTimeout, c.TxTimeout)
	}
	if c.TxRetryAttempts < 1 {
		return fmt.Errorf("TX_RETRY_ATTEMPTS must be at least 1, got %d", c.TxRetryAttempts)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.LockBackend != LockBackendMemory && c.LockBackend != LockBackendPostgres {
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendMemory, LockBackendPostgres, c.LockBackend)
	}
	if c.LockBackend == LockBackendPostgres && c.IsSQLite() {
		return fmt.Errorf("LOCK_BACKEND=postgres requires a postgres DATABASE_URL")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	return nil
}

// IsProduction returns true when running with ENVIRONMENT=production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsSQLite reports whether DATABASE_URL points at a sqlite file
func (c *Config) IsSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite://")
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an environment variable as a Go duration ("30s", "250ms")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
