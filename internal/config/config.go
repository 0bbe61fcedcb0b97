package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// BrokerKind selects which ports.Broker adapter the process wires up.
type BrokerKind string

const (
	BrokerKindPaper BrokerKind = "paper"
	BrokerKindLive  BrokerKind = "live"
)

// Config holds application configuration, loaded once at process start.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Database
	DatabaseURL string

	// Broker adapter selection
	BrokerKind         BrokerKind
	BrokerCredentials  string // opaque; interpretation is adapter-specific
	ClockSkewTolerance time.Duration

	// Facade timeouts and retry policy
	SubmitTimeout   time.Duration
	RetryMaxAttempts int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8001),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		DatabaseURL:        getEnv("DATABASE_URL", "./data/trust.db"),
		BrokerKind:         BrokerKind(getEnv("BROKER_KIND", string(BrokerKindPaper))),
		BrokerCredentials:  getEnv("BROKER_CREDENTIALS", ""),
		ClockSkewTolerance: time.Duration(getEnvAsInt("CLOCK_SKEW_TOLERANCE_MS", 1000)) * time.Millisecond,
		SubmitTimeout:      time.Duration(getEnvAsInt("SUBMIT_TIMEOUT_MS", 10000)) * time.Millisecond,
		RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and internally consistent.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.BrokerKind {
	case BrokerKindPaper, BrokerKindLive:
	default:
		return fmt.Errorf("BROKER_KIND must be %q or %q, got %q", BrokerKindPaper, BrokerKindLive, c.BrokerKind)
	}

	if c.BrokerKind == BrokerKindLive && c.BrokerCredentials == "" {
		return fmt.Errorf("BROKER_CREDENTIALS is required when BROKER_KIND=live")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
