package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL    string
	DBDriver       string
	Port           string
	JWTSecret      string
	AccessTokenTTL time.Duration
	DevMode        bool

	LogLevel  string
	LogFormat string

	KafkaBroker string
	KafkaTopic  string

	DLTAPIURL     string
	DLTToken      string
	DLTRate       float64
	ProofInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           "8080", // default port
		DBDriver:       "postgres",
		AccessTokenTTL: 24 * time.Hour,
		LogLevel:       "info",
		LogFormat:      "text",
		KafkaTopic:     "devicehub.actions",
		DLTRate:        2,
		ProofInterval:  30 * time.Second,
	}

	// Load DATABASE_URL (required)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.DBDriver = driver
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite3" {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" {
		if _, err := url.Parse(databaseURL); err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	}

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	if ttl := os.Getenv("ACCESS_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
		}
		cfg.AccessTokenTTL = d
	}

	// Load DEV_MODE (optional, defaults to false)
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	// Kafka is optional; without a broker actions are only logged
	cfg.KafkaBroker = os.Getenv("KAFKA_BROKER")
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.KafkaTopic = topic
	}

	cfg.DLTAPIURL = strings.TrimRight(os.Getenv("DLT_API_URL"), "/")
	cfg.DLTToken = os.Getenv("DLT_TOKEN")
	if rate := os.Getenv("DLT_RATE"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("DLT_RATE must be a positive number, got %q", rate)
		}
		cfg.DLTRate = r
	}
	if interval := os.Getenv("PROOF_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid PROOF_INTERVAL: %w", err)
		}
		cfg.ProofInterval = d
	}

	return cfg, nil
}

// DLTEnabled reports whether proofs and roles are pushed to the ledger API
func (c *Config) DLTEnabled() bool {
	return c.DLTAPIURL != ""
}
