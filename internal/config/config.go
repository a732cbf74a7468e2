// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	StripeAPIKey string // Required in production; empty uses the fake gateway

	// Bid lifecycle
	ReviewWindow      time.Duration // How long merchants get before the sweep decides
	SweepInterval     time.Duration
	ReconcileInterval time.Duration

	// Security
	AdminSecret   string // Protects operator endpoints (sweep trigger, merchant admin)
	WebhookSecret string
	RateLimitRPS  int

	// CORS origin for the embedded widget ("" allows all, development only)
	WidgetOrigin string
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultRateLimit     = 100
	DefaultReviewWindow  = 10 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeAPIKey:      os.Getenv("STRIPE_API_KEY"),
		ReviewWindow:      getEnvDuration("REVIEW_WINDOW", DefaultReviewWindow),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		WidgetOrigin:      os.Getenv("WIDGET_ORIGIN"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.StripeAPIKey == "" {
			return fmt.Errorf("STRIPE_API_KEY is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}
	if c.ReviewWindow <= 0 {
		return fmt.Errorf("REVIEW_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
