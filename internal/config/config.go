// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Event streaming
	KafkaBrokers []string // optional, lifecycle events disabled if empty
	KafkaTopic   string

	// Tracing
	OTLPEndpoint string // optional, tracing disabled if empty

	// Authorization thresholds. Scores use the [0,1] scale throughout.
	HighRiskThreshold float64         // score at or above this is suspicious
	TwoFactorScore    float64         // score at or above this requires a one-time code
	TwoFactorAmount   decimal.Decimal // amount at or above this requires a one-time code
	ApprovalCeiling   decimal.Decimal // amount at or above this requires staff approval

	// Lifecycle timing
	ChallengeTTL   time.Duration // one-time code validity window
	ApprovalSLA    time.Duration // max time in pending_approval before escalation
	SweepInterval  time.Duration // escalation scheduler tick
	IdempotencyTTL time.Duration // idempotency record retention

	// Notification webhooks
	CodeWebhookURL     string // endpoint receiving one-time code notifications
	ApproverWebhookURL string // endpoint receiving approval-queue alerts
	WebhookSecret      string
}

// Defaults.
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultKafkaTopic        = "transfer_lifecycle"
	DefaultHighRiskThreshold = 0.70
	DefaultTwoFactorScore    = 0.40
	DefaultTwoFactorAmount   = "10000"
	DefaultApprovalCeiling   = "50000"
	DefaultChallengeTTL      = 10 * time.Minute
	DefaultApprovalSLA       = 4 * time.Hour
	DefaultSweepInterval     = 30 * time.Second
	DefaultIdempotencyTTL    = 24 * time.Hour
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HighRiskThreshold:  getEnvFloat("HIGH_RISK_THRESHOLD", DefaultHighRiskThreshold),
		TwoFactorScore:     getEnvFloat("TWO_FACTOR_SCORE", DefaultTwoFactorScore),
		ChallengeTTL:       getEnvDuration("CHALLENGE_TTL", DefaultChallengeTTL),
		ApprovalSLA:        getEnvDuration("APPROVAL_SLA", DefaultApprovalSLA),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		IdempotencyTTL:     getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),
		CodeWebhookURL:     os.Getenv("CODE_WEBHOOK_URL"),
		ApproverWebhookURL: os.Getenv("APPROVER_WEBHOOK_URL"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
	}

	var err error
	cfg.TwoFactorAmount, err = getEnvDecimal("TWO_FACTOR_AMOUNT", DefaultTwoFactorAmount)
	if err != nil {
		return nil, err
	}
	cfg.ApprovalCeiling, err = getEnvDecimal("APPROVAL_CEILING", DefaultApprovalCeiling)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.HighRiskThreshold <= 0 || c.HighRiskThreshold > 1 {
		return fmt.Errorf("HIGH_RISK_THRESHOLD must be in (0,1], got %v", c.HighRiskThreshold)
	}
	if c.TwoFactorScore <= 0 || c.TwoFactorScore > 1 {
		return fmt.Errorf("TWO_FACTOR_SCORE must be in (0,1], got %v", c.TwoFactorScore)
	}
	if c.TwoFactorScore > c.HighRiskThreshold {
		return fmt.Errorf("TWO_FACTOR_SCORE (%v) must not exceed HIGH_RISK_THRESHOLD (%v)",
			c.TwoFactorScore, c.HighRiskThreshold)
	}
	if c.TwoFactorAmount.Sign() <= 0 {
		return fmt.Errorf("TWO_FACTOR_AMOUNT must be positive")
	}
	if c.ApprovalCeiling.Sign() <= 0 {
		return fmt.Errorf("APPROVAL_CEILING must be positive")
	}
	if c.TwoFactorAmount.GreaterThan(c.ApprovalCeiling) {
		return fmt.Errorf("TWO_FACTOR_AMOUNT must not exceed APPROVAL_CEILING")
	}
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be positive")
	}
	if c.ApprovalSLA <= 0 {
		return fmt.Errorf("APPROVAL_SLA must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
