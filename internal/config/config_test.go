package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHighRiskThreshold, cfg.HighRiskThreshold)
	assert.Equal(t, DefaultTwoFactorScore, cfg.TwoFactorScore)
	assert.True(t, cfg.TwoFactorAmount.Equal(decimal.RequireFromString(DefaultTwoFactorAmount)))
	assert.True(t, cfg.ApprovalCeiling.Equal(decimal.RequireFromString(DefaultApprovalCeiling)))
	assert.Equal(t, DefaultChallengeTTL, cfg.ChallengeTTL)
	assert.Equal(t, DefaultApprovalSLA, cfg.ApprovalSLA)
	assert.Equal(t, DefaultIdempotencyTTL, cfg.IdempotencyTTL)
	assert.Nil(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "HIGH_RISK_THRESHOLD", "0.85")
	setEnv(t, "APPROVAL_CEILING", "250000")
	setEnv(t, "CHALLENGE_TTL", "5m")
	setEnv(t, "KAFKA_BROKERS", "broker1:9092, broker2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.85, cfg.HighRiskThreshold)
	assert.True(t, cfg.ApprovalCeiling.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, 5*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_InvalidDecimal(t *testing.T) {
	setEnv(t, "TWO_FACTOR_AMOUNT", "not_a_number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TWO_FACTOR_AMOUNT")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			HighRiskThreshold: 0.70,
			TwoFactorScore:    0.40,
			TwoFactorAmount:   decimal.NewFromInt(10000),
			ApprovalCeiling:   decimal.NewFromInt(50000),
			ChallengeTTL:      10 * time.Minute,
			ApprovalSLA:       4 * time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"threshold above 1", func(c *Config) { c.HighRiskThreshold = 70 }, "HIGH_RISK_THRESHOLD"},
		{"zero 2fa score", func(c *Config) { c.TwoFactorScore = 0 }, "TWO_FACTOR_SCORE"},
		{"2fa score above high risk", func(c *Config) { c.TwoFactorScore = 0.9 }, "must not exceed"},
		{"negative 2fa amount", func(c *Config) { c.TwoFactorAmount = decimal.NewFromInt(-1) }, "TWO_FACTOR_AMOUNT"},
		{"2fa amount above ceiling", func(c *Config) { c.TwoFactorAmount = decimal.NewFromInt(99999999) }, "APPROVAL_CEILING"},
		{"zero challenge ttl", func(c *Config) { c.ChallengeTTL = 0 }, "CHALLENGE_TTL"},
		{"zero approval sla", func(c *Config) { c.ApprovalSLA = 0 }, "APPROVAL_SLA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_INVALID", "ninety")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_INVALID", time.Minute)) // Falls back on parse error
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a"}, splitList("a"))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b "))
}
