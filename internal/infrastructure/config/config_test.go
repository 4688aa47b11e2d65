package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "claims-settlement", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "claims", cfg.Database.DBName)
		assert.Equal(t, "payment", cfg.Settlement.Endpoint)
		assert.Equal(t, 3, cfg.Settlement.MaxRetries)
		assert.Equal(t, time.Second, cfg.Settlement.BaseBackoff)
		assert.Equal(t, 30*time.Second, cfg.Settlement.AttemptTimeout)
		assert.Equal(t, 16, cfg.Settlement.MaxWorkers)
		assert.False(t, cfg.Settlement.AutoSettle)
		assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
		assert.Equal(t, 2, cfg.Circuit.SuccessThreshold)
		assert.Equal(t, 60*time.Second, cfg.Circuit.OpenTimeout)
		assert.Equal(t, 0.75, cfg.Fraud.FlagThreshold)
		assert.Equal(t, 3.0, cfg.Fraud.AmountMultiple)
		assert.Equal(t, "USD", cfg.Payment.Currency)
		assert.True(t, cfg.Lock.Enabled)
		assert.Equal(t, 5*time.Minute, cfg.Lock.TTL)
		assert.Empty(t, cfg.Redis.Host)
		assert.Equal(t, "claims-settlement", cfg.Telemetry.ServiceName)
	})

	t.Run("loads values from environment variables with CLAIMS prefix", func(t *testing.T) {
		t.Setenv("CLAIMS_SETTLEMENT_MAX_RETRIES", "2")
		t.Setenv("CLAIMS_SETTLEMENT_BASE_BACKOFF", "250ms")
		t.Setenv("CLAIMS_SETTLEMENT_AUTO_SETTLE", "true")
		t.Setenv("CLAIMS_CIRCUIT_OPEN_TIMEOUT", "30s")
		t.Setenv("CLAIMS_REDIS_HOST", "cache.local")
		t.Setenv("CLAIMS_LOCK_ENABLED", "false")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 2, cfg.Settlement.MaxRetries)
		assert.Equal(t, 250*time.Millisecond, cfg.Settlement.BaseBackoff)
		assert.True(t, cfg.Settlement.AutoSettle)
		assert.Equal(t, 30*time.Second, cfg.Circuit.OpenTimeout)
		assert.Equal(t, "cache.local:6379", cfg.Redis.Addr())
		assert.False(t, cfg.Lock.Enabled)
	})

	t.Run("rejects half-configured discord webhook", func(t *testing.T) {
		t.Setenv("CLAIMS_NOTIFICATION_DISCORD_WEBHOOK_ID", "123")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discord_webhook_token")
	})

	t.Run("production requires payment base url", func(t *testing.T) {
		t.Setenv("CLAIMS_APP_ENV", "production")
		t.Setenv("CLAIMS_DATABASE_PASSWORD", "secret")
		t.Setenv("CLAIMS_DATABASE_SSLMODE", "require")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "payment.base_url")

		t.Setenv("CLAIMS_PAYMENT_BASE_URL", "https://payments.example.com")
		_, err = Load()
		assert.NoError(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	require.NoError(t, cfg.validate())

	cfg = base()
	cfg.Fraud.FlagThreshold = 1.5
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Settlement.MaxRetries = -1
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Payment.Currency = "DOLLARS"
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Database.MaxIdleConns = 100
	assert.Error(t, cfg.validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "claims", Password: "p@ss word", DBName: "claims", SSLMode: "disable"}
	assert.Equal(t, "postgres://claims:p%40ss%20word@db:5432/claims?sslmode=disable", d.DSN())
}
