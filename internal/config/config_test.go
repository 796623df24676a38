package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/gearshare")
	t.Setenv("AUTH_JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, int64(8500), cfg.OwnerShareBasisPoints)
	assert.Equal(t, 10*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Equal(t, time.Hour, cfg.CompletionSweepInterval)
	assert.Equal(t, 720*time.Hour, cfg.ProcessedRetention)
	assert.False(t, cfg.StripeEnabled())
}

func TestLoad_EnvFile(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":9090")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_ADDR=:7070\nKAFKA_BROKERS=k1:9092,k2:9092\nLOG_FORMAT=console\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("KAFKA_BROKERS")
		os.Unsetenv("LOG_FORMAT")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "AUTH_JWT_SECRET")

	os.Unsetenv("DATABASE_URL")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestValidate(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.OwnerShareBasisPoints = 0
	assert.ErrorContains(t, bad.Validate(), "OWNER_SHARE_BASIS_POINTS")

	bad = cfg
	bad.ExternalTimeout = time.Minute
	assert.ErrorContains(t, bad.Validate(), "EXTERNAL_TIMEOUT")

	bad = cfg
	bad.StripeWebhookSecret = "whsec"
	assert.ErrorContains(t, bad.Validate(), "STRIPE_SECRET_KEY")

	bad = cfg
	bad.LogFormat = "xml"
	assert.ErrorContains(t, bad.Validate(), "LOG_FORMAT")
}
