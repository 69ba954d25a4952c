package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 20, cfg.BookLevels)
	assert.Nil(t, cfg.NATSURLs)
}

func TestNew_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("EXCHANGE_ENV", "production")
	t.Setenv("EXCHANGE_NATS_URLS", "nats://a:4222, nats://b:4222")
	t.Setenv("EXCHANGE_SNAPSHOT_INTERVAL", "30s")
	t.Setenv("EXCHANGE_IDEMPOTENCY_TTL", "2h")
	t.Setenv("EXCHANGE_BOOK_LEVELS", "50")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATSURLs)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 50, cfg.BookLevels)
}

func TestNew_InvalidDurationIsRejected(t *testing.T) {
	t.Setenv("EXCHANGE_SNAPSHOT_INTERVAL", "not-a-duration")
	_, err := New()
	assert.Error(t, err)
}

func TestNew_InvalidBookLevelsIsRejected(t *testing.T) {
	t.Setenv("EXCHANGE_BOOK_LEVELS", "nope")
	_, err := New()
	assert.Error(t, err)
}
