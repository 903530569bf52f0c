package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, []string{"image/jpeg", "image/png"}, cfg.AllowedTypes)
	assert.Equal(t, int64(10<<20), cfg.MaxImageSize)
	assert.Equal(t, time.Hour, cfg.PresignTTL)
	assert.Equal(t, 5, cfg.TaskMaxRetry)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, ":9090", cfg.MetricsAddress)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CATSCAN_ALLOWED_TYPES", " IMAGE/PNG , ,image/jpeg")
	t.Setenv("CATSCAN_WORKERS", "-3")
	t.Setenv("CATSCAN_TASK_TIMEOUT", "15s")
	t.Setenv("CATSCAN_S3_USE_SSL", "true")
	t.Setenv("CATSCAN_SIGNING_SECRET", "topsecret")
	t.Setenv("CATSCAN_PUBLIC_BASE_URL", "https://cats.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.AllowedTypes)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 15*time.Second, cfg.TaskTimeout)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, []byte("topsecret"), cfg.SigningSecret)
	assert.Equal(t, "https://cats.example.com", cfg.PublicBaseURL)
}

func TestLoadRejectsBadConfidence(t *testing.T) {
	t.Setenv("CATSCAN_MIN_CONFIDENCE", "150")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnstorableTypes(t *testing.T) {
	t.Setenv("CATSCAN_ALLOWED_TYPES", "image/png,image/gif")
	_, err := Load()
	assert.ErrorContains(t, err, "CATSCAN_ALLOWED_TYPES")
}

func TestLoadSweepInterval(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.SweepInterval)

	t.Setenv("CATSCAN_SWEEP_INTERVAL", "30s")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}
