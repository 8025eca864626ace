package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TILE_SIZE", "CACHE_POLICY", "FETCH_RPS", "VIEW_WAIT_MS", "UPLOAD_TOKEN"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 256, cfg.TileSize)
	assert.Equal(t, "cost", cfg.CachePolicy)
	assert.Equal(t, 2000, cfg.CacheTiles)
	assert.Equal(t, 0.0, cfg.FetchRPS)
	assert.Equal(t, 2*time.Second, cfg.ViewWait)
	assert.True(t, cfg.IsUploadPublic())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("TILE_SIZE", "512")
	t.Setenv("CACHE_POLICY", "lru")
	t.Setenv("FETCH_RPS", "12.5")
	t.Setenv("FETCH_TIMEOUT_MS", "150")
	t.Setenv("UPLOAD_TOKEN", "secret")
	t.Setenv("FETCH_WORKERS", "not a number")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 512, cfg.TileSize)
	assert.Equal(t, "lru", cfg.CachePolicy)
	assert.Equal(t, 12.5, cfg.FetchRPS)
	assert.Equal(t, 150*time.Millisecond, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.FetchWorkers)
	assert.False(t, cfg.IsUploadPublic())
}

func TestValidate(t *testing.T) {
	t.Setenv("CACHE_POLICY", "")
	cfg := Load()
	cfg.TileSize = 0
	cfg.FetchWorkers = -1
	cfg.CachePolicy = "fifo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TILE_SIZE")
	assert.Contains(t, err.Error(), "FETCH_WORKERS")
	assert.Contains(t, err.Error(), "CACHE_POLICY")
}
