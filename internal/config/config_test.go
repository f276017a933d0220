package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 10<<20, cfg.WebSocket.MaxFrameBytes)
	assert.Equal(t, 5, cfg.Session.MaxConsecutiveFailures)
	assert.Equal(t, 0.98, cfg.Session.Similarity.Threshold)
	assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
server:
  port: "9001"
session:
  idle_timeout: 30s
  similarity:
    enabled: true
    threshold: 0.95
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9001", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Session.IdleTimeout)
	assert.True(t, cfg.Session.Similarity.Enabled)
	assert.Equal(t, 0.95, cfg.Session.Similarity.Threshold)
	// untouched sections keep defaults
	assert.Equal(t, 256, cfg.WebSocket.SendBufferSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("SESSION_MAX_SESSIONS", "4")
	t.Setenv("SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("WS_WRITE_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Session.MaxSessions)
	assert.Equal(t, 0.9, cfg.Session.Similarity.Threshold)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.WriteTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Session.Similarity.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.WebSocket.MaxFrameBytes = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Pipeline.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "8000", cfg.Server.Port)
}
