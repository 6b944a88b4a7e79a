package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Daemon.ShutdownGraceTimeout)
	assert.Equal(t, "", cfg.Daemon.StatusAddr)

	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.TickInterval)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/pueued.yaml"

	configContent := `
daemon:
  datadir: "/tmp/pueue-data"
  shutdowngracetimeout: 5s

scheduler:
  tickinterval: 100ms

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pueue-data", cfg.Daemon.DataDir)
	assert.Equal(t, 5*time.Second, cfg.Daemon.ShutdownGraceTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDaemonConfig_Fields(t *testing.T) {
	cfg := DaemonConfig{
		DataDir:              "/var/lib/pueue",
		LogDir:               "/var/lib/pueue/logs",
		ShutdownGraceTimeout: 10 * time.Second,
		StatusAddr:           "127.0.0.1:9190",
	}

	assert.Equal(t, "/var/lib/pueue", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGraceTimeout)
	assert.Equal(t, "127.0.0.1:9190", cfg.StatusAddr)
}

func TestTransportConfig_Fields(t *testing.T) {
	cfg := TransportConfig{
		SocketPath: "/run/pueued/pueued.socket",
		SecretPath: "/run/pueued/pueued.secret",
	}

	assert.Equal(t, "/run/pueued/pueued.socket", cfg.SocketPath)
	assert.Equal(t, "/run/pueued/pueued.secret", cfg.SecretPath)
}

func TestGroupConfig_Fields(t *testing.T) {
	cfg := GroupConfig{ParallelSlots: 4}
	assert.Equal(t, 4, cfg.ParallelSlots)
}
