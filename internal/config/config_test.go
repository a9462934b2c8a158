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

	assert.Equal(t, "postgres://localhost:5432/aintq?sslmode=disable", cfg.Database.DSN)
	assert.EqualValues(t, 20, cfg.Database.PoolSize)
	assert.EqualValues(t, 2, cfg.Database.MinConns)
	assert.Equal(t, 5*time.Second, cfg.Database.ConnectTimeout)

	assert.Equal(t, 8, cfg.Worker.Size)
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
database:
  dsn: "postgres://db:5432/aintq"
  poolsize: 40

worker:
  size: 16

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://db:5432/aintq", cfg.Database.DSN)
	assert.EqualValues(t, 40, cfg.Database.PoolSize)
	assert.Equal(t, 16, cfg.Worker.Size)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestWorkerConfig_Fields(t *testing.T) {
	cfg := WorkerConfig{Size: 12, ShutdownTimeout: 15 * time.Second}
	assert.Equal(t, 12, cfg.Size)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestDatabaseConfig_Fields(t *testing.T) {
	cfg := DatabaseConfig{DSN: "postgres://x", PoolSize: 5, MinConns: 1, ConnectTimeout: time.Second}
	assert.Equal(t, "postgres://x", cfg.DSN)
	assert.EqualValues(t, 5, cfg.PoolSize)
}
