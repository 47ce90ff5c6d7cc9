package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	require.Equal(t, ":8443", cfg.Server.ListenAddr)
	require.Equal(t, 30, cfg.Server.ShutdownTimeout)
	require.Equal(t, "development", cfg.Server.Env)
	require.Equal(t, 5000, cfg.History.ProcessRingCapacity)
	require.Equal(t, 10000, cfg.History.SecurityRingCapacity)
	require.Equal(t, 5000, cfg.Detection.AlertRingCapacity)
	require.Equal(t, 2000, cfg.Detection.CorrelationMaxKeys)
	require.Equal(t, 10000, cfg.Detection.CorrelationPurgeEvery)
	require.Equal(t, 300, cfg.Detection.CorrelationMaxAgeSec)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{History: HistoryConfig{ProcessRingCapacity: 42}}
	cfg.applyDefaults()
	require.Equal(t, 42, cfg.History.ProcessRingCapacity)
}

func TestApplyEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("SENTINEL_LISTEN_ADDR", ":9999")
	t.Setenv("SENTINEL_DEFAULT_AUDIT_MODE", "true")
	t.Setenv("SENTINEL_PROCESS_RING_CAPACITY", "123")

	cfg := &Config{}
	cfg.applyEnvOverrides()

	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.True(t, cfg.Policy.DefaultAuditMode)
	require.Equal(t, 123, cfg.History.ProcessRingCapacity)
}

func TestLoadConfigParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "server:\n  listen_addr: \":1234\"\nhistory:\n  process_ring_capacity: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.Server.ListenAddr)
	require.Equal(t, 7, cfg.History.ProcessRingCapacity)
}

func TestLoadConfigReturnsErrorForMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Env: "production"}}
	require.True(t, cfg.IsProduction())

	cfg.Server.Env = "development"
	require.False(t, cfg.IsProduction())
}
