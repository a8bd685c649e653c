package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `
hyperliquid:
  account: "0xabc"
  base_url: "https://api.hyperliquid.xyz"
llm:
  provider: "anthropic"
  model: "claude"
governance:
  state_persistence_path: "state/governor.json"
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Agent.LogLevel)
	require.Equal(t, 1.25, cfg.Risk.TargetInitialMarginRatio)
	require.Equal(t, 50.0, cfg.Governance.EmergencyReductionPct)
}

func TestLoadFailsValidationWhenRequiredFieldMissing(t *testing.T) {
	path := writeTempConfig(t, `
hyperliquid:
  base_url: "https://api.hyperliquid.xyz"
llm:
  provider: "anthropic"
  model: "claude"
governance:
  state_persistence_path: "state/governor.json"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "hyperliquid.account")
}

func TestLoadMissingStatePersistencePathFails(t *testing.T) {
	path := writeTempConfig(t, `
hyperliquid:
  account: "0xabc"
  base_url: "https://api.hyperliquid.xyz"
llm:
  provider: "anthropic"
  model: "claude"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "governance.state_persistence_path")
}

func TestEnvOverrideAppliesLogLevel(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Agent.LogLevel)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
