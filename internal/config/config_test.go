package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VAULTFLOW_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true, Retries: -1})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadFlowSectionAndRPCOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", tmp)
	configPath := filepath.Join(tmp, "config.yaml")
	body := `
backend:
  url: https://backend.example/api/v1
  token_env: TEST_VAULTFLOW_TOKEN
rpc:
  8453: https://base.example
flows:
  unwind_timeout: 90s
  register_attempts: 5
  register_backoff: 1s
redis:
  url: redis://localhost:6379/0
log:
  level: DEBUG
metrics:
  textfile: /var/lib/node_exporter/vaultflow.prom
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_VAULTFLOW_TOKEN", "jwt-from-env")
	t.Setenv("VAULTFLOW_RPC_42161", "https://arb.example")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.BackendURL != "https://backend.example/api/v1" {
		t.Fatalf("unexpected backend url: %s", settings.BackendURL)
	}
	if settings.BackendToken != "jwt-from-env" {
		t.Fatalf("expected token from env indirection, got %q", settings.BackendToken)
	}
	if settings.RPCOverrides[8453] != "https://base.example" || settings.RPCOverrides[42161] != "https://arb.example" {
		t.Fatalf("unexpected rpc overrides: %#v", settings.RPCOverrides)
	}
	if settings.UnwindTimeout != 90*time.Second || settings.RegisterAttempts != 5 || settings.RegisterBackoff != time.Second {
		t.Fatalf("unexpected flow settings: %+v", settings)
	}
	if settings.Retries != 2 {
		t.Fatalf("expected default retries, got %d", settings.Retries)
	}
	if settings.LogLevel != "debug" || settings.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected log/redis settings: %+v", settings)
	}
	if settings.MetricsTextfile != "/var/lib/node_exporter/vaultflow.prom" {
		t.Fatalf("unexpected metrics textfile: %s", settings.MetricsTextfile)
	}
	if settings.StorePath != filepath.Join(tmp, "vaultflow", "flows.db") {
		t.Fatalf("unexpected store path: %s", settings.StorePath)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("flows:\n  poll_interval: soon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected invalid duration to fail")
	}
}
