package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-broker
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "test-broker" {
		t.Errorf("expected name test-broker, got %q", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Service.LogLevel)
	}
	if cfg.State.Path != ":memory:" {
		t.Errorf("expected default state path :memory:, got %q", cfg.State.Path)
	}
	if cfg.API.Listen != "127.0.0.1:8080" {
		t.Errorf("expected default listen, got %q", cfg.API.Listen)
	}
	if cfg.Providers.TTL != 300*time.Second {
		t.Errorf("expected default provider TTL 300s, got %v", cfg.Providers.TTL)
	}
	if cfg.Queue.PendingTTL != 10*time.Minute {
		t.Errorf("expected default pending TTL 10m, got %v", cfg.Queue.PendingTTL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  log_level: debug
state:
  path: /tmp/broker.db
api:
  listen: "0.0.0.0:9090"
  sync_timeout: 30s
  max_sync_timeout: 60s
providers:
  ttl: 60s
queue:
  pending_ttl: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level: got %q", cfg.Service.LogLevel)
	}
	if cfg.State.Path != "/tmp/broker.db" {
		t.Errorf("state.path: got %q", cfg.State.Path)
	}
	if cfg.API.Listen != "0.0.0.0:9090" {
		t.Errorf("api.listen: got %q", cfg.API.Listen)
	}
	if cfg.API.SyncTimeout != 30*time.Second {
		t.Errorf("api.sync_timeout: got %v", cfg.API.SyncTimeout)
	}
	if cfg.Providers.TTL != 60*time.Second {
		t.Errorf("providers.ttl: got %v", cfg.Providers.TTL)
	}
	if cfg.Queue.PendingTTL != 2*time.Minute {
		t.Errorf("queue.pending_ttl: got %v", cfg.Queue.PendingTTL)
	}
}

func TestLoadInterpolatesEnvVars(t *testing.T) {
	t.Setenv("TEST_STATE_PATH", "/var/lib/inferline/state.db")

	path := writeConfig(t, `
state:
  path: ${TEST_STATE_PATH}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Path != "/var/lib/inferline/state.db" {
		t.Errorf("expected interpolated path, got %q", cfg.State.Path)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
service:
  log_level: loud
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestLoadRejectsInvertedTimeouts(t *testing.T) {
	path := writeConfig(t, `
api:
  sync_timeout: 60s
  max_sync_timeout: 30s
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for max_sync_timeout < sync_timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: fromdir\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "fromdir" {
		t.Errorf("expected name fromdir, got %q", cfg.Service.Name)
	}
}
