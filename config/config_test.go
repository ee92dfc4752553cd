package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("cannot write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
alarmflow:
  name: test
auth:
  secret: unit-test-secret
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Storage.Path != "data/alarms.db" {
		t.Fatalf("expected default storage path, got %q", cfg.Storage.Path)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("expected default token ttl, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	path := writeConfig(t, `
alarmflow:
  name: test
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error when no secret is configured")
	}
}

func TestLoadConfigEnvSecretWins(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: from-file
`)

	t.Setenv("ALARMFLOW_JWT_SECRET", "from-env")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("environment secret should win, got %q", cfg.Auth.Secret)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "alarmflow: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
