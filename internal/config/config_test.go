package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.FirstTokenTimeout != 15*time.Second {
		t.Fatalf("unexpected first_token_timeout default: %v", cfg.FirstTokenTimeout)
	}
	if cfg.FirstTokenMaxRetries != 3 {
		t.Fatalf("unexpected first_token_max_retries default: %d", cfg.FirstTokenMaxRetries)
	}
	if cfg.StreamingReadTimeout != 300*time.Second {
		t.Fatalf("unexpected streaming_read_timeout default: %v", cfg.StreamingReadTimeout)
	}
	if cfg.OAuth.CallbackPortStart == 0 || cfg.OAuth.CallbackPortEnd == 0 {
		t.Fatal("expected non-zero oauth callback port range")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KiroRegion != "us-east-1" {
		t.Fatalf("expected default region, got %s", cfg.KiroRegion)
	}
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "kiro_region: eu-west-1\nrefresh_token: abc123\nfirst_token_max_retries: 5\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KiroRegion != "eu-west-1" {
		t.Fatalf("unexpected region: %s", cfg.KiroRegion)
	}
	if cfg.RefreshToken != "abc123" {
		t.Fatalf("unexpected refresh token: %s", cfg.RefreshToken)
	}
	if cfg.FirstTokenMaxRetries != 5 {
		t.Fatalf("unexpected max retries: %d", cfg.FirstTokenMaxRetries)
	}
}

func TestEnvOverridesTakePrecedenceOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("kiro_region: eu-west-1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KIRO_REGION", "ap-southeast-2")
	t.Setenv("DATABASE_URL", "postgres://example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KiroRegion != "ap-southeast-2" {
		t.Fatalf("expected env override to win, got %s", cfg.KiroRegion)
	}
	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected DATABASE_URL to be read from env, got %s", cfg.DatabaseURL)
	}
}

func TestLoadRejectsInvalidWatchdogConfigByResettingDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "first_token_timeout: 30s\nstreaming_read_timeout: 10s\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StreamingReadTimeout <= cfg.FirstTokenTimeout {
		t.Fatalf("expected streaming_read_timeout to be reset to a valid default, got %v vs %v",
			cfg.StreamingReadTimeout, cfg.FirstTokenTimeout)
	}
}
