package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestLoadDefaults verifies that loading with no file and no environment
// yields the defaults.
func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Abuse.Limit != 5 || cfg.Abuse.Window != 10*time.Second {
		t.Errorf("Expected 5 messages per 10s, got %d per %v", cfg.Abuse.Limit, cfg.Abuse.Window)
	}
	if cfg.Auth.SessionTTL != 30*24*time.Hour {
		t.Errorf("Expected 30 day sessions, got %v", cfg.Auth.SessionTTL)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Expected single-instance mode by default, got redis %q", cfg.Redis.Addr)
	}
	if host, err := os.Hostname(); err == nil && host != "" && cfg.Server.InstanceID != host {
		t.Errorf("Expected instance id to default to the hostname %q, got %q", host, cfg.Server.InstanceID)
	}
	if !cfg.UsesDefaultSecret() {
		t.Error("Expected the built-in secret")
	}
}

// TestLoadFileAndEnv verifies the file overrides defaults and environment
// overrides the file.
func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	yaml := `
server:
  address: ":9090"
  allowedOrigins:
    - "https://chat.example.com"
  shutdownTimeout: 5s
abuse:
  limit: 3
  blockedTerms: ["spam", " eggs "]
redis:
  addr: "localhost:6379"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHAT_REDIS_ADDR", "redis:6380")
	t.Setenv("CHAT_AUTH_SESSIONSECRET", "s3cret")
	t.Setenv("CHAT_ABUSE_WINDOW", "1m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("Expected :9090, got %s", cfg.Server.Address)
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"https://chat.example.com"}) {
		t.Errorf("Unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected 5s shutdown, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Abuse.Limit != 3 || cfg.Abuse.Window != time.Minute {
		t.Errorf("Expected 3 per minute, got %d per %v", cfg.Abuse.Limit, cfg.Abuse.Window)
	}
	if !reflect.DeepEqual(cfg.Abuse.BlockedTerms, []string{"spam", "eggs"}) {
		t.Errorf("Unexpected blocked terms %v", cfg.Abuse.BlockedTerms)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Expected env redis address, got %s", cfg.Redis.Addr)
	}
	if cfg.UsesDefaultSecret() || cfg.Auth.SessionSecret != "s3cret" {
		t.Errorf("Expected env secret, got %q", cfg.Auth.SessionSecret)
	}
}

// TestLoadMissingExplicitFile verifies an explicit path must exist.
func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

// TestSanitizeConfig verifies invalid values fall back to defaults.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Server: ServerConfig{MaxMessageSize: -1, InstanceID: "node-a", AllowedOrigins: []string{" ", "http://a"}},
		Abuse:  AbuseConfig{Limit: 0, Window: -time.Second},
	})

	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Server.MaxMessageSize != 4096 {
		t.Errorf("Expected default max message size, got %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.InstanceID != "node-a" {
		t.Errorf("Expected configured instance id, got %q", cfg.Server.InstanceID)
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"http://a"}) {
		t.Errorf("Unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Abuse.Limit != 5 || cfg.Abuse.Window != 10*time.Second {
		t.Errorf("Expected default abuse limits, got %d per %v", cfg.Abuse.Limit, cfg.Abuse.Window)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Expected default logging, got %+v", cfg.Log)
	}
}
