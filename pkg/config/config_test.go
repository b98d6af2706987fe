package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"

integrity:
  key: "c2VjcmV0LWtleQ=="

edge:
  manager_address: "manager.example.org:1100"
  manager_host: "10.0.0.7"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Integrity.Algorithm != "hmac-sha1" {
		t.Errorf("Expected default algorithm hmac-sha1, got %q", cfg.Integrity.Algorithm)
	}
	if cfg.Edge.ManagerAddress != "manager.example.org:1100" {
		t.Errorf("Expected manager address from file, got %q", cfg.Edge.ManagerAddress)
	}
	if cfg.Edge.PoolSize != 5 {
		t.Errorf("Expected default pool size 5, got %d", cfg.Edge.PoolSize)
	}
	if cfg.Dispatcher.ReplyRetries != 40 {
		t.Errorf("Expected default reply retries 40, got %d", cfg.Dispatcher.ReplyRetries)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
integrity:
  key_file: "/etc/authproxy/keytab"
edge:
  receive_timeout: 250ms
handles:
  idle_timeout: 2h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Edge.ReceiveTimeout != 250*time.Millisecond {
		t.Errorf("Expected receive_timeout 250ms, got %v", cfg.Edge.ReceiveTimeout)
	}
	if cfg.Handles.IdleTimeout != 2*time.Hour {
		t.Errorf("Expected idle_timeout 2h, got %v", cfg.Handles.IdleTimeout)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
integrity:
  key: "c2VjcmV0LWtleQ=="
edge:
  pool_size: 3
`)

	t.Setenv("AUTHPROXY_EDGE_POOL_SIZE", "12")
	t.Setenv("AUTHPROXY_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Edge.PoolSize != 12 {
		t.Errorf("Expected env pool size 12, got %d", cfg.Edge.PoolSize)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env level WARN, got %q", cfg.Logging.Level)
	}
}

func TestLoad_NoConfigFileNeedsKey(t *testing.T) {
	nonExistent := filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := Load(nonExistent)
	if err == nil {
		t.Fatal("Expected validation error without an integrity key")
	}
	if !strings.Contains(err.Error(), "integrity") {
		t.Errorf("Expected integrity error, got: %v", err)
	}

	t.Setenv("AUTHPROXY_INTEGRITY_KEY", "c2VjcmV0LWtleQ==")
	cfg, err := Load(nonExistent)
	if err != nil {
		t.Fatalf("Expected defaults to load with env key, got: %v", err)
	}
	if cfg.Content.Type != "memory" {
		t.Errorf("Expected default content type 'memory', got %q", cfg.Content.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
integrity:
  key: "c2VjcmV0LWtleQ=="
content:
  type: "tape"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error for unknown content type")
	}
	if !strings.Contains(err.Error(), "Content.Type") {
		t.Errorf("Expected error to name Content.Type, got: %v", err)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := GetConfigDir(); got != "/tmp/xdg/authproxy" {
		t.Errorf("Expected XDG config dir, got %q", got)
	}
	if got := GetDefaultConfigPath(); got != "/tmp/xdg/authproxy/config.yaml" {
		t.Errorf("Expected config path under XDG dir, got %q", got)
	}
}
