package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 5000 {
		t.Errorf("Expected default port 5000, got %d", cfg.Port)
	}
	if cfg.IdleTimeout != 900 {
		t.Errorf("Expected default idle timeout 900, got %d", cfg.IdleTimeout)
	}
	if cfg.LockoutWindow != 120 {
		t.Errorf("Expected default lockout window 120, got %d", cfg.LockoutWindow)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatalk.yaml")
	data := "port: 7000\ndb_path: /tmp/other.db\nidle_timeout: 60\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 7000 {
		t.Errorf("Expected port 7000, got %d", cfg.Port)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("Expected db path override, got %q", cfg.DBPath)
	}
	if cfg.IdleTimeout != 60 {
		t.Errorf("Expected idle timeout 60, got %d", cfg.IdleTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.LockoutWindow != 120 {
		t.Errorf("Expected default lockout window, got %d", cfg.LockoutWindow)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/chatalk.yaml"); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATALK_PORT", "9999")
	t.Setenv("CHATALK_DB_PATH", "/tmp/env.db")
	t.Setenv("CHATALK_IDLE_TIMEOUT", "30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Expected env port 9999, got %d", cfg.Port)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("Expected env db path, got %q", cfg.DBPath)
	}
	if cfg.IdleTimeout != 30 {
		t.Errorf("Expected env idle timeout 30, got %d", cfg.IdleTimeout)
	}
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("CHATALK_PORT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 5000 {
		t.Errorf("Garbage env value should keep the default, got %d", cfg.Port)
	}
}
