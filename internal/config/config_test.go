package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.ServerURL = "ws://chat.example.com/ws"
	cfg.ReconnectDelay = Duration{5 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.ServerURL != "ws://chat.example.com/ws" {
		t.Errorf("ServerURL = %q, want ws://chat.example.com/ws", loaded.ServerURL)
	}
	if loaded.ReconnectDelay.Duration != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", loaded.ReconnectDelay.Duration)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"main\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectTimeout.Duration != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s default", cfg.ConnectTimeout.Duration)
	}
	if cfg.CacheConversations != 8 {
		t.Errorf("CacheConversations = %d, want 8 default", cfg.CacheConversations)
	}
	if len(cfg.STUNServers) == 0 {
		t.Error("STUNServers should default to non-empty")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
