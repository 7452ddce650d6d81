package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timer.TickInterval != 100*time.Millisecond {
		t.Errorf("Expected 100ms tick, got %v", cfg.Timer.TickInterval)
	}
	if cfg.Timer.PublishEvery != 10 {
		t.Errorf("Expected publish_every 10, got %d", cfg.Timer.PublishEvery)
	}
	if strings.HasPrefix(cfg.Source.DB, "~") {
		t.Errorf("Expected ~ to be expanded, got %s", cfg.Source.DB)
	}
	if filepath.Base(cfg.Source.Lock) != "pacer.lock" {
		t.Errorf("Expected derived lock path, got %s", cfg.Source.Lock)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
source:
  listen: 0.0.0.0:9000
  db: libsql://pacer.example.turso.io
timer:
  countdown_window: 5
follower:
  reconnect_grace: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PACER_LISTEN", "127.0.0.1:9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Listen != "127.0.0.1:9100" {
		t.Errorf("Expected env override, got %s", cfg.Source.Listen)
	}
	if cfg.Source.DB != "libsql://pacer.example.turso.io" {
		t.Errorf("Remote DSN should be untouched, got %s", cfg.Source.DB)
	}
	if cfg.Timer.CountdownWindow != 5 {
		t.Errorf("Expected countdown_window 5, got %d", cfg.Timer.CountdownWindow)
	}
	if cfg.Follower.ReconnectGrace != 10*time.Second {
		t.Errorf("Expected 10s grace, got %v", cfg.Follower.ReconnectGrace)
	}
	if cfg.Timer.PublishEvery != 10 {
		t.Errorf("Unset fields should keep defaults, got %d", cfg.Timer.PublishEvery)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Timer.TickInterval = 0 }},
		{"zero publish", func(c *Config) { c.Timer.PublishEvery = 0 }},
		{"negative window", func(c *Config) { c.Timer.CountdownWindow = -1 }},
		{"empty listen", func(c *Config) { c.Source.Listen = "" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Timer.CountdownWindow = 2

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	t.Setenv("HOME", t.TempDir())
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Timer.CountdownWindow != 2 {
		t.Errorf("Expected countdown_window 2, got %d", loaded.Timer.CountdownWindow)
	}
}
