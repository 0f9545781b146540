package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	def := Default()
	if cfg.Server.Addr != def.Server.Addr {
		t.Fatalf("expected default addr %q, got %q", def.Server.Addr, cfg.Server.Addr)
	}
	if cfg.Replication.TickRate != def.Replication.TickRate {
		t.Fatalf("expected default tick rate %d, got %d", def.Replication.TickRate, cfg.Replication.TickRate)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ironfront.yaml")
	body := []byte(`
server:
  addr: ":9000"
gateway:
  heartbeat_interval: 5s
  client_timeout: 20s
replication:
  tick_rate: 60
  compression: zstd
game:
  map_name: tundra
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("expected addr :9000, got %q", cfg.Server.Addr)
	}
	if cfg.Gateway.HeartbeatInterval != 5*time.Second {
		t.Fatalf("expected 5s heartbeat, got %s", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Replication.TickRate != 60 {
		t.Fatalf("expected tick rate 60, got %d", cfg.Replication.TickRate)
	}
	if cfg.Replication.Compression != "zstd" {
		t.Fatalf("expected zstd, got %q", cfg.Replication.Compression)
	}
	if cfg.Game.MapName != "tundra" {
		t.Fatalf("expected map tundra, got %q", cfg.Game.MapName)
	}
	// Untouched sections keep their defaults.
	if cfg.Metrics.Addr != Default().Metrics.Addr {
		t.Fatalf("expected default metrics addr, got %q", cfg.Metrics.Addr)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("IRONFRONT_SERVER_ADDR", ":7777")
	t.Setenv("IRONFRONT_REPLICATION_COMPRESSION", "snappy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Fatalf("expected env addr :7777, got %q", cfg.Server.Addr)
	}
	if cfg.Replication.Compression != "snappy" {
		t.Fatalf("expected env compression snappy, got %q", cfg.Replication.Compression)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate_RejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }},
		{"zero tick rate", func(c *Config) { c.Replication.TickRate = 0 }},
		{"excessive tick rate", func(c *Config) { c.Replication.TickRate = 500 }},
		{"unknown compression", func(c *Config) { c.Replication.Compression = "lz4" }},
		{"timeout below heartbeat", func(c *Config) {
			c.Gateway.HeartbeatInterval = time.Minute
			c.Gateway.ClientTimeout = time.Second
		}},
		{"zero payload limit", func(c *Config) { c.Gateway.MaxPayloadBytes = 0 }},
		{"negative chat history", func(c *Config) { c.Game.ChatHistory = -1 }},
		{"empty map name", func(c *Config) { c.Game.MapName = "" }},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestTickInterval(t *testing.T) {
	cfg := Default()
	cfg.Replication.TickRate = 50
	if got := cfg.TickInterval(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms tick interval, got %s", got)
	}
}
