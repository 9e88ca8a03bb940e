package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
scanner:
  interval: 2s
  arg_match: substring
websocket:
  port_min: 7000
  port_max: 7003
bridge:
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scanner.Interval != 2*time.Second {
		t.Errorf("Scanner.Interval = %v, want 2s", cfg.Scanner.Interval)
	}
	if cfg.Scanner.ArgMatch != "substring" {
		t.Errorf("Scanner.ArgMatch = %q, want substring", cfg.Scanner.ArgMatch)
	}
	if !cfg.Scanner.Enabled {
		t.Error("Scanner.Enabled default should survive a partial file")
	}
	if cfg.WebSocket.PortMin != 7000 || cfg.WebSocket.PortMax != 7003 {
		t.Errorf("websocket range = [%d, %d], want [7000, 7003]", cfg.WebSocket.PortMin, cfg.WebSocket.PortMax)
	}
	if cfg.WebSocket.Host != "127.0.0.1" {
		t.Errorf("WebSocket.Host = %q, want default 127.0.0.1", cfg.WebSocket.Host)
	}
	if cfg.Bridge.Enabled {
		t.Error("Bridge.Enabled should be false")
	}
	if cfg.IPC.Slots != 10 {
		t.Errorf("IPC.Slots = %d, want 10", cfg.IPC.Slots)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Scanner.Interval != 5*time.Second {
		t.Errorf("Scanner.Interval = %v, want 5s", cfg.Scanner.Interval)
	}
	if cfg.WebSocket.PortMin != 6463 || cfg.WebSocket.PortMax != 6472 {
		t.Errorf("websocket range = [%d, %d]", cfg.WebSocket.PortMin, cfg.WebSocket.PortMax)
	}
	if cfg.Bridge.Port != 1337 {
		t.Errorf("Bridge.Port = %d, want 1337", cfg.Bridge.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBridgePort, "4242")
	t.Setenv(EnvNoProcessScans, "1")

	cfg := Default()
	if cfg.Bridge.Port != 4242 {
		t.Errorf("Bridge.Port = %d, want 4242", cfg.Bridge.Port)
	}
	if cfg.Scanner.Enabled {
		t.Error("Scanner.Enabled should be disabled by env")
	}
}

func TestEnvBridgePortIgnoresGarbage(t *testing.T) {
	t.Setenv(EnvBridgePort, "not-a-port")

	cfg := Default()
	if cfg.Bridge.Port != 1337 {
		t.Errorf("Bridge.Port = %d, want default 1337", cfg.Bridge.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Scanner.Interval = 0 }},
		{"unknown source", func(c *Config) { c.Scanner.Source = "wmi" }},
		{"unknown arg match", func(c *Config) { c.Scanner.ArgMatch = "regex" }},
		{"inverted port range", func(c *Config) { c.WebSocket.PortMin, c.WebSocket.PortMax = 6472, 6463 }},
		{"no ipc slots", func(c *Config) { c.IPC.Slots = 0 }},
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
