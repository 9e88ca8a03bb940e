package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvBridgePort     = "RELAY_BRIDGE_PORT"
	EnvNoProcessScans = "RELAY_NO_PROCESS_SCANNING"
)

type Config struct {
	Scanner   ScannerConfig   `yaml:"scanner"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	IPC       IPCConfig       `yaml:"ipc"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

type ScannerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Source selects the process enumerator: "auto", "procfs", "gopsutil" or "mock".
	Source string `yaml:"source"`
	// ArgMatch is "element" (argument must equal one argv entry) or
	// "substring" (argument must appear in the space-joined argv).
	ArgMatch  string `yaml:"arg_match"`
	CacheSize int    `yaml:"cache_size"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type IPCConfig struct {
	Enabled bool `yaml:"enabled"`
	// Name is the socket base name; "-<n>" is appended per slot.
	Name  string `yaml:"name"`
	Slots int    `yaml:"slots"`
}

type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	PortMin        int      `yaml:"port_min"`
	PortMax        int      `yaml:"port_max"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

func defaultConfig() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Enabled:   true,
			Interval:  5 * time.Second,
			Source:    "auto",
			ArgMatch:  "element",
			CacheSize: 1000,
		},
		Catalog: CatalogConfig{
			Path: "detectable.json",
		},
		IPC: IPCConfig{
			Enabled: true,
			Name:    "discord-ipc",
			Slots:   10,
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			PortMin: 6463,
			PortMax: 6472,
		},
		Bridge: BridgeConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    1337,
		},
	}
}

// Default returns the built-in configuration with env overrides applied.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist. Parse and validation errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if raw := os.Getenv(EnvBridgePort); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			c.Bridge.Port = port
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvNoProcessScans)); raw != "" && raw != "0" && !strings.EqualFold(raw, "false") {
		c.Scanner.Enabled = false
	}
}

func (c *Config) Validate() error {
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be positive, got %v", c.Scanner.Interval)
	}
	switch c.Scanner.Source {
	case "auto", "procfs", "gopsutil", "mock":
	default:
		return fmt.Errorf("scanner.source: unknown value %q", c.Scanner.Source)
	}
	switch c.Scanner.ArgMatch {
	case "element", "substring":
	default:
		return fmt.Errorf("scanner.arg_match: unknown value %q", c.Scanner.ArgMatch)
	}
	if c.Scanner.CacheSize < 0 {
		return fmt.Errorf("scanner.cache_size must not be negative")
	}
	if c.IPC.Slots <= 0 {
		return fmt.Errorf("ipc.slots must be positive, got %d", c.IPC.Slots)
	}
	if c.WebSocket.PortMin <= 0 || c.WebSocket.PortMax < c.WebSocket.PortMin || c.WebSocket.PortMax > 65535 {
		return fmt.Errorf("websocket port range [%d, %d] is invalid", c.WebSocket.PortMin, c.WebSocket.PortMax)
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", c.Bridge.Port)
	}
	return nil
}
