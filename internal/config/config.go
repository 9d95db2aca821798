package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at startup and treated as immutable for the
// lifetime of the process. Components receive it (or a sub-struct) by
// value at construction; there is no hot-reload.
type Config struct {
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // "json" or "console"
	Cameras   CamerasConfig  `yaml:"cameras"`
	Listener  ListenerConfig `yaml:"listener"`
	Gateway   GatewayConfig  `yaml:"gateway"`
	Events    EventsConfig   `yaml:"events"`
}

type CamerasConfig struct {
	Defaults CameraDefaults `yaml:"defaults"`
	Entries  []CameraConfig `yaml:"entries"`
}

// CameraDefaults fill per-camera fields left empty in the entry,
// matching the original deployment's shared device credentials.
type CameraDefaults struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
}

// CameraConfig describes one device connection. One instance per
// configured camera; never mutated after Load.
type CameraConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Channel  int    `yaml:"channel"`
	Enabled  bool   `yaml:"enabled"`
	Vendor   string `yaml:"vendor"`
}

type ListenerConfig struct {
	CheckIntervalSec int    `yaml:"check_interval_sec"`
	DeviceTimeoutSec int    `yaml:"device_timeout_sec"`
	GatewayURL       string `yaml:"gateway_url"`
	SendTimeoutSec   int    `yaml:"send_timeout_sec"`
	MaxInflightSends int    `yaml:"max_inflight_sends"`
	TempDir          string `yaml:"temp_dir"`
	OutboxDir        string `yaml:"outbox_dir"`
	OutboxMaxMB      int64  `yaml:"outbox_max_mb"`
	OutboxDrainSec   int    `yaml:"outbox_drain_sec"`
	MetricsPort      int    `yaml:"metrics_port"`
	DedupTTLSeconds  int    `yaml:"dedup_ttl_seconds"`
	DedupMaxKeys     int    `yaml:"dedup_max_keys"`
}

type GatewayConfig struct {
	Port          int             `yaml:"port"`
	ImageDir      string          `yaml:"image_dir"`
	MaxUploadMB   int64           `yaml:"max_upload_mb"`
	DefaultLimit  int             `yaml:"default_page_limit"`
	MaxLimit      int             `yaml:"max_page_limit"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	JWTSigningKey string          `yaml:"jwt_signing_key"`
}

type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	Rate      int  `yaml:"rate"`
	WindowSec int  `yaml:"window_sec"`
}

type EventsConfig struct {
	NatsEnabled     bool   `yaml:"nats_enabled"`
	NatsSubject     string `yaml:"nats_subject"`
	PublishRetryMax int    `yaml:"publish_retry_max"`
}

// Load reads and validates the YAML config file. A missing or malformed
// file is fatal; the caller exits rather than running half-configured.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyCameraDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Cameras: CamerasConfig{
			Defaults: CameraDefaults{Username: "admin", Port: 37777},
		},
		Listener: ListenerConfig{
			CheckIntervalSec: 60,
			DeviceTimeoutSec: 10,
			SendTimeoutSec:   10,
			MaxInflightSends: 32,
			TempDir:          os.TempDir(),
			OutboxMaxMB:      512,
			OutboxDrainSec:   30,
			MetricsPort:      9091,
			DedupTTLSeconds:  2,
			DedupMaxKeys:     4096,
		},
		Gateway: GatewayConfig{
			Port:         8081,
			ImageDir:     "anpr_images",
			MaxUploadMB:  10,
			DefaultLimit: 50,
			MaxLimit:     200,
			RateLimit:    RateLimitConfig{Rate: 100, WindowSec: 60},
		},
		Events: EventsConfig{
			NatsSubject:     "anpr.events",
			PublishRetryMax: 3,
		},
	}
}

func (c *Config) applyCameraDefaults() {
	d := c.Cameras.Defaults
	for i := range c.Cameras.Entries {
		e := &c.Cameras.Entries[i]
		if e.Username == "" {
			e.Username = d.Username
		}
		if e.Password == "" {
			e.Password = d.Password
		}
		if e.Port == 0 {
			e.Port = d.Port
		}
		if e.Name == "" {
			e.Name = e.ID
		}
		if e.Vendor == "" {
			e.Vendor = "dahua"
		}
	}
}

func (c *Config) validate() error {
	if c.Listener.DeviceTimeoutSec >= c.Listener.CheckIntervalSec {
		return fmt.Errorf("device_timeout_sec (%d) must be shorter than check_interval_sec (%d)",
			c.Listener.DeviceTimeoutSec, c.Listener.CheckIntervalSec)
	}

	seen := make(map[string]bool)
	for _, e := range c.Cameras.Entries {
		if e.ID == "" {
			return fmt.Errorf("camera entry missing id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate camera id %q", e.ID)
		}
		seen[e.ID] = true

		if !e.Enabled {
			continue
		}
		if e.Address == "" {
			return fmt.Errorf("camera %s: address is required", e.ID)
		}
		if e.Port <= 0 {
			return fmt.Errorf("camera %s: port is required", e.ID)
		}
		if e.Username == "" || e.Password == "" {
			return fmt.Errorf("camera %s: credentials are required", e.ID)
		}
	}
	return nil
}

// EnabledCameras filters the configured entries down to those the
// listener should actually connect.
func (c *Config) EnabledCameras() []CameraConfig {
	out := make([]CameraConfig, 0, len(c.Cameras.Entries))
	for _, e := range c.Cameras.Entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

func (l ListenerConfig) CheckInterval() time.Duration {
	return time.Duration(l.CheckIntervalSec) * time.Second
}

func (l ListenerConfig) DeviceTimeout() time.Duration {
	return time.Duration(l.DeviceTimeoutSec) * time.Second
}

func (l ListenerConfig) SendTimeout() time.Duration {
	return time.Duration(l.SendTimeoutSec) * time.Second
}

func (l ListenerConfig) OutboxDrainInterval() time.Duration {
	return time.Duration(l.OutboxDrainSec) * time.Second
}

func (l ListenerConfig) DedupTTL() time.Duration {
	return time.Duration(l.DedupTTLSeconds) * time.Second
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSec) * time.Second
}
