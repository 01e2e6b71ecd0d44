package tasking_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulp/tasking"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := tasking.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestConfig_ValidateRatios(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *tasking.Config)
	}{
		{"timeout equals heartbeat", func(c *tasking.Config) { c.WorkerTimeout = c.HeartbeatInterval }},
		{"timeout below margin", func(c *tasking.Config) {
			c.HeartbeatInterval = 10 * time.Second
			c.WorkerTimeout = 15 * time.Second
		}},
		{"zero heartbeat", func(c *tasking.Config) { c.HeartbeatInterval = 0 }},
		{"max age below margin", func(c *tasking.Config) { c.LockMaxAge = 100 * time.Second }},
		{"zero renew", func(c *tasking.Config) { c.LockRenewInterval = 0 }},
		{"zero monitor interval", func(c *tasking.Config) { c.MonitorInterval = 0 }},
		{"zero reap interval", func(c *tasking.Config) { c.ReapInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tasking.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tasking.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasking.yaml")
	content := []byte(`
heartbeat_interval: 2s
worker_timeout: 10s
mongo:
  database: pulp
broker:
  codec: msgpack
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := tasking.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 2s", cfg.HeartbeatInterval)
	}
	if cfg.WorkerTimeout != 10*time.Second {
		t.Errorf("WorkerTimeout = %v, want 10s", cfg.WorkerTimeout)
	}
	if cfg.Mongo.Database != "pulp" {
		t.Errorf("Mongo.Database = %q, want pulp", cfg.Mongo.Database)
	}
	if cfg.Broker.Codec != "msgpack" {
		t.Errorf("Broker.Codec = %q, want msgpack", cfg.Broker.Codec)
	}
	// Untouched keys keep defaults.
	if cfg.LockMaxAge != 200*time.Second {
		t.Errorf("LockMaxAge = %v, want default 200s", cfg.LockMaxAge)
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("worker_timeout: 6s\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := tasking.LoadConfig(path); !errors.Is(err, tasking.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := tasking.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
