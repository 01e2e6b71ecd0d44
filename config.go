package tasking

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// safetyRatio is the minimum factor by which a timeout must exceed the
// interval of the signal it watches.
const safetyRatio = 2

// Config holds configuration shared by coordinator and worker processes.
type Config struct {
	// HeartbeatInterval is how often a worker writes its heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// WorkerTimeout is how old a heartbeat may get before the worker is
	// considered missing. Must be at least twice HeartbeatInterval.
	WorkerTimeout time.Duration `yaml:"worker_timeout"`

	// MonitorInterval is how often the leader scans the worker registry.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// LockRenewInterval is how often the leader lock is renewed or, when
	// not held, how often acquisition is attempted.
	LockRenewInterval time.Duration `yaml:"lock_renew_interval"`

	// LockMaxAge is how old the lock may get before it is considered
	// abandoned. Must be at least twice LockRenewInterval.
	LockMaxAge time.Duration `yaml:"lock_max_age"`

	// ReapInterval is how often expired historical records are deleted.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// TaskRetention is how long finished tasks are kept.
	TaskRetention time.Duration `yaml:"task_retention"`

	// ResultRetention is how long archived task results are kept.
	ResultRetention time.Duration `yaml:"result_retention"`

	// WaitingRetryInterval is how often the leader retries dispatch of
	// tasks parked in the waiting state without a worker.
	WaitingRetryInterval time.Duration `yaml:"waiting_retry_interval"`

	// Mongo holds document store connection settings.
	Mongo MongoConfig `yaml:"mongo"`

	// Broker holds message queue settings.
	Broker BrokerConfig `yaml:"broker"`

	// Log holds logger settings.
	Log LogConfig `yaml:"log"`
}

// MongoConfig holds document store connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// BrokerConfig holds message queue settings. The coordinator and worker
// commands require RedisAddr; the dev command ignores it and runs an
// in-process broker.
type BrokerConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Codec     string `yaml:"codec"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    5 * time.Second,
		WorkerTimeout:        25 * time.Second,
		MonitorInterval:      5 * time.Second,
		LockRenewInterval:    90 * time.Second,
		LockMaxAge:           200 * time.Second,
		ReapInterval:         10 * time.Minute,
		TaskRetention:        72 * time.Hour,
		ResultRetention:      72 * time.Hour,
		WaitingRetryInterval: 10 * time.Second,
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "tasking",
		},
		Broker: BrokerConfig{Codec: "json"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the timing invariants: every timeout must exceed the
// interval of the signal it watches by the safety ratio.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidConfig)
	}
	if c.WorkerTimeout < safetyRatio*c.HeartbeatInterval {
		return fmt.Errorf("%w: worker_timeout %s must be at least %dx heartbeat_interval %s",
			ErrInvalidConfig, c.WorkerTimeout, safetyRatio, c.HeartbeatInterval)
	}
	if c.LockRenewInterval <= 0 {
		return fmt.Errorf("%w: lock_renew_interval must be positive", ErrInvalidConfig)
	}
	if c.LockMaxAge < safetyRatio*c.LockRenewInterval {
		return fmt.Errorf("%w: lock_max_age %s must be at least %dx lock_renew_interval %s",
			ErrInvalidConfig, c.LockMaxAge, safetyRatio, c.LockRenewInterval)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("%w: monitor_interval must be positive", ErrInvalidConfig)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("%w: reap_interval must be positive", ErrInvalidConfig)
	}
	if c.WaitingRetryInterval <= 0 {
		return fmt.Errorf("%w: waiting_retry_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the
// result. Keys missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tasking: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("tasking: parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
