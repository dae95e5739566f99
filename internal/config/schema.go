package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level cronrun configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Locks     LocksConfig     `yaml:"locks"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Notify    NotifyConfig    `yaml:"notify"`
	// Gateway is decoded by the gateway package itself.
	Gateway yaml.Node   `yaml:"gateway"`
	Jobs    []JobConfig `yaml:"jobs"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SchedulerConfig holds the knobs of one scheduling pass.
type SchedulerConfig struct {
	Timezone          string        `yaml:"timezone"`
	GlobalLockTimeout time.Duration `yaml:"global_lock_timeout"`
	CleanupStaleLocks *bool         `yaml:"cleanup_stale_locks"`
	MaxLoadAverage    float64       `yaml:"max_load_average"`
	// MaxMemory is a human size such as "512 MiB". Empty disables the check.
	MaxMemory         string `yaml:"max_memory"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	Verbose           bool   `yaml:"verbose"`
}

// Lock backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// LocksConfig selects and configures the lock store.
type LocksConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`  // file backend
	Path    string      `yaml:"path"` // sqlite backend
	Redis   RedisConfig `yaml:"redis"`
	NATS    NATSConfig  `yaml:"nats"`
}

// RedisConfig configures the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig configures the JetStream key-value lock backend.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Textfile is written after every run for node_exporter's textfile collector.
	Textfile string `yaml:"textfile"`
}

// TracingConfig configures OTLP/HTTP trace export. Tracing is off when
// Endpoint is empty.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// NotifyConfig configures delivery of run reports to a webhook. Disabled
// when URL is empty.
type NotifyConfig struct {
	URL          string        `yaml:"url"`
	Secret       string        `yaml:"secret"`
	OnlyFailures bool          `yaml:"only_failures"`
	Timeout      time.Duration `yaml:"timeout"`
}

// JobConfig declares one job instance built from a registered job type.
type JobConfig struct {
	Type        string         `yaml:"type"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schedule    string         `yaml:"schedule"`
	Enabled     *bool          `yaml:"enabled"`
	Timeout     time.Duration  `yaml:"timeout"`
	Priority    *int           `yaml:"priority"`
	Concurrent  bool           `yaml:"concurrent"`
	Metadata    map[string]any `yaml:"metadata"`
	Config      yaml.Node      `yaml:"config"`
}
