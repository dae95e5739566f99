package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Defaults applied by ApplyDefaults.
const (
	DefaultGlobalLockTimeout = time.Hour
	DefaultHistoryRetention  = 30 * 24 * time.Hour
)

// Load reads a YAML configuration file, expands environment variables,
// and parses it into a Config struct. Defaults are not applied.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment variables in raw and decodes it.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.ApplyDefaults(DataDir())
	return cfg
}

// ApplyDefaults fills zero values. Relative store paths are placed under
// dataDir.
func (c *Config) ApplyDefaults(dataDir string) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Scheduler.GlobalLockTimeout <= 0 {
		c.Scheduler.GlobalLockTimeout = DefaultGlobalLockTimeout
	}
	if c.Scheduler.CleanupStaleLocks == nil {
		on := true
		c.Scheduler.CleanupStaleLocks = &on
	}

	if c.Locks.Backend == "" {
		c.Locks.Backend = BackendFile
	}
	if c.Locks.Dir == "" {
		c.Locks.Dir = "locks"
	}
	c.Locks.Dir = under(dataDir, c.Locks.Dir)
	if c.Locks.Path == "" {
		c.Locks.Path = "cronrun.db"
	}
	c.Locks.Path = under(dataDir, c.Locks.Path)

	if c.History.Path == "" {
		c.History.Path = "cronrun.db"
	}
	c.History.Path = under(dataDir, c.History.Path)
	if c.History.Retention <= 0 {
		c.History.Retention = DefaultHistoryRetention
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cronrun"
	}
}

// DataDir returns the directory holding lock files and databases.
func DataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "cronrun")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cronrun")
	}
	return filepath.Join(home, ".local", "share", "cronrun")
}

func under(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if hasDefault {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
