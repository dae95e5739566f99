package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flemzord/cronrun/internal/cron"
)

// FileName is the config file name searched for by FindPath.
const FileName = "cronrun.yaml"

// ErrNotFound is returned by FindPath when no config file exists.
var ErrNotFound = errors.New("config: no configuration file found")

// FindPath resolves the config file location. An explicit path must exist.
// Otherwise $XDG_CONFIG_HOME/cronrun, ~/.config/cronrun and the working
// directory are searched in that order.
func FindPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}

func searchPaths() []string {
	var paths []string
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && dir != "" {
		paths = append(paths, filepath.Join(dir, "cronrun", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cronrun", FileName))
	}
	return append(paths, FileName)
}

// Resolve converts the declared jobs into job specs, in file order.
func Resolve(cfg *Config) []cron.JobSpec {
	specs := make([]cron.JobSpec, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		specs = append(specs, cron.JobSpec{
			Type:        j.Type,
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.Schedule,
			Enabled:     j.Enabled,
			Timeout:     j.Timeout,
			Priority:    j.Priority,
			Concurrent:  j.Concurrent,
			Metadata:    j.Metadata,
			Config:      j.Config,
		})
	}
	return specs
}
