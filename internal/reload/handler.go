package reload

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/cronrun/internal/config"
	"github.com/flemzord/cronrun/internal/cron"
)

// Handler reloads the jobs section of the configuration into a registry.
// Other sections are wired into long-lived components at startup; changes
// to them are reported but need a restart.
type Handler struct {
	path     string
	dataDir  string
	registry *cron.Registry
	logger   *slog.Logger
	current  *config.Config
}

// NewHandler creates a handler for the configuration at path. current is
// the configuration the process started with.
func NewHandler(path, dataDir string, current *config.Config, registry *cron.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		path:     path,
		dataDir:  dataDir,
		registry: registry,
		logger:   logger.With("component", "reload"),
		current:  current,
	}
}

// Reload loads, validates and applies the configuration file. On error the
// running jobs are left untouched.
func (h *Handler) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	cfg, err := config.Load(h.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	cfg.ApplyDefaults(h.dataDir)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := h.registry.ReplaceTypes(config.Resolve(cfg)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	if stale := RestartRequired(h.current, cfg); len(stale) > 0 {
		h.logger.Warn("reload: restart to apply changed sections", "sections", stale)
	}
	h.current.Jobs = cfg.Jobs
	h.logger.Info("reload: jobs reloaded", "jobs", h.registry.Len())
	return nil
}

// RestartRequired lists the sections other than jobs that differ between
// prev and next.
func RestartRequired(prev, next *config.Config) []string {
	sections := []struct {
		name       string
		prev, next any
	}{
		{"log", prev.Log, next.Log},
		{"scheduler", prev.Scheduler, next.Scheduler},
		{"locks", prev.Locks, next.Locks},
		{"history", prev.History, next.History},
		{"metrics", prev.Metrics, next.Metrics},
		{"tracing", prev.Tracing, next.Tracing},
		// Nodes carry line numbers; compare their encoding instead.
		{"gateway", encodeNode(&prev.Gateway), encodeNode(&next.Gateway)},
	}
	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

func encodeNode(n *yaml.Node) string {
	if n.Kind == 0 {
		return ""
	}
	out, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	return string(out)
}
