// Package reload re-reads the configuration of a running cronrun serve
// process and swaps in the new job set.
package reload

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPollInterval is how often the watcher checks the file.
const DefaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Path is the configuration file to watch.
	Path string

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Watcher polls a file and signals when its content changes. Content is
// compared by digest, so touching the file without editing it is ignored.
type Watcher struct {
	path     string
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	events   chan struct{}
}

// NewWatcher creates a watcher. Call Run to start polling.
func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		path:     cfg.Path,
		interval: cfg.PollInterval,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		events:   make(chan struct{}, 1),
	}
	if w.interval <= 0 {
		w.interval = DefaultPollInterval
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "reload")
	return w
}

// Changes receives a value after each detected change. Changes seen while
// a previous one is pending are coalesced.
func (w *Watcher) Changes() <-chan struct{} { return w.events }

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	last, _ := w.digest()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		current, ok := w.digest()
		if !ok || current == last {
			continue
		}
		last = current
		w.logger.Info("reload: configuration file changed", "path", w.path)
		select {
		case w.events <- struct{}{}:
		default:
		}
	}
}

// digest hashes the file. A missing or unreadable file reports false so a
// save in progress is not treated as a change.
func (w *Watcher) digest() ([sha256.Size]byte, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}
