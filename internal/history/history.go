// Package history keeps the outcome of every job execution so operators
// can see what ran, when and how it went. The scheduler itself persists
// nothing but locks; history is fed through a cron.Recorder.
package history

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

// Entry is one recorded execution result.
type Entry struct {
	ID          int64     `json:"id"`
	RunAt       time.Time `json:"run_at"`
	Forced      bool      `json:"forced"`
	Job         string    `json:"job"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	MemoryDelta int64     `json:"memory_delta"`
}

// Duration is the wall-clock execution time.
func (e Entry) Duration() time.Duration { return e.FinishedAt.Sub(e.StartedAt) }

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Append stores entries and assigns their IDs.
	Append(ctx context.Context, entries ...Entry) error

	// Recent returns up to n entries, newest first. An empty job matches
	// every job.
	Recent(ctx context.Context, job string, n int) ([]Entry, error)

	// Prune deletes entries that started before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// FromReport converts a scheduler report into entries ordered by job name.
func FromReport(r cron.Report) []Entry {
	entries := make([]Entry, 0, len(r.Results))
	for _, res := range r.Results {
		e := Entry{
			RunAt:       r.At,
			Forced:      r.Force,
			Job:         res.Job,
			Status:      res.Status(),
			Message:     res.Message,
			StartedAt:   res.StartedAt,
			FinishedAt:  res.FinishedAt,
			MemoryDelta: res.MemoryDelta(),
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return cmp.Compare(a.Job, b.Job) })
	return entries
}

// Recorder returns a cron.Recorder appending every run to s.
func Recorder(s Store) cron.Recorder {
	return cron.RecorderFunc(func(ctx context.Context, r cron.Report) error {
		if len(r.Results) == 0 {
			return nil
		}
		return s.Append(ctx, FromReport(r)...)
	})
}

// Compile-time interface check.
var _ cron.HistoryPruner = (Store)(nil)
