package cron

import (
	"encoding/json"
	"time"
)

// Result is the outcome of one execution attempt.
type Result struct {
	Job     string
	Success bool
	Skipped bool
	Message string
	// Err is the captured failure, if any.
	Err error

	StartedAt   time.Time
	FinishedAt  time.Time
	StartMemory uint64
	EndMemory   uint64
}

// Result statuses reported by Status.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Duration is the wall-clock time between start and finish.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// MemoryDelta is the change in process memory across the execution.
func (r Result) MemoryDelta() int64 { return int64(r.EndMemory) - int64(r.StartMemory) }

// Status returns StatusSuccess, StatusFailed or StatusSkipped.
func (r Result) Status() string {
	switch {
	case r.Skipped:
		return StatusSkipped
	case r.Success:
		return StatusSuccess
	default:
		return StatusFailed
	}
}

type resultJSON struct {
	Job         string    `json:"job"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMS  int64     `json:"duration_ms"`
	MemoryDelta int64     `json:"memory_delta"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Job:         r.Job,
		Status:      r.Status(),
		Message:     r.Message,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		DurationMS:  r.Duration().Milliseconds(),
		MemoryDelta: r.MemoryDelta(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Counts tallies results by status.
type Counts struct {
	Success int
	Failed  int
	Skipped int
}

// Count tallies results.
func Count(results map[string]Result) Counts {
	var c Counts
	for _, r := range results {
		switch r.Status() {
		case StatusSuccess:
			c.Success++
		case StatusFailed:
			c.Failed++
		default:
			c.Skipped++
		}
	}
	return c
}
