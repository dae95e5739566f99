// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/cronrun/internal/cron"
)

// MockJob is a configurable test double for cron.Job. The zero value is
// disabled; use NewMockJob for a runnable job.
type MockJob struct {
	NameVal        string
	DescriptionVal string
	ScheduleVal    string
	EnabledVal     bool
	TimeoutVal     time.Duration
	PriorityVal    int
	ConcurrentVal  bool
	MetadataVal    map[string]any
	ExecuteFunc    func(ctx context.Context) (bool, error)

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// NewMockJob returns an enabled MockJob that succeeds, with a one-minute
// timeout and default priority.
func NewMockJob(name, schedule string) *MockJob {
	return &MockJob{
		NameVal:     name,
		ScheduleVal: schedule,
		EnabledVal:  true,
		TimeoutVal:  time.Minute,
		PriorityVal: cron.DefaultPriority,
	}
}

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Description implements cron.Job.
func (m *MockJob) Description() string { return m.DescriptionVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ScheduleVal
}

// SetSchedule changes the schedule after registration.
func (m *MockJob) SetSchedule(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScheduleVal = s
}

// Enabled implements cron.Job.
func (m *MockJob) Enabled() bool { return m.EnabledVal }

// Timeout implements cron.Job.
func (m *MockJob) Timeout() time.Duration { return m.TimeoutVal }

// Priority implements cron.Job.
func (m *MockJob) Priority() int { return m.PriorityVal }

// AllowsConcurrent implements cron.Job.
func (m *MockJob) AllowsConcurrent() bool { return m.ConcurrentVal }

// Metadata implements cron.Job.
func (m *MockJob) Metadata() map[string]any { return m.MetadataVal }

// Execute implements cron.Job and increments the call counter.
func (m *MockJob) Execute(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx)
	}
	return true, nil
}

// CallCount returns the number of times Execute was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Execute call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// Recorder collects scheduler reports.
type Recorder struct {
	mu      sync.Mutex
	reports []cron.Report
	Err     error
}

// Compile-time interface check.
var _ cron.Recorder = (*Recorder)(nil)

// RecordRun implements cron.Recorder.
func (r *Recorder) RecordRun(_ context.Context, rep cron.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.Err
}

// Reports returns the collected reports.
func (r *Recorder) Reports() []cron.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cron.Report(nil), r.reports...)
}
