package cron

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNilJob is returned when registering a nil job.
	ErrNilJob = errors.New("job is nil")

	// ErrDuplicateJob is returned when a job name is already registered.
	ErrDuplicateJob = errors.New("duplicate job name")

	// ErrInvalidName is returned for names outside [a-zA-Z0-9\-_:]+.
	ErrInvalidName = errors.New("invalid job name")

	// ErrInvalidSchedule wraps the cronexpr error of an unparsable schedule.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidTimeout is returned for a non-positive timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidPriority is returned for a priority outside [0, 100].
	ErrInvalidPriority = errors.New("priority out of range")

	// ErrUnknownType is returned when a job type is not in the catalog.
	ErrUnknownType = errors.New("unknown job type")

	// ErrNoHandler is returned by BaseJob.Execute without a HandleFunc.
	ErrNoHandler = errors.New("no handler")

	// ErrJobTimeout is recorded when a job outlives its timeout.
	ErrJobTimeout = errors.New("cron: job timed out")
)

// RegistrationError reports a job rejected by the registry.
type RegistrationError struct {
	// Job is the offending job name, if known.
	Job string
	// Type is the catalog type name for RegisterType failures.
	Type string
	Err  error
}

func (e *RegistrationError) Error() string {
	switch {
	case e.Type != "" && e.Job != "":
		return fmt.Sprintf("cron: register %q (type %s): %v", e.Job, e.Type, e.Err)
	case e.Type != "":
		return fmt.Sprintf("cron: register type %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("cron: register %q: %v", e.Job, e.Err)
	}
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// SchedulerError wraps an orchestration failure with the run context.
type SchedulerError struct {
	At    time.Time
	Force bool
	Err   error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("cron: run at %s (force=%t): %v", e.At.Format(time.RFC3339), e.Force, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

// PanicError is a recovered panic from a job or from the scheduler itself.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
