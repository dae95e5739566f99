// Package host exposes the process and machine facts the scheduler needs
// for its pre-flight checks: pid, hostname, memory usage and load average.
package host

import (
	"errors"
	"os"
	"runtime"

	"github.com/prometheus/procfs"
)

// ErrUnavailable is returned when a metric cannot be read on this platform.
var ErrUnavailable = errors.New("host: metric unavailable")

// Host is the process/host capability consumed by the executor, the
// scheduler and the lock manager.
type Host interface {
	// PID returns the current process id.
	PID() int

	// Hostname returns the machine name used to scope pid liveness checks.
	Hostname() string

	// MemoryUsage returns the current memory footprint of the process in bytes.
	MemoryUsage() uint64

	// PeakMemoryUsage returns the high-water mark of the process in bytes.
	PeakMemoryUsage() uint64

	// LoadAverage returns the one-minute system load average, or
	// ErrUnavailable where the OS does not expose it.
	LoadAverage() (float64, error)
}

// System is the real Host, reading /proc through procfs where available
// and falling back to Go runtime statistics elsewhere.
type System struct {
	pid      int
	hostname string
	fs       *procfs.FS
}

// Compile-time interface check.
var _ Host = (*System)(nil)

// NewSystem returns a Host for the running process.
func NewSystem() *System {
	s := &System{pid: os.Getpid()}
	if name, err := os.Hostname(); err == nil {
		s.hostname = name
	} else {
		s.hostname = "localhost"
	}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		s.fs = &fs
	}
	return s
}

// PID implements Host.
func (s *System) PID() int { return s.pid }

// Hostname implements Host.
func (s *System) Hostname() string { return s.hostname }

// MemoryUsage implements Host. On Linux this is the resident set size;
// elsewhere it is the memory obtained from the OS by the Go runtime.
func (s *System) MemoryUsage() uint64 {
	if s.fs != nil {
		if proc, err := s.fs.Proc(s.pid); err == nil {
			if stat, err := proc.Stat(); err == nil {
				return uint64(stat.ResidentMemory())
			}
		}
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// PeakMemoryUsage implements Host using VmHWM when /proc is mounted.
func (s *System) PeakMemoryUsage() uint64 {
	if s.fs != nil {
		if proc, err := s.fs.Proc(s.pid); err == nil {
			if status, err := proc.NewStatus(); err == nil && status.VmHWM > 0 {
				return status.VmHWM
			}
		}
	}
	return s.MemoryUsage()
}

// LoadAverage implements Host.
func (s *System) LoadAverage() (float64, error) {
	if s.fs == nil {
		return 0, ErrUnavailable
	}
	load, err := s.fs.LoadAvg()
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	return load.Load1, nil
}
