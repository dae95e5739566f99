// Package hosttest provides a configurable host.Host for tests.
package hosttest

import (
	"sync"

	"github.com/flemzord/cronrun/internal/host"
)

// Stub is a host.Host with settable values.
type Stub struct {
	mu       sync.Mutex
	pid      int
	hostname string
	memory   uint64
	peak     uint64
	load     float64
	loadErr  error
}

// Compile-time interface check.
var _ host.Host = (*Stub)(nil)

// New returns a Stub with a fixed pid and hostname, 10 MiB of memory and
// no load average.
func New(pid int, hostname string) *Stub {
	return &Stub{
		pid:      pid,
		hostname: hostname,
		memory:   10 << 20,
		loadErr:  host.ErrUnavailable,
	}
}

// SetMemory sets the reported memory usage.
func (s *Stub) SetMemory(bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = bytes
	if bytes > s.peak {
		s.peak = bytes
	}
}

// SetLoad sets the reported load average and clears the unavailable error.
func (s *Stub) SetLoad(load float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load = load
	s.loadErr = nil
}

// PID implements host.Host.
func (s *Stub) PID() int { return s.pid }

// Hostname implements host.Host.
func (s *Stub) Hostname() string { return s.hostname }

// MemoryUsage implements host.Host.
func (s *Stub) MemoryUsage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

// PeakMemoryUsage implements host.Host.
func (s *Stub) PeakMemoryUsage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.peak, s.memory)
}

// LoadAverage implements host.Host.
func (s *Stub) LoadAverage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load, s.loadErr
}
