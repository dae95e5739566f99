package host

import (
	"errors"
	"os"
	"testing"
)

func TestSystem_PID(t *testing.T) {
	t.Parallel()

	s := NewSystem()
	if s.PID() != os.Getpid() {
		t.Errorf("PID() = %d, want %d", s.PID(), os.Getpid())
	}
	if s.Hostname() == "" {
		t.Error("Hostname() should never be empty")
	}
}

func TestSystem_Memory(t *testing.T) {
	t.Parallel()

	s := NewSystem()
	if s.MemoryUsage() == 0 {
		t.Error("MemoryUsage() = 0")
	}
	if peak := s.PeakMemoryUsage(); peak == 0 {
		t.Error("PeakMemoryUsage() = 0")
	}
}

func TestSystem_LoadAverage(t *testing.T) {
	t.Parallel()

	load, err := NewSystem().LoadAverage()
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if load < 0 {
		t.Errorf("LoadAverage() = %f, want >= 0", load)
	}
}

func TestSystem_NoProcfs(t *testing.T) {
	t.Parallel()

	s := &System{pid: os.Getpid(), hostname: "test"}
	if _, err := s.LoadAverage(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if s.MemoryUsage() == 0 {
		t.Error("runtime fallback should report memory")
	}
}
