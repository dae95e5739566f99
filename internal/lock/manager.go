package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/flemzord/cronrun/internal/host"
)

// levelCritical matches cron.LevelCritical; forced releases log at it.
const levelCritical = slog.Level(12)

// Status is a lease as seen by this manager.
type Status struct {
	Lease
	// Stale reports whether the lease may be reclaimed.
	Stale bool
	// Held reports whether this manager acquired the lease.
	Held bool
}

// Manager acquires and releases locks on behalf of one process. It never
// blocks on contention: acquisition is try-once and reports false when a
// live holder exists.
type Manager struct {
	store  Store
	host   host.Host
	clock  clockwork.Clock
	logger *slog.Logger
	alive  func(pid int) bool

	mu   sync.Mutex
	held map[string]string // lock name -> owner token
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for acquisition times and staleness.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHost sets the pid and hostname source recorded in leases.
func WithHost(h host.Host) Option {
	return func(m *Manager) { m.host = h }
}

// WithLivenessCheck replaces the pid liveness probe used for leases
// recorded on this host.
func WithLivenessCheck(alive func(pid int) bool) Option {
	return func(m *Manager) { m.alive = alive }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		alive:  processAlive,
		held:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.host == nil {
		m.host = host.NewSystem()
	}
	m.logger = m.logger.With("component", "lock")
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// AcquireGlobal tries to take the global scheduler lock.
func (m *Manager) AcquireGlobal(ctx context.Context, timeout time.Duration) (bool, error) {
	return m.acquire(ctx, GlobalName, timeout)
}

// ReleaseGlobal releases the global lock if this manager holds it. It is
// safe to call when nothing is held.
func (m *Manager) ReleaseGlobal(ctx context.Context) error {
	return m.release(ctx, GlobalName)
}

// AcquireJob tries to take the lock for the job called name.
func (m *Manager) AcquireJob(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	return m.acquire(ctx, JobName(name), timeout)
}

// ReleaseJob releases the lock for the job called name if this manager
// holds it.
func (m *Manager) ReleaseJob(ctx context.Context, name string) error {
	return m.release(ctx, JobName(name))
}

// IsGlobalActive reports whether a live, non-stale global lock exists.
func (m *Manager) IsGlobalActive(ctx context.Context) (bool, error) {
	return m.isActive(ctx, GlobalName)
}

// IsJobLocked reports whether a live, non-stale lock exists for the job.
func (m *Manager) IsJobLocked(ctx context.Context, name string) (bool, error) {
	return m.isActive(ctx, JobName(name))
}

// IsStale reports whether l may be reclaimed: its timeout has elapsed, or
// it was taken on this host by a process that no longer exists.
func (m *Manager) IsStale(l Lease) bool {
	if l.Expired(m.clock.Now()) {
		return true
	}
	if l.Hostname == m.host.Hostname() && l.PID > 0 && l.PID != m.host.PID() {
		return !m.alive(l.PID)
	}
	return false
}

// List returns every stored lease with its staleness.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	leases, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: list: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(leases))
	for _, l := range leases {
		owner, held := m.held[l.Name]
		out = append(out, Status{
			Lease: l,
			Stale: m.IsStale(l),
			Held:  held && owner == l.Owner,
		})
	}
	return out, nil
}

// CleanupStale deletes every stale lease, including an orphaned global
// lock left by a crashed process, and returns how many were reclaimed.
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	leases, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("lock: cleanup: %w", err)
	}

	reclaimed := 0
	for _, l := range leases {
		if !m.IsStale(l) {
			continue
		}
		deleted, err := m.store.Delete(ctx, l.Name, l.Owner)
		if err != nil {
			return reclaimed, fmt.Errorf("lock: cleanup %s: %w", l.Name, err)
		}
		if deleted {
			reclaimed++
			m.logger.Info("lock: reclaimed stale lock",
				"lock", l.Name,
				"pid", l.PID,
				"hostname", l.Hostname,
				"acquired_at", l.AcquiredAt,
			)
		}
	}
	return reclaimed, nil
}

// ForceRelease deletes the lock called name whoever holds it.
func (m *Manager) ForceRelease(ctx context.Context, name string) (bool, error) {
	deleted, err := m.store.Delete(ctx, name, "")
	if err != nil {
		return false, fmt.Errorf("lock: force release %s: %w", name, err)
	}
	m.forget(name)
	if deleted {
		m.logger.Log(ctx, levelCritical, "lock: forced release", "lock", name)
	}
	return deleted, nil
}

// ForceReleaseAll deletes every lock record regardless of owner. This can
// break mutual exclusion if a holder is still running.
func (m *Manager) ForceReleaseAll(ctx context.Context) (int, error) {
	leases, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("lock: force release all: %w", err)
	}

	released := 0
	var errs []error
	for _, l := range leases {
		deleted, err := m.store.Delete(ctx, l.Name, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("lock: force release %s: %w", l.Name, err))
			continue
		}
		m.forget(l.Name)
		if deleted {
			released++
		}
	}

	m.logger.Log(ctx, levelCritical, "lock: forced release of all locks",
		"released", released,
		"pid", m.host.PID(),
	)
	return released, errors.Join(errs...)
}

func (m *Manager) acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lease := Lease{
		Name:       name,
		Owner:      uuid.NewString(),
		PID:        m.host.PID(),
		Hostname:   m.host.Hostname(),
		AcquiredAt: m.clock.Now(),
		Timeout:    timeout,
	}

	// Second attempt only happens after a stale or vanished record.
	for range 2 {
		created, err := m.store.Create(ctx, lease)
		if err != nil {
			return false, fmt.Errorf("lock: acquire %s: %w", name, err)
		}
		if created {
			m.mu.Lock()
			m.held[name] = lease.Owner
			m.mu.Unlock()
			m.logger.Debug("lock: acquired", "lock", name, "timeout", timeout)
			return true, nil
		}

		existing, err := m.store.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return false, fmt.Errorf("lock: inspect %s: %w", name, err)
		}
		if err == nil && !m.IsStale(existing) {
			m.logger.Debug("lock: held by another owner",
				"lock", name,
				"pid", existing.PID,
				"hostname", existing.Hostname,
				"acquired_at", existing.AcquiredAt,
			)
			return false, nil
		}

		m.logger.Warn("lock: reclaiming stale lock",
			"lock", name,
			"pid", existing.PID,
			"hostname", existing.Hostname,
			"acquired_at", existing.AcquiredAt,
		)
		if _, err := m.store.Delete(ctx, name, existing.Owner); err != nil {
			return false, fmt.Errorf("lock: reclaim %s: %w", name, err)
		}
	}
	return false, nil
}

func (m *Manager) release(ctx context.Context, name string) error {
	m.mu.Lock()
	owner, ok := m.held[name]
	delete(m.held, name)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if _, err := m.store.Delete(ctx, name, owner); err != nil {
		return fmt.Errorf("lock: release %s: %w", name, err)
	}
	m.logger.Debug("lock: released", "lock", name)
	return nil
}

func (m *Manager) isActive(ctx context.Context, name string) (bool, error) {
	l, err := m.store.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock: inspect %s: %w", name, err)
	}
	return !m.IsStale(l), nil
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.held, name)
	m.mu.Unlock()
}
