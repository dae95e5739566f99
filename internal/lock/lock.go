// Package lock implements the cross-process mutual exclusion used by the
// cron scheduler: one global lock per scheduler run and one lock per job.
//
// A lock is a lease record (owner token, pid, hostname, acquisition time,
// timeout) stored behind an atomic create-if-absent primitive. The record
// lives in a Store so that independent process invocations observe it;
// nothing about lock ownership is kept only in memory.
package lock

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// GlobalName is the name of the lock guarding a whole scheduler run.
const GlobalName = "global"

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = time.Hour

// JobName returns the lock name for the job called name.
func JobName(name string) string { return "job:" + name }

var (
	// ErrNotFound is returned by Store.Get when no record exists.
	ErrNotFound = errors.New("lock: not found")

	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("lock: corrupt record")
)

// Lease is the ownership record of one lock.
type Lease struct {
	Name       string
	Owner      string
	PID        int
	Hostname   string
	AcquiredAt time.Time
	Timeout    time.Duration
}

// ExpiresAt returns the time after which the lease is stale regardless of
// whether its owner is still alive.
func (l Lease) ExpiresAt() time.Time { return l.AcquiredAt.Add(l.Timeout) }

// Expired reports whether the declared timeout has elapsed at now.
func (l Lease) Expired(now time.Time) bool { return now.Sub(l.AcquiredAt) > l.Timeout }

// leaseRecord is the on-disk form. Field names are chosen for operators
// reading lock files by hand.
type leaseRecord struct {
	Name           string    `json:"name"`
	Owner          string    `json:"owner"`
	PID            int       `json:"pid"`
	Hostname       string    `json:"hostname"`
	AcquiredAt     time.Time `json:"acquired_at"`
	TimeoutSeconds float64   `json:"timeout_seconds"`
}

// MarshalJSON implements json.Marshaler.
func (l Lease) MarshalJSON() ([]byte, error) {
	return json.Marshal(leaseRecord{
		Name:           l.Name,
		Owner:          l.Owner,
		PID:            l.PID,
		Hostname:       l.Hostname,
		AcquiredAt:     l.AcquiredAt.UTC(),
		TimeoutSeconds: l.Timeout.Seconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Lease) UnmarshalJSON(data []byte) error {
	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return errors.Join(ErrCorrupt, err)
	}
	*l = Lease{
		Name:       rec.Name,
		Owner:      rec.Owner,
		PID:        rec.PID,
		Hostname:   rec.Hostname,
		AcquiredAt: rec.AcquiredAt,
		Timeout:    time.Duration(rec.TimeoutSeconds * float64(time.Second)),
	}
	return nil
}

// decodeLease parses a JSON record. Undecodable data yields a Lease
// carrying only name together with ErrCorrupt.
func decodeLease(name string, data []byte) (Lease, error) {
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return Lease{Name: name}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if l.Name == "" {
		l.Name = name
	}
	return l, nil
}

// Store persists lease records. Implementations must make Create atomic
// across processes: when two callers race, exactly one gets true.
type Store interface {
	// Create stores lease if no record named lease.Name exists. It returns
	// false, nil when the name is already taken.
	Create(ctx context.Context, lease Lease) (bool, error)

	// Get returns the record for name or ErrNotFound.
	Get(ctx context.Context, name string) (Lease, error)

	// Delete removes the record for name. When owner is non-empty the
	// record is removed only if it still belongs to owner. It reports
	// whether a record was removed.
	Delete(ctx context.Context, name, owner string) (bool, error)

	// List returns every stored record.
	List(ctx context.Context) ([]Lease, error)

	// Close releases store resources. Records are left in place.
	Close() error
}

func sortLeases(leases []Lease) {
	slices.SortFunc(leases, func(a, b Lease) int { return cmp.Compare(a.Name, b.Name) })
}
