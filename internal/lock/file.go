package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	lockExt   = ".lock"
	guardFile = ".guard"
)

// FileStore keeps one JSON file per lock in a directory. Create writes the
// record to a temporary file and hard-links it into place, so a record is
// either absent or complete and two racing creators cannot both succeed.
type FileStore struct {
	dir string
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding lock files.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file backing the lock called name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, url.QueryEscape(name)+lockExt)
}

// Create implements Store.
func (s *FileStore) Create(_ context.Context, lease Lease) (bool, error) {
	data, err := json.MarshalIndent(lease, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode lease %s: %w", lease.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".lease-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("write lease %s: %w", lease.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("sync lease %s: %w", lease.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close lease %s: %w", lease.Name, err)
	}

	if err := os.Link(tmpPath, s.Path(lease.Name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link lease %s: %w", lease.Name, err)
	}
	return true, nil
}

// Get implements Store. An undecodable file yields a Lease carrying only
// its name together with ErrCorrupt.
func (s *FileStore) Get(_ context.Context, name string) (Lease, error) {
	return readLeaseFile(s.Path(name), name)
}

// Delete implements Store. The owner check and the removal run under the
// directory guard, so a lease created by a competing reclaimer between the
// two steps cannot be removed in its place.
func (s *FileStore) Delete(_ context.Context, name, owner string) (bool, error) {
	unlock, err := lockGuard(filepath.Join(s.dir, guardFile))
	if err != nil {
		return false, err
	}
	defer unlock()

	path := s.Path(name)
	if owner != "" {
		current, err := readLeaseFile(path, name)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return false, err
		}
		if current.Owner != owner {
			return false, nil
		}
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Lease, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", s.dir, err)
	}

	var leases []Lease
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(fileName, lockExt) {
			continue
		}
		name, err := url.QueryUnescape(strings.TrimSuffix(fileName, lockExt))
		if err != nil {
			continue
		}
		lease, err := readLeaseFile(filepath.Join(s.dir, fileName), name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		leases = append(leases, lease)
	}
	sortLeases(leases)
	return leases, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func readLeaseFile(path, name string) (Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Lease{}, ErrNotFound
		}
		return Lease{}, fmt.Errorf("read %s: %w", path, err)
	}

	return decodeLease(name, data)
}
