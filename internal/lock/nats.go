package lock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultNATSBucket is the key-value bucket holding lock records.
const DefaultNATSBucket = "cronrun-locks"

// NATSStore keeps leases in a JetStream key-value bucket. KV Create fails
// when the key exists, and deletes are made conditional on the revision
// that was read, so ownership checks hold across hosts.
type NATSStore struct {
	kv   jetstream.KeyValue
	conn *nats.Conn
}

// Compile-time interface check.
var _ Store = (*NATSStore)(nil)

// OpenNATSStore connects to url and creates bucket if needed.
func OpenNATSStore(ctx context.Context, url, bucket string) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultNATSBucket
	}

	nc, err := nats.Connect(url, nats.Name("cronrun"))
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cronrun scheduler locks",
		Storage:     jetstream.FileStorage,
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: bucket %s: %w", bucket, err)
	}

	s := NewNATSStore(kv)
	s.conn = nc
	return s, nil
}

// NewNATSStore wraps an existing bucket. Close leaves its connection open.
func NewNATSStore(kv jetstream.KeyValue) *NATSStore {
	return &NATSStore{kv: kv}
}

// natsKey maps a lock name onto the restricted KV key alphabet.
func natsKey(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func natsName(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	return string(b), err
}

// Create implements Store.
func (s *NATSStore) Create(ctx context.Context, lease Lease) (bool, error) {
	data, err := json.Marshal(lease)
	if err != nil {
		return false, fmt.Errorf("encode lease %s: %w", lease.Name, err)
	}
	if _, err := s.kv.Create(ctx, natsKey(lease.Name), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("nats: create %s: %w", lease.Name, err)
	}
	return true, nil
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, name string) (Lease, error) {
	l, _, err := s.get(ctx, name)
	return l, err
}

func (s *NATSStore) get(ctx context.Context, name string) (Lease, uint64, error) {
	entry, err := s.kv.Get(ctx, natsKey(name))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return Lease{}, 0, ErrNotFound
	}
	if err != nil {
		return Lease{}, 0, fmt.Errorf("nats: get %s: %w", name, err)
	}
	l, err := decodeLease(name, entry.Value())
	return l, entry.Revision(), err
}

// Delete implements Store.
func (s *NATSStore) Delete(ctx context.Context, name, owner string) (bool, error) {
	current, rev, err := s.get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return false, err
	}
	if owner != "" && current.Owner != owner {
		return false, nil
	}

	if err := s.kv.Delete(ctx, natsKey(name), jetstream.LastRevision(rev)); err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			// Replaced between read and delete; the new record is not ours.
			return false, nil
		}
		return false, fmt.Errorf("nats: delete %s: %w", name, err)
	}
	return true, nil
}

// List implements Store.
func (s *NATSStore) List(ctx context.Context) ([]Lease, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nats: keys: %w", err)
	}

	var leases []Lease
	for _, key := range keys {
		name, err := natsName(key)
		if err != nil {
			continue
		}
		l, err := s.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		leases = append(leases, l)
	}
	sortLeases(leases)
	return leases, nil
}

// Close implements Store.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
