package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces lock keys in a shared Redis database.
const DefaultRedisPrefix = "cronrun:lock:"

// redisGrace is added to the lease timeout to form the key TTL, so Redis
// only evicts records the manager would already consider stale.
const redisGrace = time.Minute

// deleteIfOwner removes KEYS[1] only when its JSON owner equals ARGV[1].
var deleteIfOwner = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	return 0
end
local ok, rec = pcall(cjson.decode, v)
if ok and type(rec) == "table" and rec.owner == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures OpenRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps leases as JSON strings under SETNX keys, letting
// schedulers on different machines share locks.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// OpenRedisStore connects to Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	s := NewRedisStore(client, opts.Prefix)
	s.owned = true
	return s, nil
}

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, lease Lease) (bool, error) {
	data, err := json.Marshal(lease)
	if err != nil {
		return false, fmt.Errorf("encode lease %s: %w", lease.Name, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(lease.Name), data, lease.Timeout+redisGrace).Result()
	if err != nil {
		return false, fmt.Errorf("redis: setnx %s: %w", lease.Name, err)
	}
	return ok, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, name string) (Lease, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Lease{}, ErrNotFound
	}
	if err != nil {
		return Lease{}, fmt.Errorf("redis: get %s: %w", name, err)
	}
	return decodeLease(name, data)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, name, owner string) (bool, error) {
	var (
		n   int64
		err error
	)
	if owner == "" {
		n, err = s.client.Del(ctx, s.key(name)).Result()
	} else {
		n, err = deleteIfOwner.Run(ctx, s.client, []string{s.key(name)}, owner).Int64()
	}
	if err != nil {
		return false, fmt.Errorf("redis: delete %s: %w", name, err)
	}
	return n > 0, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Lease, error) {
	var leases []Lease
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), s.prefix)
		l, err := s.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		leases = append(leases, l)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan: %w", err)
	}
	sortLeases(leases)
	return leases, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
