// Package idempotency remembers which order an Idempotency-Key produced.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long a key keeps pointing at its order.
const TTL = 24 * time.Hour

// PendingTTL bounds how long a reservation blocks retries of a request that
// never finished.
const PendingTTL = time.Minute

// Pending is the value a reserved key holds until its order is committed.
const Pending = "pending"

const keyOrderCreate = "idem:order:create:%s:%s"

// Store maps a user's idempotency key to the order it created.
//
// Reserve claims an unused key atomically. When the key is already taken it
// returns the stored value, which is either an order ID or Pending.
type Store interface {
	Get(ctx context.Context, userID, key string) (orderID string, found bool, err error)
	Reserve(ctx context.Context, userID, key string) (existing string, reserved bool, err error)
	Put(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

// Key returns the storage key for a user's idempotency key.
func Key(userID, key string) string {
	return fmt.Sprintf(keyOrderCreate, userID, key)
}

// KV is the part of the Redis client the store uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps keys in Redis with a TTL.
type RedisStore struct {
	rdb KV
	ttl time.Duration
}

// NewRedisClient creates a Redis client for addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// NewRedisStore creates a RedisStore. *redis.Client satisfies rdb.
func NewRedisStore(rdb KV, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID, key string) (string, bool, error) {
	orderID, err := s.rdb.Get(ctx, Key(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return orderID, true, nil
}

func (s *RedisStore) Put(ctx context.Context, userID, key, orderID string) error {
	if err := s.rdb.Set(ctx, Key(userID, key), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Reserve(ctx context.Context, userID, key string) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, Key(userID, key), Pending, PendingTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}
	existing, found, err := s.Get(ctx, userID, key)
	if err != nil {
		return "", false, err
	}
	if !found {
		// Expired between SETNX and GET; let the caller retry the request.
		return Pending, false, nil
	}
	return existing, false, nil
}

func (s *RedisStore) Release(ctx context.Context, userID, key string) error {
	if err := s.rdb.Del(ctx, Key(userID, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

type entry struct {
	orderID string
	expires time.Time
}

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := Key(userID, key)
	e, ok := s.entries[k]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, k)
		return "", false, nil
	}
	return e.orderID, true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.sweep()
	k := Key(userID, key)
	if e, ok := s.entries[k]; ok {
		return e.orderID, false, nil
	}
	s.entries[k] = entry{orderID: Pending, expires: now.Add(PendingTTL)}
	return "", true, nil
}

func (s *MemoryStore) Put(_ context.Context, userID, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.sweep()
	s.entries[Key(userID, key)] = entry{orderID: orderID, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, Key(userID, key))
	return nil
}

// sweep drops expired entries. s.mu must be held.
func (s *MemoryStore) sweep() time.Time {
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	return now
}
