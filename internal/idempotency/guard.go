// Package idempotency remembers client-supplied request keys so a retried
// booking request is answered with the booking it already created.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "idem:booking:"
	pending    = "pending"
)

// ErrInFlight means another request with the same key has not finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Guard claims keys for the lifetime of one request.
type Guard interface {
	// Begin claims key. When the key was already completed it returns the
	// stored result and claimed=false. A key still being processed yields
	// ErrInFlight.
	Begin(ctx context.Context, key string) (result string, claimed bool, err error)

	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key, result string) error

	// Release forgets a claimed key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// RedisGuard keeps keys in Redis with SET NX.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Begin(ctx context.Context, key string) (string, bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, pending, g.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	value, err := g.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = g.client.SetNX(ctx, keyPrefix+key, pending, g.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return "", true, nil
		}
		return "", false, ErrInFlight
	}
	if err != nil {
		return "", false, err
	}
	if value == pending {
		return "", false, ErrInFlight
	}
	return value, false, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key, result string) error {
	return g.client.Set(ctx, keyPrefix+key, result, g.ttl).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, keyPrefix+key).Err()
}

// MemoryGuard is a process-local Guard for single-instance runs and tests.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]entry
}

type entry struct {
	value   string
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{ttl: ttl, now: time.Now, keys: make(map[string]entry)}
}

func (g *MemoryGuard) Begin(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e, ok := g.keys[key]
	if !ok || !now.Before(e.expires) {
		g.keys[key] = entry{value: pending, expires: now.Add(g.ttl)}
		return "", true, nil
	}
	if e.value == pending {
		return "", false, ErrInFlight
	}
	return e.value, false, nil
}

func (g *MemoryGuard) Complete(_ context.Context, key, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.keys[key] = entry{value: result, expires: g.now().Add(g.ttl)}
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.keys, key)
	return nil
}
