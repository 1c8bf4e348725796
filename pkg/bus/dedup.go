package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore tracks which (loan_application_id, message_type, correlation_id)
// keys have already been handled, so at-least-once redeliveries short-
// circuit before the handler runs. Keys are marked only after successful
// handling; a nacked delivery stays unmarked and its redelivery reaches the
// handler. Entries expire; the status gate in each agent remains the
// authoritative idempotency check.
type DedupStore interface {
	// Seen reports whether the key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records the key for the store's TTL.
	Mark(ctx context.Context, key string) error
}

// MemoryDedup is an in-memory DedupStore with TTL expiry.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDedup) Seen(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDedup) Mark(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = time.Now().Add(d.ttl)
	return nil
}

// RedisDedup is a DedupStore on Redis TTL keys, shared across processes.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, "ratelock:dedup:"+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDedup) Mark(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, "ratelock:dedup:"+key, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
