package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Liveness records which users recently talked to the server. Entries expire
// after a TTL.
type Liveness interface {
	Touch(ctx context.Context, uid string) error
	Alive(ctx context.Context, uid string) (bool, error)
}

// MemoryLiveness is a single-process Liveness.
type MemoryLiveness struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryLiveness returns a Liveness whose entries live for ttl.
func NewMemoryLiveness(ttl time.Duration) *MemoryLiveness {
	return &MemoryLiveness{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (m *MemoryLiveness) Touch(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.seen[uid] = now
	// drop expired entries while we hold the lock
	for k, at := range m.seen {
		if now.Sub(at) > m.ttl {
			delete(m.seen, k)
		}
	}
	return nil
}

func (m *MemoryLiveness) Alive(_ context.Context, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[uid]
	return ok && m.now().Sub(at) <= m.ttl, nil
}

// RedisLiveness keeps one expiring key per user so several API instances
// share the same view.
type RedisLiveness struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLiveness returns a Liveness storing keys prefix+uid.
func NewRedisLiveness(client *redis.Client, prefix string, ttl time.Duration) *RedisLiveness {
	if prefix == "" {
		prefix = "presence:alive:"
	}
	return &RedisLiveness{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLiveness) Touch(ctx context.Context, uid string) error {
	if err := r.client.Set(ctx, r.prefix+uid, time.Now().UTC().Format(time.RFC3339Nano), r.ttl).Err(); err != nil {
		return fmt.Errorf("liveness touch: %w", err)
	}
	return nil
}

func (r *RedisLiveness) Alive(ctx context.Context, uid string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+uid).Result()
	if err != nil {
		return false, fmt.Errorf("liveness check: %w", err)
	}
	return n > 0, nil
}
