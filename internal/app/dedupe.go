package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/reconciliation-service/internal/domain"
)

// EventMarkers is a fast, expiring record of provider events that were fully applied.
// The processed_events table stays the durable source of truth.
type EventMarkers interface {
	Seen(ctx context.Context, provider domain.Provider, eventID string) (bool, error)
	Mark(ctx context.Context, provider domain.Provider, eventID string) error
}

// markEventScript sets the marker only when absent; the first applied delivery owns the TTL.
var markEventScript = redis.NewScript(`
local created = redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2], "NX")
if created then
  return 1
end
return 0
`)

// RedisEventMarkers stores markers as expiring Redis keys shared by every replica.
type RedisEventMarkers struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisEventMarkers(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventMarkers {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:webhook_event"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}

	return &RedisEventMarkers{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisEventMarkers) key(provider domain.Provider, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, provider, strings.TrimSpace(eventID))
}

func (r *RedisEventMarkers) Seen(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	if r == nil || r.client == nil || strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisEventMarkers) Mark(ctx context.Context, provider domain.Provider, eventID string) error {
	if r == nil || r.client == nil || strings.TrimSpace(eventID) == "" {
		return nil
	}
	ttlMs := r.ttl.Milliseconds()
	if ttlMs < 1000 {
		ttlMs = 1000
	}
	_, err := markEventScript.Run(ctx, r.client, []string{r.key(provider, eventID)}, time.Now().UTC().Unix(), ttlMs).Result()
	return err
}

// MemoryEventMarkers keeps markers in process memory. It is used when Redis is not configured
// and in tests.
type MemoryEventMarkers struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	events map[string]time.Time
}

func NewMemoryEventMarkers(ttl time.Duration) *MemoryEventMarkers {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryEventMarkers{
		ttl:    ttl,
		now:    time.Now,
		events: make(map[string]time.Time),
	}
}

func (m *MemoryEventMarkers) Seen(_ context.Context, provider domain.Provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	_, ok := m.events[string(provider)+":"+eventID]
	return ok, nil
}

func (m *MemoryEventMarkers) Mark(_ context.Context, provider domain.Provider, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
	m.events[string(provider)+":"+eventID] = m.now()
	return nil
}

func (m *MemoryEventMarkers) evictLocked() {
	cutoff := m.now().Add(-m.ttl)
	for key, markedAt := range m.events {
		if markedAt.Before(cutoff) {
			delete(m.events, key)
		}
	}
}
