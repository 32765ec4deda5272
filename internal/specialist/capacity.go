package specialist

import (
	"context"
	"sync"
	"time"

	"engagement-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Capacity is the atomic active-customer counter per specialist.
//
// Acquire increments only while under limit, in one step, so two concurrent
// assignments can never both pass the cap.
type Capacity interface {
	Acquire(ctx context.Context, specialistID string, limit int) (bool, error)
	// ForceAcquire increments regardless of limit (fallback assignments).
	ForceAcquire(ctx context.Context, specialistID string) error
	Release(ctx context.Context, specialistID string) error
	Count(ctx context.Context, specialistID string) (int, error)
	// Reconcile raises the counter to at least floor and returns the resulting count.
	// It never lowers a counter.
	Reconcile(ctx context.Context, specialistID string, floor int) (int, error)
}

type MemoryCapacity struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryCapacity() *MemoryCapacity {
	return &MemoryCapacity{counts: map[string]int{}}
}

// Seed sets a starting count, e.g. from a directory snapshot.
func (m *MemoryCapacity) Seed(specialistID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[specialistID] = n
}

func (m *MemoryCapacity) Acquire(ctx context.Context, id string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[id] >= limit {
		return false, nil
	}
	m.counts[id]++
	return true, nil
}

func (m *MemoryCapacity) ForceAcquire(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	return nil
}

func (m *MemoryCapacity) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[id] > 0 {
		m.counts[id]--
	}
	return nil
}

func (m *MemoryCapacity) Count(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id], nil
}

func (m *MemoryCapacity) Reconcile(ctx context.Context, id string, floor int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[id] < floor {
		m.counts[id] = floor
	}
	return m.counts[id], nil
}

// RedisCapacity keeps counters in Redis so every API instance shares them.
// The TTL is refreshed on each acquire and bounds drift from lost releases.
type RedisCapacity struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCapacity(rdb *redis.Client, ttl time.Duration) *RedisCapacity {
	return &RedisCapacity{rdb: rdb, ttl: ttl, prefix: "engine:specialist:active:"}
}

func (r *RedisCapacity) Acquire(ctx context.Context, id string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	return utils.AcquireSlot(ctx, r.rdb, r.prefix+id, limit, r.ttl)
}

func (r *RedisCapacity) ForceAcquire(ctx context.Context, id string) error {
	_, err := utils.AcquireSlot(ctx, r.rdb, r.prefix+id, 0, r.ttl)
	return err
}

func (r *RedisCapacity) Release(ctx context.Context, id string) error {
	return utils.ReleaseSlot(ctx, r.rdb, r.prefix+id)
}

func (r *RedisCapacity) Count(ctx context.Context, id string) (int, error) {
	return utils.SlotCount(ctx, r.rdb, r.prefix+id)
}

func (r *RedisCapacity) Reconcile(ctx context.Context, id string, floor int) (int, error) {
	return utils.RaiseSlot(ctx, r.rdb, r.prefix+id, floor, r.ttl)
}
