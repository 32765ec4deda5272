package timeline

import (
	"context"
	"sync"
	"time"

	"engagement-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards per-progress processing. TryLock returns ErrProgressBusy when the key
// is held; release must be called exactly once after a successful acquire.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]struct{}{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrProgressBusy
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// RedisLocker is a cross-process Locker backed by SET NX PX with a per-acquire token.
// The TTL bounds how long a crashed worker can block a customer.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, prefix: "engine:lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := l.prefix + key
	ok, err := utils.TryLock(ctx, l.rdb, k, token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProgressBusy
	}
	return func() {
		// Release on a fresh context; the caller's may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.Unlock(ctx, l.rdb, k, token)
	}, nil
}
