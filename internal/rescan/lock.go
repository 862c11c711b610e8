package rescan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides a mutual-exclusion lease across rescan runs. TryLock
// never blocks: when the lease is held elsewhere it returns acquired=false.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

// NewMemoryLocker creates a new process-local locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

// TryLock takes the lease on key unless an unexpired one is held. The
// returned unlock releases only this lease.
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.leases[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.leases[key] = exp

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// only release our own lease
		if cur, ok := l.leases[key]; ok && cur.Equal(exp) {
			delete(l.leases, key)
		}
		return nil
	}
	return unlock, true, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// RedisLocker shares the rescan lease between server instances
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a locker backed by client
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock takes the lease with SET NX under a random token. The returned
// unlock deletes the key only while it still holds that token.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		return releaseLockScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return unlock, true, nil
}
