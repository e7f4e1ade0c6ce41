// Package lock guards synchronization runs so only one is active at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"libsync/pkg/platform/sentinel"
)

// RunLockName is the lock every synchronization run acquires.
const RunLockName = "sync-run"

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named leases that expire after ttl unless released.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never releases a lock another holder has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "libsync:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w: %w", name, sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", name, sentinel.ErrAlreadyUsed)
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w: %w", l.key, sentinel.ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: lease expired: %w", l.key, sentinel.ErrInvalidState)
	}
	return nil
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   uuid.UUID
	expires time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[name]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("acquire %s: %w", name, sentinel.ErrAlreadyUsed)
	}
	token := uuid.New()
	l.held[name] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, name: name, token: token}, nil
}

type localLease struct {
	locker *LocalLocker
	name   string
	token  uuid.UUID
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	e, ok := l.locker.held[l.name]
	if !ok || e.token != l.token {
		return fmt.Errorf("release %s: lease expired: %w", l.name, sentinel.ErrInvalidState)
	}
	delete(l.locker.held, l.name)
	return nil
}

// IsHeld reports whether err means another holder owns the lock.
func IsHeld(err error) bool {
	return errors.Is(err, sentinel.ErrAlreadyUsed)
}
