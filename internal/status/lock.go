package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrLocked means another worker currently holds the session lock.
var ErrLocked = errors.New("session is locked by another worker")

// Locker serializes pipeline steps for a session. Two concurrent Advance
// calls against the same session would both read the last snapshot and the
// later save would silently drop the earlier rows; the lock forces one
// writer at a time.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:lock", sessionID)
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(sessionID), token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	release := func() {
		// delete only if we still own it
		script := redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
		_ = script.Run(context.Background(), l.client, []string{lockKey(sessionID)}, token).Err()
	}
	return release, nil
}

// LocalLocker is an in-process Locker for single-instance deployments and
// tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) Acquire(_ context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] {
		return nil, ErrLocked
	}
	l.held[sessionID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, sessionID)
	}, nil
}
