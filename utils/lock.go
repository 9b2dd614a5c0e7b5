package utils

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end return 0`)

// UserLocker hands out per-key mutual exclusion. With Redis the lock is shared
// across instances (SET NX PX plus token-checked release); without it, or while
// Redis is unreachable, the lock only covers this process.
type UserLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration

	mu    sync.Mutex
	local map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewUserLocker creates a locker; rdb may be nil. ttl bounds how long a crashed
// holder can keep a Redis lock.
func NewUserLocker(rdb *redis.Client, ttl time.Duration) *UserLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &UserLocker{
		rdb:   rdb,
		ttl:   ttl,
		retry: 25 * time.Millisecond,
		local: map[string]*localLock{},
	}
}

// Lock blocks until key is acquired or ctx ends, in which case ctx.Err() is returned.
func (l *UserLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.rdb == nil {
		return l.lockLocal(ctx, key)
	}
	return l.lockRedis(ctx, lockKeyPrefix+key)
}

func (l *UserLocker) lockRedis(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Redis down: degrade to the in-process lock
			Sugar.Warnf("redis lock unavailable, using in-process lock key=%s err=%v", key, err)
			return l.lockLocal(ctx, key)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
						Sugar.Warnf("lock release failed key=%s err=%v", key, err)
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *UserLocker) lockLocal(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ll, ok := l.local[key]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.local[key] = ll
	}
	ll.refs++
	l.mu.Unlock()

	select {
	case ll.ch <- struct{}{}:
	case <-ctx.Done():
		l.dropRef(key, ll)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ll.ch
			l.dropRef(key, ll)
		})
	}, nil
}

func (l *UserLocker) dropRef(key string, ll *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.local, key)
	}
}
