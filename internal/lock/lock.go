// Package lock provides a Redis-backed distributed per-key lock service.
//
// Acquisition is SET NX PX with a random owner token; release is a Lua
// compare-and-delete so a lock can only be released by its owner. The
// lease bounds how long an orphaned lock (crashed holder) blocks a key.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Service acquires and releases per-key locks.
type Service struct {
	rdb   *redis.Client
	lease time.Duration
	retry time.Duration
}

// Lock is a held lock. Unlock releases it; releasing twice is harmless.
type Lock struct {
	s     *Service
	key   string
	token string
}

// New creates a lock service. lease is the lock lifetime granted per
// acquisition; retry is the poll interval of blocking acquisition.
func New(rdb *redis.Client, lease, retry time.Duration) *Service {
	return &Service{rdb: rdb, lease: lease, retry: retry}
}

// TryLock attempts a single non-blocking acquisition. It returns nil
// without error when the key is held by another owner.
func (s *Service) TryLock(ctx context.Context, key string) (*Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, token, s.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{s: s, key: key, token: token}, nil
}

// Lock blocks until the key is acquired or ctx is done.
func (s *Service) Lock(ctx context.Context, key string) (*Lock, error) {
	for {
		lock, err := s.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(s.retry):
		}
	}
}

// Unlock releases the lock if still owned. Errors are returned so
// callers may log them; the lease expires the lock regardless.
func (l *Lock) Unlock(ctx context.Context) error {
	if l == nil {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.s.rdb, []string{keyPrefix + l.key}, l.token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
