package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker implements a best-effort distributed mutex on top of redis SET NX.
// It guards recurring jobs against overlapping runs across processes; a lock
// that cannot be acquired means another run is in flight and the tick should
// be skipped.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Acquire attempts to take the named lock for ttl. It returns false when the
// lock is already held elsewhere. The returned release func deletes the lock
// and is safe to call when acquisition failed.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	if l == nil || l.client == nil {
		return false, func() {}, errors.New("platform/cache: locker not configured")
	}
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, func() {}, err
	}
	if !ok {
		return false, func() {}, nil
	}
	release := func() {
		// Lock expiry covers the case where release never runs.
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}
	return true, release, nil
}
