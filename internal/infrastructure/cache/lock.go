package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DistributedLock is a single-instance Redis lease used to keep detection passes from
// overlapping across replicas.
type DistributedLock struct {
	redis RedisClient
}

func NewDistributedLock(redis RedisClient) *DistributedLock {
	return &DistributedLock{redis: redis}
}

// TryLock acquires name for ttl. ok is false when another holder owns it.
func (l *DistributedLock) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err = l.redis.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if _, err := l.redis.CompareAndDelete(ctx, key, token); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}
