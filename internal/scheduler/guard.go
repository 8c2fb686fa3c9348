package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	"pubpipe/internal/config"
)

// Guard serializes batch driver ticks.
type Guard interface {
	// TryAcquire returns ok=false without blocking when another driver holds
	// the guard. release must be called when ok is true.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// NewConfiguredGuard returns the guard selected by cfg and a cleanup func.
func NewConfiguredGuard(cfg *config.Config) (Guard, func() error, error) {
	switch cfg.Scheduler.Guard {
	case config.GuardRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Scheduler.RedisAddr})
		ttl := time.Duration(cfg.Scheduler.LockTTLSeconds) * time.Second
		return NewRedisGuard(client, "pubpipe:scheduler", ttl), client.Close, nil
	case config.GuardFile, "":
		return NewFileGuard(cfg.SchedulerLockPath()), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown scheduler guard %q", cfg.Scheduler.Guard)
	}
}

// FileGuard holds an exclusive lock file for the duration of a tick.
type FileGuard struct {
	lock *flock.Flock
}

// NewFileGuard creates a guard on path.
func NewFileGuard(path string) *FileGuard {
	return &FileGuard{lock: flock.New(path)}
}

// TryAcquire implements Guard.
func (g *FileGuard) TryAcquire(context.Context) (func(), bool, error) {
	ok, err := g.lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() { _ = g.lock.Unlock() }, true, nil
}

// RedisGuard holds a Redis lock for the duration of a tick. The TTL bounds
// how long a crashed driver blocks the others.
type RedisGuard struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedisGuard creates a guard on key.
func NewRedisGuard(client redislock.RedisClient, key string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisGuard{locker: redislock.New(client), key: key, ttl: ttl}
}

// TryAcquire implements Guard.
func (g *RedisGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	lock, err := g.locker.Obtain(ctx, g.key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain scheduler lock: %w", err)
	}
	return func() { _ = lock.Release(context.Background()) }, true, nil
}
