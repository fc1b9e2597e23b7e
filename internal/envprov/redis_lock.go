package envprov

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tabsdata/tdworker/internal/logging"
)

// DistributedLock is a second build-coordination path alongside the
// local flock, for invokers on different hosts that share one cache
// directory over a network filesystem: a Redis SETNX mutex keyed by
// environment name, so only one host builds while the rest poll the
// cache.
type DistributedLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDistributedLock wraps an existing Redis client. A nil client is
// valid and makes every TryAcquire a no-op success, so callers without
// Redis configured fall back to local-only coordination.
func NewDistributedLock(rdb *redis.Client, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DistributedLock{rdb: rdb, ttl: ttl}
}

// TryAcquire attempts to become the builder for name. release must be
// called once the build (or cache-hit check) completes. ok is true if
// this caller won the mutex or Redis isn't configured.
func (d *DistributedLock) TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error) {
	if d == nil || d.rdb == nil {
		return func() {}, true, nil
	}
	key := "tdworker:envprov:lock:" + name
	won, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("envprov: redis lock %s: %w", name, err)
	}
	if !won {
		return func() {}, false, nil
	}
	return func() {
		if err := d.rdb.Del(context.Background(), key).Err(); err != nil {
			logging.Op().Warn("envprov: failed to release redis lock", "name", name, "error", err)
		}
	}, true, nil
}

// ProvisionDistributed wraps Provision with a distributed pre-check:
// if another host already holds the build lock for this environment,
// it polls the cache until that host's build appears there (or ctx is
// done) rather than racing the local flock (which only coordinates
// processes on the same host/filesystem).
func ProvisionDistributed(ctx context.Context, manifest []byte, platformTag, locksDir string, cache *Cache, build Builder, lock *DistributedLock) (string, error) {
	name := EnvironmentName(manifest, platformTag)

	if path, ok := cache.Get(name); ok {
		return path, nil
	}

	release, won, err := lock.TryAcquire(ctx, name)
	if err != nil {
		logging.Op().Warn("envprov: distributed lock unavailable, falling back to local-only coordination", "error", err)
		return Provision(ctx, manifest, platformTag, locksDir, cache, build)
	}
	if !won {
		return pollCache(ctx, cache, name)
	}
	defer release()

	return Provision(ctx, manifest, platformTag, locksDir, cache, build)
}

func pollCache(ctx context.Context, cache *Cache, name string) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if path, ok := cache.Get(name); ok {
			return path, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("envprov: wait for remote build of %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}
