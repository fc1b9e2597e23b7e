package envprov

import (
	"context"
	"testing"
	"time"
)

func TestDistributedLockNilClientAlwaysWins(t *testing.T) {
	lock := NewDistributedLock(nil, time.Minute)
	release, ok, err := lock.TryAcquire(context.Background(), "env-a")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected nil-client lock to always win")
	}
	release()
}

func TestProvisionDistributedWithoutRedisFallsBackToLocal(t *testing.T) {
	dir := t.TempDir()
	cache := NewCache(dir)
	locksDir := t.TempDir()
	manifest := []byte("requirements-hash")

	calls := 0
	build := func(ctx context.Context, manifest []byte, destDir string) (string, error) {
		calls++
		return StageMarker(ctx, manifest, destDir)
	}

	lock := NewDistributedLock(nil, time.Minute)
	path1, err := ProvisionDistributed(context.Background(), manifest, "linux-amd64", locksDir, cache, build, lock)
	if err != nil {
		t.Fatalf("ProvisionDistributed: %v", err)
	}
	path2, err := ProvisionDistributed(context.Background(), manifest, "linux-amd64", locksDir, cache, build, lock)
	if err != nil {
		t.Fatalf("ProvisionDistributed second call: %v", err)
	}
	if path1 != path2 {
		t.Fatalf("expected cached path to be reused: %q vs %q", path1, path2)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 build, got %d", calls)
	}
}
