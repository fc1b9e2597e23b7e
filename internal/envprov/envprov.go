// Package envprov provisions the isolated execution environment a
// function bundle runs in: a content-addressed binary/marker keyed by
// the bundle's requirements manifest and platform tag, built once and
// shared across concurrent invokers via an advisory file lock.
//
// The on-disk cache layout (content hash -> marker path, hard-linked
// where possible) is adapted from the teacher's codeloader.LayerCache.
package envprov

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/metrics"
)

// EnvironmentName derives the content-addressed name for a manifest +
// platform tag pair: sha256(manifest || platform) truncated to 16 hex
// characters.
func EnvironmentName(manifest []byte, platformTag string) string {
	h := sha256.New()
	h.Write(manifest)
	h.Write([]byte(platformTag))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// Cache is the host-side on-disk cache of provisioned environments,
// keyed by EnvironmentName, following the teacher's LayerCache
// content-addressing and hard-link idiom.
type Cache struct {
	mu       sync.RWMutex
	cacheDir string
	entries  map[string]string // name -> binPath
}

// NewCache creates a cache rooted at cacheDir, loading any existing entries.
func NewCache(cacheDir string) *Cache {
	if cacheDir == "" {
		cacheDir = "/tmp/tdworker/envs"
	}
	os.MkdirAll(cacheDir, 0755)
	c := &Cache{cacheDir: cacheDir, entries: make(map[string]string)}
	c.loadExisting()
	return c
}

func (c *Cache) loadExisting() {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext == ".bin" {
			c.entries[name[:len(name)-len(ext)]] = filepath.Join(c.cacheDir, name)
		}
	}
}

// Get returns the cached binary path for name, if present and intact.
func (c *Cache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	path, ok := c.entries[name]
	if ok {
		if _, err := os.Stat(path); err != nil {
			return "", false
		}
	}
	return path, ok
}

// Put registers sourcePath as the binary for name, hard-linking into the
// cache directory (falling back to a copy across devices).
func (c *Cache) Put(name, sourcePath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[name]; ok {
		if _, err := os.Stat(existing); err == nil {
			return existing, nil
		}
	}

	cachedPath := filepath.Join(c.cacheDir, name+".bin")
	if err := os.Link(sourcePath, cachedPath); err != nil {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return "", fmt.Errorf("envprov: read built binary: %w", err)
		}
		if err := os.WriteFile(cachedPath, data, 0755); err != nil {
			return "", fmt.Errorf("envprov: write cached binary: %w", err)
		}
	}
	c.entries[name] = cachedPath
	logging.Op().Info("environment cached", "name", name, "path", cachedPath)
	return cachedPath, nil
}

// Evict removes a cached environment by name.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path, ok := c.entries[name]; ok {
		os.Remove(path)
		delete(c.entries, name)
	}
}

// Size returns the number of cached environments.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Builder stages the execution environment for name when it is not
// already cached: in this port, that means writing a requirements-hash
// marker and a shim binary a real provisioner would replace with an
// actual interpreter/venv build.
type Builder func(ctx context.Context, manifest []byte, destDir string) (binPath string, err error)

// Provision returns the environment binary path for manifest/platformTag,
// building it if necessary. Concurrent callers for the same name
// coordinate through an advisory file lock under locksDir so only one
// process builds while the rest wait and then reuse the result.
func Provision(ctx context.Context, manifest []byte, platformTag, locksDir string, cache *Cache, build Builder) (string, error) {
	name := EnvironmentName(manifest, platformTag)

	if path, ok := cache.Get(name); ok {
		metrics.Global().RecordEnvBuild(true)
		return path, nil
	}

	if err := os.MkdirAll(locksDir, 0755); err != nil {
		return "", fmt.Errorf("envprov: create locks dir: %w", err)
	}
	lockPath := filepath.Join(locksDir, name+".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return "", fmt.Errorf("envprov: open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("envprov: acquire lock %s: %w", name, err)
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	if path, ok := cache.Get(name); ok {
		metrics.Global().RecordEnvBuild(true)
		return path, nil
	}

	stageDir, err := os.MkdirTemp("", "tdworker-env-"+name+"-")
	if err != nil {
		return "", fmt.Errorf("envprov: create stage dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	start := time.Now()
	binPath, err := build(ctx, manifest, stageDir)
	if err != nil {
		return "", fmt.Errorf("envprov: build environment %s: %w", name, err)
	}
	logging.Op().Info("environment built", "name", name, "duration_ms", time.Since(start).Milliseconds())

	cached, err := cache.Put(name, binPath)
	if err != nil {
		return "", err
	}
	metrics.Global().RecordEnvBuild(false)
	return cached, nil
}

// StageMarker writes a requirements-hash marker file to destDir/ENV_HASH
// and returns its path. It is the default Builder for manifests that do
// not need an actual interpreter/venv materialized (e.g. when the
// function runtime is resolved by the worker's own binary rather than a
// per-environment one); a real provisioner replaces this with a venv/uv
// build step invoked against manifest.
func StageMarker(ctx context.Context, manifest []byte, destDir string) (string, error) {
	h := sha256.Sum256(manifest)
	markerPath := filepath.Join(destDir, "ENV_HASH")
	if err := os.WriteFile(markerPath, []byte(hex.EncodeToString(h[:])), 0644); err != nil {
		return "", fmt.Errorf("envprov: write marker: %w", err)
	}
	return markerPath, nil
}
