// Package metrics collects and exposes tdworker runtime observability
// data.
//
// Two stores coexist, mirroring the teacher's split: an in-process
// Metrics struct (atomic counters) for the lightweight JSON snapshot
// endpoint, and a Prometheus registry (prometheus.go) for scraping.
//
// RecordRun is called once per function invocation and must stay off
// any lock: counters are atomic, durations accumulate via atomic adds.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics collects tdworker runtime counters.
type Metrics struct {
	TotalRuns   atomic.Int64
	SuccessRuns atomic.Int64
	FailedRuns  atomic.Int64

	TotalRunMs atomic.Int64
	MinRunMs   atomic.Int64
	MaxRunMs   atomic.Int64

	BytesScanned atomic.Int64
	BytesSunk    atomic.Int64

	JanitorTicks     atomic.Int64
	JanitorDeletions atomic.Int64
	JanitorErrors    atomic.Int64

	EnvBuilds   atomic.Int64
	EnvCacheHit atomic.Int64

	startTime time.Time
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinRunMs.Store(int64(^uint64(0) >> 1))
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordRun records one function invocation.
func (m *Metrics) RecordRun(durationMs, bytesScanned, bytesSunk int64, success bool) {
	m.TotalRuns.Add(1)
	if success {
		m.SuccessRuns.Add(1)
	} else {
		m.FailedRuns.Add(1)
	}
	m.TotalRunMs.Add(durationMs)
	updateMin(&m.MinRunMs, durationMs)
	updateMax(&m.MaxRunMs, durationMs)
	m.BytesScanned.Add(bytesScanned)
	m.BytesSunk.Add(bytesSunk)

	RecordPrometheusRun(durationMs, success)
}

// RecordJanitorTick records one janitor sweep, its deletions and errors.
func (m *Metrics) RecordJanitorTick(deletions, errs int64) {
	m.JanitorTicks.Add(1)
	m.JanitorDeletions.Add(deletions)
	m.JanitorErrors.Add(errs)
	RecordPrometheusJanitorTick(deletions, errs)
}

// RecordEnvBuild records an environment-provisioner build or cache hit.
func (m *Metrics) RecordEnvBuild(cacheHit bool) {
	m.EnvBuilds.Add(1)
	if cacheHit {
		m.EnvCacheHit.Add(1)
	}
	RecordPrometheusEnvBuild(cacheHit)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalRuns.Load()
	avg := float64(0)
	if total > 0 {
		avg = float64(m.TotalRunMs.Load()) / float64(total)
	}
	minMs := m.MinRunMs.Load()
	if minMs == int64(^uint64(0)>>1) {
		minMs = 0
	}
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"runs": map[string]interface{}{
			"total":   total,
			"success": m.SuccessRuns.Load(),
			"failed":  m.FailedRuns.Load(),
		},
		"duration_ms": map[string]interface{}{
			"avg": avg,
			"min": minMs,
			"max": m.MaxRunMs.Load(),
		},
		"bytes_scanned": m.BytesScanned.Load(),
		"bytes_sunk":    m.BytesSunk.Load(),
		"janitor": map[string]interface{}{
			"ticks":     m.JanitorTicks.Load(),
			"deletions": m.JanitorDeletions.Load(),
			"errors":    m.JanitorErrors.Load(),
		},
		"env": map[string]interface{}{
			"builds":     m.EnvBuilds.Load(),
			"cache_hits": m.EnvCacheHit.Load(),
		},
	}
}

// JSONHandler returns an HTTP handler exposing the snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
