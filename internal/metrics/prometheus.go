package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for tdworker.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	janitorTicks    prometheus.Counter
	janitorDeletion prometheus.Counter
	janitorErrors   prometheus.Counter
	envBuilds       prometheus.Counter
	envCacheHits    prometheus.Counter
	uptime          prometheus.GaugeFunc
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "runs_total", Help: "Total function runs"},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Name: "run_duration_milliseconds", Help: "Duration of function runs", Buckets: buckets},
		),
		janitorTicks:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "janitor_ticks_total", Help: "Total janitor sweep ticks"}),
		janitorDeletion: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "janitor_deletions_total", Help: "Total artifacts deleted by the janitor"}),
		janitorErrors:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "janitor_errors_total", Help: "Total per-file janitor errors"}),
		envBuilds:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "env_builds_total", Help: "Total environment provisioning attempts"}),
		envCacheHits:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "env_cache_hits_total", Help: "Total environment cache hits"}),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "uptime_seconds", Help: "Time since process started"},
		func() float64 { return time.Since(StartTime()).Seconds() },
	)

	registry.MustRegister(
		pm.runsTotal, pm.runDuration, pm.janitorTicks, pm.janitorDeletion,
		pm.janitorErrors, pm.envBuilds, pm.envCacheHits, pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusRun records a run's outcome and duration.
func RecordPrometheusRun(durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.runsTotal.WithLabelValues(status).Inc()
	promMetrics.runDuration.Observe(float64(durationMs))
}

// RecordPrometheusJanitorTick records one janitor sweep.
func RecordPrometheusJanitorTick(deletions, errs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.janitorTicks.Inc()
	promMetrics.janitorDeletion.Add(float64(deletions))
	promMetrics.janitorErrors.Add(float64(errs))
}

// RecordPrometheusEnvBuild records an environment build or cache hit.
func RecordPrometheusEnvBuild(cacheHit bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.envBuilds.Inc()
	if cacheHit {
		promMetrics.envCacheHits.Inc()
	}
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
