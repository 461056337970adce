package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the orchestrator's Prometheus metrics behind one
// registry so components share a single /metrics surface.
type Collector struct {
	registry *prometheus.Registry

	workerRestarts  *prometheus.CounterVec
	workerCrashes   *prometheus.CounterVec
	deploys         *prometheus.CounterVec
	readyWorkers    prometheus.Gauge
	upstreams       prometheus.Gauge
	restartDuration prometheus.Histogram
	proxyRequests   *prometheus.CounterVec
}

// NewCollector creates a collector under the given namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "rollout"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Total number of worker restarts",
		},
		[]string{"index", "reason"},
	)

	c.workerCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_crashes_total",
			Help:      "Total number of worker crashes observed by the supervisor",
		},
		[]string{"index"},
	)

	c.deploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Total number of deployment runs by result",
		},
		[]string{"result"},
	)

	c.readyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_workers",
			Help:      "Number of workers currently in READY state",
		},
	)

	c.upstreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_upstreams",
			Help:      "Number of endpoints currently in the upstream set",
		},
	)

	c.restartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_restart_duration_seconds",
			Help:      "Duration of stop-spawn-ready cycles for single workers",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Requests dispatched by the reverse proxy",
		},
		[]string{"outcome"},
	)

	c.registry.MustRegister(
		c.workerRestarts,
		c.workerCrashes,
		c.deploys,
		c.readyWorkers,
		c.upstreams,
		c.restartDuration,
		c.proxyRequests,
		collectors.NewGoCollector(),
	)
	return c
}

// RecordRestart counts one worker restart with its reason ("crash", "deploy",
// "manual").
func (c *Collector) RecordRestart(index int, reason string, took time.Duration) {
	c.workerRestarts.WithLabelValues(strconv.Itoa(index), reason).Inc()
	c.restartDuration.Observe(took.Seconds())
}

// RecordCrash counts one observed crash.
func (c *Collector) RecordCrash(index int) {
	c.workerCrashes.WithLabelValues(strconv.Itoa(index)).Inc()
}

// RecordDeploy counts one deployment run ("completed", "failed", "partial",
// "aborted").
func (c *Collector) RecordDeploy(result string) {
	c.deploys.WithLabelValues(result).Inc()
}

// SetReadyWorkers updates the READY gauge.
func (c *Collector) SetReadyWorkers(n int) {
	c.readyWorkers.Set(float64(n))
}

// SetUpstreams updates the upstream-set size gauge.
func (c *Collector) SetUpstreams(n int) {
	c.upstreams.Set(float64(n))
}

// RecordProxyRequest counts one dispatched request ("ok", "no_upstream",
// "upstream_error").
func (c *Collector) RecordProxyRequest(outcome string) {
	c.proxyRequests.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests.
func (c *Collector) Gather() prometheus.Gatherer {
	return c.registry
}
