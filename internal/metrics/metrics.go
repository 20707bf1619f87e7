// Package metrics exposes Prometheus instrumentation for the dispatch path
// and the scheduler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_dispatches_total",
			Help: "Total number of dispatched agent requests",
		},
		[]string{"path", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgrid_dispatch_duration_seconds",
			Help:    "Agent request dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	inboundRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_transport_inbound_total",
			Help: "Total number of inbound transport requests",
		},
		[]string{"protocol", "status"},
	)

	scheduledTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgrid_scheduled_tasks",
			Help: "Number of active scheduled tasks",
		},
	)

	agentCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgrid_agent_cache_size",
			Help: "Number of cached thread-safe agent instances",
		},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			dispatchesTotal,
			dispatchDuration,
			inboundRequestsTotal,
			scheduledTasks,
			agentCacheSize,
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDispatch records one dispatched request.
// path is "local" or "transport"; status is "ok" or "error".
func RecordDispatch(path, status string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(path, status).Inc()
	dispatchDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordInbound records one inbound transport request.
func RecordInbound(protocol, status string) {
	inboundRequestsTotal.WithLabelValues(protocol, status).Inc()
}

// TaskStarted and TaskStopped track the active scheduled task gauge.
func TaskStarted() { scheduledTasks.Inc() }

// TaskStopped decrements the active scheduled task gauge.
func TaskStopped() { scheduledTasks.Dec() }

// SetAgentCacheSize sets the cached agent instance gauge.
func SetAgentCacheSize(n int) { agentCacheSize.Set(float64(n)) }
