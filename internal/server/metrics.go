package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Connections           prometheus.Gauge
	Players               prometheus.Gauge
	MovementLoops         prometheus.Gauge
	Packets               *prometheus.CounterVec
	RateLimited           prometheus.Counter
	BackpressureQueued    prometheus.Counter
	BackpressureAbandoned prometheus.Counter
	AuthDuration          prometheus.Histogram
	TickDuration          *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realm_connections",
			Help: "Open WebSocket connections.",
		}),
		Players: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realm_players",
			Help: "Authenticated players in the cache.",
		}),
		MovementLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realm_movement_loops",
			Help: "Running movement loops.",
		}),
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realm_packets_total",
			Help: "Inbound packets by type.",
		}, []string{"type"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realm_rate_limited_total",
			Help: "Sessions flagged by the packet rate limiter.",
		}),
		BackpressureQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realm_backpressure_queued_total",
			Help: "Sends queued because a connection's buffer was over the ceiling.",
		}),
		BackpressureAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realm_backpressure_abandoned_total",
			Help: "Queued sends dropped after exhausting retries.",
		}),
		AuthDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realm_auth_duration_seconds",
			Help:    "Time from AUTH packet to worker reply.",
			Buckets: prometheus.DefBuckets,
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realm_tick_duration_seconds",
			Help:    "Scheduler loop body duration.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"loop"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.Players,
		m.MovementLoops,
		m.Packets,
		m.RateLimited,
		m.BackpressureQueued,
		m.BackpressureAbandoned,
		m.AuthDuration,
		m.TickDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
