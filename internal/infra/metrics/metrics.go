// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "radio"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	listeners      prometheus.Gauge
	bytes          prometheus.Counter
	sinkDrops      prometheus.Counter
	queueDepth     prometheus.Gauge
	fetches        *prometheus.CounterVec
	playbackEvents *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners",
			Help:      "Number of attached listener sinks.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_bytes_total",
			Help:      "Audio bytes broadcast to listeners (counted once per chunk).",
		}),
		sinkDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_drops_total",
			Help:      "Listener sinks removed because their buffer was full.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tracks pending in the queue.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Track acquisitions by result.",
		}, []string{"result"}),
		playbackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Playback events by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.listeners,
		m.bytes,
		m.sinkDrops,
		m.queueDepth,
		m.fetches,
		m.playbackEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SinkAttached implements broadcast.Observer.
func (m *Metrics) SinkAttached(total int) {
	m.listeners.Set(float64(total))
}

// SinkDetached implements broadcast.Observer.
func (m *Metrics) SinkDetached(total int) {
	m.listeners.Set(float64(total))
}

// SinkDropped implements broadcast.Observer.
func (m *Metrics) SinkDropped() {
	m.sinkDrops.Inc()
}

// ChunkBroadcast implements broadcast.Observer.
func (m *Metrics) ChunkBroadcast(bytes, _ int) {
	m.bytes.Add(float64(bytes))
}

// FetchSucceeded implements prefetch.Observer.
func (m *Metrics) FetchSucceeded() {
	m.fetches.WithLabelValues("success").Inc()
}

// FetchFailed implements prefetch.Observer.
func (m *Metrics) FetchFailed() {
	m.fetches.WithLabelValues("failure").Inc()
}

// PlaybackEvent counts a playback event by its type name.
func (m *Metrics) PlaybackEvent(eventType string) {
	m.playbackEvents.WithLabelValues(eventType).Inc()
}

// SetQueueDepth records the pending queue length.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
