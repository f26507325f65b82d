package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "l2book"

// Metrics holds the Prometheus collectors for book processing.
type Metrics struct {
	registry *prometheus.Registry

	updates       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	gaps          *prometheus.CounterVec
	crossed       *prometheus.CounterVec
	wsReconnects  prometheus.Counter
	levels        *prometheus.GaugeVec
	mid           *prometheus.GaugeVec
	imbalance     *prometheus.GaugeVec
	spreadBps     *prometheus.GaugeVec
	applyLatency  *prometheus.HistogramVec
	recorderFlush *prometheus.CounterVec
}

// New creates a registry with the book collectors plus the Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Applied book updates by symbol and kind",
		}, []string{"symbol", "kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Updates refused by symbol and reason",
		}, []string{"symbol", "reason"}),
		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_total",
			Help:      "Out-of-sequence deltas by symbol",
		}, []string{"symbol"}),
		crossed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crossed_updates_total",
			Help:      "Updates that left the book crossed",
		}, []string{"symbol"}),
		wsReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_reconnects_total",
			Help:      "Venue websocket reconnects",
		}),
		levels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "levels",
			Help:      "Price levels held by symbol and side",
		}, []string{"symbol", "side"}),
		mid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mid_price",
			Help:      "Latest mid price",
		}, []string{"symbol"}),
		imbalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "imbalance",
			Help:      "Latest order-flow imbalance",
		}, []string{"symbol"}),
		spreadBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spread_bps",
			Help:      "Latest spread in basis points",
		}, []string{"symbol"}),
		applyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_seconds",
			Help:      "Time to apply an update and derive metrics",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"kind"}),
		recorderFlush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_rows_total",
			Help:      "Rows written by the recorder by sink",
		}, []string{"sink"}),
	}

	registry.MustRegister(
		m.updates,
		m.rejected,
		m.gaps,
		m.crossed,
		m.wsReconnects,
		m.levels,
		m.mid,
		m.imbalance,
		m.spreadBps,
		m.applyLatency,
		m.recorderFlush,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordUpdate counts an applied update and observes its latency.
func (m *Metrics) RecordUpdate(symbol, kind string, took time.Duration) {
	m.updates.WithLabelValues(symbol, kind).Inc()
	m.applyLatency.WithLabelValues(kind).Observe(took.Seconds())
}

// RecordRejected counts a refused update.
func (m *Metrics) RecordRejected(symbol, reason string) {
	m.rejected.WithLabelValues(symbol, reason).Inc()
}

// RecordGap counts a sequence gap.
func (m *Metrics) RecordGap(symbol string) {
	m.gaps.WithLabelValues(symbol).Inc()
}

// RecordCrossed counts an update that left the book crossed.
func (m *Metrics) RecordCrossed(symbol string) {
	m.crossed.WithLabelValues(symbol).Inc()
}

// RecordReconnect counts a venue reconnect.
func (m *Metrics) RecordReconnect() {
	m.wsReconnects.Inc()
}

// RecordRecorderRows counts rows written to a recorder sink.
func (m *Metrics) RecordRecorderRows(sink string, n int) {
	m.recorderFlush.WithLabelValues(sink).Add(float64(n))
}

// SetBook publishes the latest gauges for a symbol. Undefined values leave
// the previous gauge value in place.
func (m *Metrics) SetBook(symbol string, bidLevels, askLevels int, mid, spreadBps *float64, imbalance float64) {
	m.levels.WithLabelValues(symbol, "bid").Set(float64(bidLevels))
	m.levels.WithLabelValues(symbol, "ask").Set(float64(askLevels))
	m.imbalance.WithLabelValues(symbol).Set(imbalance)
	if mid != nil {
		m.mid.WithLabelValues(symbol).Set(*mid)
	}
	if spreadBps != nil {
		m.spreadBps.WithLabelValues(symbol).Set(*spreadBps)
	}
}
