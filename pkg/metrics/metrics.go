// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes Prometheus counters for the link and the
// collector queue. All methods are safe on a nil *Metrics so libraries
// can record unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shuck"

// NewRegistry creates a registry with the Go and process collectors registered
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the link and delivery metrics
type Metrics struct {
	PacketsTotal     *prometheus.CounterVec // labels: type
	DiscardedBytes   prometheus.Counter
	MalformedTotal   *prometheus.CounterVec // labels: type
	ChunksWritten    prometheus.Counter
	BytesWritten     prometheus.Counter
	WriteFailures    prometheus.Counter
	DeliveriesTotal  *prometheus.CounterVec // labels: result=ok|error
	DeliveryDuration prometheus.Histogram
	QueueDepth       prometheus.Gauge
	EventsDropped    prometheus.Counter
}

// New registers and returns the metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets decoded from the link by type.",
		}, []string{"type"}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_bytes_total",
			Help:      "Bytes dropped while hunting for frame sync.",
		}),
		MalformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Packets whose payload failed to decode or validate.",
		}, []string{"type"}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_chunks_written_total",
			Help:      "Chunks acknowledged by the link.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_bytes_written_total",
			Help:      "Bytes acknowledged by the link.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_write_failures_total",
			Help:      "Chunk writes reported as failed.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_deliveries_total",
			Help:      "Collector deliveries by result.",
		}, []string{"result"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_delivery_seconds",
			Help:      "Time from submission to completion of a delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collector_queue_depth",
			Help:      "Requests waiting, including the one in flight.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_dropped_total",
			Help:      "Session events dropped because no reader kept up.",
		}),
	}
	reg.MustRegister(
		m.PacketsTotal, m.DiscardedBytes, m.MalformedTotal,
		m.ChunksWritten, m.BytesWritten, m.WriteFailures,
		m.DeliveriesTotal, m.DeliveryDuration, m.QueueDepth, m.EventsDropped,
	)
	return m
}

// ObservePacket counts a decoded packet
func (m *Metrics) ObservePacket(packetType string) {
	if m == nil {
		return
	}
	m.PacketsTotal.WithLabelValues(packetType).Inc()
}

// ObserveMalformed counts a packet that failed to decode
func (m *Metrics) ObserveMalformed(packetType string) {
	if m == nil {
		return
	}
	m.MalformedTotal.WithLabelValues(packetType).Inc()
}

// AddDiscarded counts bytes dropped during resync
func (m *Metrics) AddDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DiscardedBytes.Add(float64(n))
}

// ObserveWrite counts a completed chunk write
func (m *Metrics) ObserveWrite(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.WriteFailures.Inc()
		return
	}
	m.ChunksWritten.Inc()
	m.BytesWritten.Add(float64(n))
}

// ObserveDelivery records a finished collector delivery
func (m *Metrics) ObserveDelivery(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
	m.DeliveryDuration.Observe(seconds)
}

// SetQueueDepth records the collector backlog
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// EventDropped counts a session event nobody received
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
