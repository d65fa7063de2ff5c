package station

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects dispatcher and broadcaster telemetry on a private
// Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	instructions  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	instruments   prometheus.Gauge
	broadcasts    *prometheus.CounterVec
	dropped       prometheus.Counter
	connections   prometheus.Gauge
	protocolError prometheus.Counter
}

// NewMetrics creates a collector. An empty namespace defaults to "station".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "station"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.instructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "instructions_total",
			Help:      "Instructions handled, by operation and result kind",
		},
		[]string{"operation", "result"},
	)

	m.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "instruction_duration_seconds",
			Help:      "Time from receipt to response, including queueing on the instrument worker",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
		},
		[]string{"operation"},
	)

	m.instruments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "instruments",
		Help:      "Number of registered instruments",
	})

	m.broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Change event deliveries, by sink and result",
		},
		[]string{"sink", "result"},
	)

	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Change events dropped because the broadcast queue was full",
	})

	m.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "connections",
		Help:      "Open request channel connections",
	})

	m.protocolError = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "protocol_errors_total",
		Help:      "Messages rejected before dispatch as malformed",
	})

	m.registry.MustRegister(
		m.instructions,
		m.latency,
		m.instruments,
		m.broadcasts,
		m.dropped,
		m.connections,
		m.protocolError,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInstruction counts one handled instruction.
func (m *Metrics) RecordInstruction(operation, result string, duration time.Duration) {
	m.instructions.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordInstruments sets the registered instrument count.
func (m *Metrics) RecordInstruments(count int) {
	m.instruments.Set(float64(count))
}

// RecordBroadcast counts one sink delivery.
func (m *Metrics) RecordBroadcast(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.broadcasts.WithLabelValues(sink, result).Inc()
}

// RecordBroadcastDropped counts one dropped change event.
func (m *Metrics) RecordBroadcastDropped() {
	m.dropped.Inc()
}

// RecordConnection adjusts the open connection gauge by delta.
func (m *Metrics) RecordConnection(delta int) {
	m.connections.Add(float64(delta))
}

// RecordProtocolError counts one message rejected at the transport boundary.
func (m *Metrics) RecordProtocolError() {
	m.protocolError.Inc()
}
