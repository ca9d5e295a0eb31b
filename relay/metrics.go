package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are registered on their own registry so that several relays can
// live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	CommandsSent    *prometheus.CounterVec   // command, delivery
	CommandOutcomes *prometheus.CounterVec   // command, outcome
	CommandLatency  *prometheus.HistogramVec // command
	Pending         prometheus.Gauge
	Observers       prometheus.Gauge
	DeviceConnected prometheus.Gauge
	DeviceEvents    *prometheus.CounterVec // event
	DroppedFrames   *prometheus.CounterVec // reason
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorover_commands_sent_total",
			Help: "Commands forwarded to the device.",
		}, []string{"command", "delivery"}),
		CommandOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorover_command_outcomes_total",
			Help: "Correlated command results by outcome.",
		}, []string{"command", "outcome"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gorover_command_latency_seconds",
			Help:    "Time from send to matching response.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorover_pending_requests",
			Help: "Correlated commands waiting for a response.",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorover_observers",
			Help: "Connected observer sockets.",
		}),
		DeviceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gorover_device_connected",
			Help: "1 while a device holds the device slot.",
		}),
		DeviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorover_device_events_total",
			Help: "Events received from the device.",
		}, []string{"event"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gorover_dropped_frames_total",
			Help: "Frames discarded by the relay.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.CommandsSent,
		m.CommandOutcomes,
		m.CommandLatency,
		m.Pending,
		m.Observers,
		m.DeviceConnected,
		m.DeviceEvents,
		m.DroppedFrames,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
