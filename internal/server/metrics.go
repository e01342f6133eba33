package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "chanrelay"

// Metrics holds the Prometheus collectors updated by the hub and router.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	channels         prometheus.Gauge
	messages         *prometheus.CounterVec
	commands         *prometheus.CounterVec
	deliveryFailures prometheus.Counter
}

// NewMetrics registers the relay collectors with reg. A nil registerer
// creates collectors that are not exported anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of connected sessions",
		}),
		channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "channels",
			Help:      "Number of channels created since start",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Messages appended to channel history",
		}, []string{"kind"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Inbound lines by command",
		}, []string{"command"}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Deliveries rejected by a full outbound queue",
		}),
	}
}
