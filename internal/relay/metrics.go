package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	clients  prometheus.Gauge
	rooms    prometheus.Gauge
	received *prometheus.CounterVec
	sent     *prometheus.CounterVec
	signals  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		clients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warpmeet_relay_active_clients",
			Help: "Number of connected websocket clients",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warpmeet_relay_active_rooms",
			Help: "Number of open rooms",
		}),
		received: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warpmeet_relay_messages_received_total",
				Help: "Messages received from clients",
			},
			[]string{"type"},
		),
		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warpmeet_relay_messages_sent_total",
				Help: "Messages queued to clients",
			},
			[]string{"type"},
		),
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warpmeet_relay_signals_total",
				Help: "Signals relayed between peers",
			},
			[]string{"kind", "outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warpmeet_relay_errors_total",
				Help: "Messages rejected by the relay",
			},
			[]string{"op"},
		),
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
