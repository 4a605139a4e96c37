// Package metrics exposes Prometheus metrics for the messaging core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Gateway metrics
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	EventsReceived    prometheus.Counter
	EventsSent        prometheus.Counter
	GatewayErrors     prometheus.Counter

	// Dispatch metrics
	MessagesPersisted    prometheus.Counter
	MessagesDelivered    prometheus.Counter
	MessagesPending      prometheus.Counter
	MessagesRead         prometheus.Counter
	NotificationsEmitted prometheus.Counter
	SendFailures         *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the global metrics instance, registering collectors on first use
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_connections_total",
				Help: "Total number of accepted gateway connections",
			}),
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "gateway_active_connections",
				Help: "Number of currently open gateway connections",
			}),
			EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_events_received_total",
				Help: "Total number of inbound gateway events",
			}),
			EventsSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_events_sent_total",
				Help: "Total number of outbound gateway events",
			}),
			GatewayErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "gateway_errors_total",
				Help: "Total number of gateway read/write/handler errors",
			}),
			MessagesPersisted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dispatch_messages_persisted_total",
				Help: "Messages durably appended to the store",
			}),
			MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dispatch_messages_delivered_total",
				Help: "Messages pushed to an online receiver",
			}),
			MessagesPending: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dispatch_messages_pending_total",
				Help: "Messages left pending for an offline receiver",
			}),
			MessagesRead: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dispatch_messages_read_total",
				Help: "Messages transitioned to read",
			}),
			NotificationsEmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dispatch_notifications_emitted_total",
				Help: "Notification counter updates pushed to receivers",
			}),
			SendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "dispatch_send_failures_total",
				Help: "Failed send attempts by error code",
			}, []string{"code"}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"method", "path", "status"}),
		}
	})
	return instance
}
