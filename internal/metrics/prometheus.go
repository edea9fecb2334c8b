package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the signaling engine.
type Metrics struct {
	// Socket metrics
	ConnectedClients prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	ProtocolErrors   prometheus.Counter

	// Room metrics
	ActiveRooms prometheus.Gauge
	Viewers     prometheus.Gauge

	// Fan-out metrics
	BroadcastsTotal *prometheus.CounterVec

	// Grace-period metrics
	GraceTimersScheduled prometheus.Counter
	GraceTimersCancelled prometheus.Counter
	GraceTimersFired     prometheus.Counter

	// Media provider metrics
	ProviderCallDuration *prometheus.HistogramVec
	ProviderErrors       prometheus.Counter
}

// NewMetrics creates and registers all metrics on the given registerer.
// Production wiring passes prometheus.DefaultRegisterer; tests pass a fresh
// registry so parallel test packages do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beamcast_connected_clients",
			Help: "Current number of open websocket connections",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beamcast_messages_total",
			Help: "Total number of inbound signaling messages by action",
		}, []string{"action"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_protocol_errors_total",
			Help: "Total number of malformed messages dropped",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beamcast_active_rooms",
			Help: "Current number of rooms with at least one producer",
		}),
		Viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beamcast_viewers",
			Help: "Current number of viewers across all rooms",
		}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beamcast_broadcasts_total",
			Help: "Total number of fan-out pushes by kind",
		}, []string{"kind"}),
		GraceTimersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_grace_timers_scheduled_total",
			Help: "Total number of disconnect grace timers scheduled",
		}),
		GraceTimersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_grace_timers_cancelled_total",
			Help: "Total number of grace timers cancelled by a reconnect",
		}),
		GraceTimersFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_grace_timers_fired_total",
			Help: "Total number of grace timers that expired and ran cleanup",
		}),
		ProviderCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beamcast_provider_call_duration_seconds",
			Help:    "Duration of media provider calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method"}),
		ProviderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "beamcast_provider_errors_total",
			Help: "Total number of failed media provider calls",
		}),
	}
}

// Handler returns the scrape endpoint for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
