/*
Package metrics defines the Prometheus collectors exported by the relay server.

Collectors are registered on the default registry at init time and served by
Handler on /metrics.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay kinds used as the "kind" label.
const (
	KindChat   = "chat"
	KindSignal = "signal"
)

var (
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nook_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nook_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	signalsRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nook_signals_relayed_total",
			Help: "Signals published into a conversation, by type.",
		},
		[]string{"type"},
	)
	deliveriesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nook_deliveries_dropped_total",
			Help: "Messages dropped because a recipient queue was full.",
		},
		[]string{"kind"},
	)
	framesDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nook_frames_discarded_total",
			Help: "Inbound frames discarded as malformed or unsupported.",
		},
		[]string{"kind"},
	)
	sessionValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nook_session_validations_total",
			Help: "Session validations by outcome.",
		},
		[]string{"outcome"},
	)
	sessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nook_sessions_reaped_total",
			Help: "Expired sessions deleted from the store.",
		},
	)
	eventPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nook_event_publish_errors_total",
			Help: "Lifecycle events that could not be published.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		wsActiveConnections,
		wsEventsTotal,
		signalsRelayedTotal,
		deliveriesDroppedTotal,
		framesDiscardedTotal,
		sessionValidationsTotal,
		sessionsReapedTotal,
		eventPublishErrorsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncSignalRelayed(signalType string) {
	signalsRelayedTotal.WithLabelValues(signalType).Inc()
}

func IncDeliveryDropped(kind string) {
	deliveriesDroppedTotal.WithLabelValues(kind).Inc()
}

func IncFrameDiscarded(kind string) {
	framesDiscardedTotal.WithLabelValues(kind).Inc()
}

func IncSessionValidation(outcome string) {
	sessionValidationsTotal.WithLabelValues(outcome).Inc()
}

func AddSessionsReaped(n int64) {
	if n > 0 {
		sessionsReapedTotal.Add(float64(n))
	}
}

func IncEventPublishError() {
	eventPublishErrorsTotal.Inc()
}
