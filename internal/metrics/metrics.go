package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Room metrics
	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveclass_rooms_active",
			Help: "Number of rooms with at least one participant",
		},
	)

	ParticipantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveclass_participants_active",
			Help: "Number of participants currently joined across all rooms",
		},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveclass_connections_active",
			Help: "Number of open websocket connections",
		},
	)

	// Relay metrics
	SignalsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveclass_signals_relayed_total",
			Help: "WebRTC signals forwarded to a target participant, by kind",
		},
		[]string{"kind"},
	)

	SignalsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveclass_signals_dropped_total",
			Help: "WebRTC signals dropped because the room or target was absent",
		},
		[]string{"reason"},
	)

	ChatMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liveclass_chat_messages_total",
			Help: "Chat messages accepted into room history",
		},
	)
)

// Register registers all collectors with the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(
		RoomsActive,
		ParticipantsActive,
		ConnectionsActive,
		SignalsRelayed,
		SignalsDropped,
		ChatMessages,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
