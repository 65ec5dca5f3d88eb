package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coursedeck/liveclass/internal/config"
	"github.com/coursedeck/liveclass/internal/metrics"
	"github.com/coursedeck/liveclass/internal/signaling"
)

// Handler wires the websocket endpoint, the health check, the metrics
// endpoint and the read-only room API onto one mux.
func Handler(hub *signaling.Hub, cfg config.Config, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", serveWs(hub, cfg, log))
	mux.HandleFunc("POST /api/meetings", mintMeetingHandler(hub))
	mux.HandleFunc("GET /api/rooms/{roomID}/participants", participantsHandler(hub))
	mux.HandleFunc("GET /api/rooms/{roomID}/count", roomCountHandler(hub))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// newUpgrader builds the websocket upgrader, checking the Origin header
// against the configured frontend origin unless it is the wildcard.
func newUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}

// serveWs returns the handler that upgrades a request to a websocket and
// hands the connection to the hub.
func serveWs(hub *signaling.Hub, cfg config.Config, log zerolog.Logger) http.HandlerFunc {
	upgrader := newUpgrader(cfg.AllowedOrigin)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		client := signaling.NewClient(uuid.NewString(), hub, conn, log, cfg.SendBufferSize)
		client.Register()

		// The pumps own the connection from here on.
		go client.WritePump()
		go client.ReadPump()
	}
}

func mintMeetingHandler(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"meetingId": hub.MintMeetingID()})
	}
}

func participantsHandler(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("roomID")
		writeJSON(w, http.StatusOK, map[string]any{
			"roomId":       roomID,
			"participants": hub.ListParticipants(roomID),
		})
	}
}

func roomCountHandler(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("roomID")
		writeJSON(w, http.StatusOK, map[string]any{
			"roomId": roomID,
			"count":  hub.RoomSize(roomID),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
