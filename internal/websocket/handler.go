package websocket

import (
	"net/http"
	"slices"

	"github.com/dennisdiepolder/monti/presence/internal/config"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler handles dashboard WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Browser origins are checked
// against the configured allow list; requests without an Origin header pass.
func NewHandler(hub *Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		config: cfg,
		logger: logger.With().Str("component", "dashboard_handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(cfg.AllowedOrigins, "*") || slices.Contains(cfg.AllowedOrigins, origin)
		},
	}
	return h
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	metrics.Get().RecordWebSocketConnect()

	client := NewClient(h.hub, conn, h.config, h.logger)
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}
	client.Start()
}
