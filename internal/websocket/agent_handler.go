package websocket

import (
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// agentUpgrader is the WebSocket upgrader for agent connections
var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Agent consoles connect from the internal network
		return true
	},
}

// AgentHandler handles WebSocket upgrade requests from agents
type AgentHandler struct {
	hub    *AgentHub
	logger zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler
func NewAgentHandler(hub *AgentHub, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		hub:    hub,
		logger: logger.With().Str("component", "agent_handler").Logger(),
	}
}

// ServeHTTP upgrades the request; the agent joins the hub with its first register message
func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade agent connection")
		return
	}
	metrics.Get().RecordWebSocketConnect()

	client := NewAgentClient(h.hub, conn, h.logger)
	client.Start()
}
