package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Disconnector closes an agent's live connection
type Disconnector interface {
	ForceDisconnect(agentID types.AgentID) bool
}

// AgentActionsHandler provides REST endpoints for agent control actions
type AgentActionsHandler struct {
	agents Disconnector
	logger zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(agents Disconnector, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		agents: agents,
		logger: logger.With().Str("component", "agent_actions").Logger(),
	}
}

// Routes mounts the handler on r
func (h *AgentActionsHandler) Routes(r chi.Router) {
	r.Post("/agents/{agentId}/logout", h.Logout)
}

// Logout handles POST /api/agents/{agentId}/logout
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	// The hub marks the agent OFFLINE as part of the disconnect
	if !h.agents.ForceDisconnect(agentID) {
		writeError(w, http.StatusNotFound, codeNotFound, "agent not connected")
		return
	}

	h.logger.Info().
		Str("agent_id", string(agentID)).
		Msg("force-disconnected agent via API")

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "agent logged out",
		"agentId": string(agentID),
	})
}
