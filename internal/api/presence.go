package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// PresenceService is the tracker surface the HTTP API drives
type PresenceService interface {
	Connect(ctx context.Context, id types.AgentID) error
	Heartbeat(ctx context.Context, id types.AgentID) (types.PresenceStatus, error)
	SetStatus(ctx context.Context, id types.AgentID, status types.PresenceStatus) error
	Disconnect(ctx context.Context, id types.AgentID) error
	GetStatus(ctx context.Context, id types.AgentID) (types.PresenceStatus, error)
	LastActivity(ctx context.Context, id types.AgentID) (time.Time, bool, error)
	IsActive(ctx context.Context, id types.AgentID, timeout time.Duration) (bool, error)
	ListOnline(ctx context.Context) ([]types.AgentID, error)
	ListAvailable(ctx context.Context) ([]types.AgentID, error)
	ListBusy(ctx context.Context) ([]types.AgentID, error)
}

// StatusRequest is the body of PUT /api/agents/{agentId}/status
type StatusRequest struct {
	Status string `json:"status"`
}

// StatusResponse describes one agent's presence
type StatusResponse struct {
	AgentID        types.AgentID        `json:"agentId"`
	Status         types.PresenceStatus `json:"status"`
	LastActivityAt *time.Time           `json:"lastActivityAt,omitempty"`
}

// ListResponse is the body of the presence list endpoints
type ListResponse struct {
	AgentIDs []types.AgentID `json:"agentIds"`
	Count    int             `json:"count"`
}

// PresenceHandler serves the agent presence endpoints
type PresenceHandler struct {
	presence     PresenceService
	activeWindow time.Duration
	logger       zerolog.Logger
}

// NewPresenceHandler creates a new PresenceHandler. activeWindow is used by
// the active check when the request does not give timeoutMinutes.
func NewPresenceHandler(presence PresenceService, activeWindow time.Duration, logger zerolog.Logger) *PresenceHandler {
	if activeWindow <= 0 {
		activeWindow = 5 * time.Minute
	}
	return &PresenceHandler{
		presence:     presence,
		activeWindow: activeWindow,
		logger:       logger.With().Str("component", "presence_api").Logger(),
	}
}

// Routes mounts the handler on r
func (h *PresenceHandler) Routes(r chi.Router) {
	r.Put("/agents/{agentId}/status", h.SetStatus)
	r.Get("/agents/{agentId}/status", h.GetStatus)
	r.Post("/agents/{agentId}/heartbeat", h.Heartbeat)
	r.Post("/agents/{agentId}/connect", h.Connect)
	r.Post("/agents/{agentId}/disconnect", h.Disconnect)
	r.Get("/agents/{agentId}/active", h.IsActive)
	r.Get("/presence/online", h.list(h.presence.ListOnline))
	r.Get("/presence/available", h.list(h.presence.ListAvailable))
	r.Get("/presence/busy", h.list(h.presence.ListBusy))
}

// SetStatus handles PUT /api/agents/{agentId}/status
func (h *PresenceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}
	status, err := types.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	if err := h.presence.SetStatus(r.Context(), id, status); err != nil {
		h.logger.Warn().Err(err).Str("agent_id", string(id)).Msg("status update failed")
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{AgentID: id, Status: status})
}

// GetStatus handles GET /api/agents/{agentId}/status
func (h *PresenceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.presence.GetStatus(r.Context(), id)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	resp := StatusResponse{AgentID: id, Status: status}

	last, found, err := h.presence.LastActivity(r.Context(), id)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	if found {
		resp.LastActivityAt = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// Heartbeat handles POST /api/agents/{agentId}/heartbeat
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.presence.Heartbeat(r.Context(), id)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{AgentID: id, Status: status})
}

// Connect handles POST /api/agents/{agentId}/connect
func (h *PresenceHandler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	if err := h.presence.Connect(r.Context(), id); err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{AgentID: id, Status: types.StatusOnline})
}

// Disconnect handles POST /api/agents/{agentId}/disconnect
func (h *PresenceHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	if err := h.presence.Disconnect(r.Context(), id); err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{AgentID: id, Status: types.StatusOffline})
}

// IsActive handles GET /api/agents/{agentId}/active?timeoutMinutes=N
func (h *PresenceHandler) IsActive(w http.ResponseWriter, r *http.Request) {
	id, ok := agentIDParam(w, r)
	if !ok {
		return
	}

	window := h.activeWindow
	if raw := r.URL.Query().Get("timeoutMinutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "timeoutMinutes must be a positive integer")
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	active, err := h.presence.IsActive(r.Context(), id, window)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agentId": id, "active": active})
}

func (h *PresenceHandler) list(fn func(context.Context) ([]types.AgentID, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := fn(r.Context())
		if err != nil {
			writePresenceError(w, err)
			return
		}
		if ids == nil {
			ids = []types.AgentID{}
		}
		writeJSON(w, http.StatusOK, ListResponse{AgentIDs: ids, Count: len(ids)})
	}
}
