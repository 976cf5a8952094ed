package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ProfileStore persists agent routing profiles
type ProfileStore interface {
	SaveAgentProfile(ctx context.Context, profile types.AgentProfile) error
	ListAgentProfiles(ctx context.Context) ([]types.AgentProfile, error)
}

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID  string        `json:"agentId"`
	MaxChats int           `json:"maxChats"`
	Skills   []types.Skill `json:"skills"`
	Priority int           `json:"priority"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	profiles        ProfileStore
	defaultMaxChats int
	logger          zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(profiles ProfileStore, defaultMaxChats int, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		profiles:        profiles,
		defaultMaxChats: defaultMaxChats,
		logger:          logger.With().Str("component", "roster").Logger(),
	}
}

// Routes mounts the handler on r
func (h *RosterHandler) Routes(r chi.Router) {
	r.Post("/agents/roster", h.HandleRoster)
	r.Get("/agents/roster", h.ListRoster)
}

// HandleRoster handles POST /internal/agents/roster. The whole payload is
// validated before any profile is written.
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster []RosterEntry
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	profiles := make([]types.AgentProfile, 0, len(roster))
	for i, entry := range roster {
		id, err := types.ParseAgentID(entry.AgentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		if entry.MaxChats < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("entry %d: maxChats must not be negative", i))
			return
		}
		if entry.MaxChats == 0 {
			entry.MaxChats = h.defaultMaxChats
		}
		profiles = append(profiles, types.AgentProfile{
			AgentID:  id,
			MaxChats: entry.MaxChats,
			Skills:   entry.Skills,
			Priority: entry.Priority,
		})
	}

	registered := 0
	for _, profile := range profiles {
		if err := h.profiles.SaveAgentProfile(r.Context(), profile); err != nil {
			h.logger.Error().Err(err).Str("agent_id", string(profile.AgentID)).Msg("failed to save profile")
			writeError(w, http.StatusServiceUnavailable, string(codeRepositoryUnavailable), "failed to save profiles")
			return
		}
		registered++
	}

	h.logger.Info().Int("registered", registered).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"registered": registered})
}

// ListRoster handles GET /internal/agents/roster
func (h *RosterHandler) ListRoster(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.ListAgentProfiles(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, string(codeRepositoryUnavailable), "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []types.AgentProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}
