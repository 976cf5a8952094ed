package api

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Assigner runs the auto-assignment use case
type Assigner interface {
	AutoAssign(ctx context.Context, conversationID string, criteria *types.AssignmentCriteria) (types.AssignmentResult, error)
}

// AssignmentHandler serves POST /api/conversations/{conversationId}/assign
type AssignmentHandler struct {
	assigner Assigner
	logger   zerolog.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler
func NewAssignmentHandler(assigner Assigner, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assigner: assigner,
		logger:   logger.With().Str("component", "assignment_api").Logger(),
	}
}

// Routes mounts the handler on r
func (h *AssignmentHandler) Routes(r chi.Router) {
	r.Post("/conversations/{conversationId}/assign", h.Assign)
}

// Assign handles POST /api/conversations/{conversationId}/assign. The body
// is optional; missing criteria use the defaults.
func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "conversationId is required")
		return
	}

	var criteria types.AssignmentCriteria
	if err := decodeOptional(r, &criteria); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	result, err := h.assigner.AutoAssign(r.Context(), conversationID, &criteria)
	if err != nil {
		writeAssignmentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
