package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConversationStore creates and reads conversations
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv types.Conversation) error
	GetConversation(ctx context.Context, id string) (types.Conversation, error)
}

// CreateConversationRequest is the body of POST /internal/conversations
type CreateConversationRequest struct {
	ID                     string          `json:"id"`
	VisitorID              string          `json:"visitorId"`
	AvailableCommercialIDs []types.AgentID `json:"availableCommercialIds"`
}

// ConversationHandler serves the internal conversation endpoints used by the
// chat service to hand pending conversations to the engine
type ConversationHandler struct {
	store  ConversationStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(store ConversationStore, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "conversation_api").Logger(),
	}
}

// Routes mounts the handler on r
func (h *ConversationHandler) Routes(r chi.Router) {
	r.Post("/conversations", h.Create)
	r.Get("/conversations/{conversationId}", h.Get)
}

// Create handles POST /internal/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON")
		return
	}

	ids := make([]types.AgentID, 0, len(req.AvailableCommercialIDs))
	for _, raw := range req.AvailableCommercialIDs {
		id, err := types.ParseAgentID(string(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		ids = append(ids, id)
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := h.now().UTC()
	conv := types.Conversation{
		ID:                     req.ID,
		VisitorID:              req.VisitorID,
		Status:                 types.ConversationPending,
		AvailableCommercialIDs: ids,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err := h.store.CreateConversation(r.Context(), conv)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, codeAlreadyExists, "conversation "+conv.ID+" already exists")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to create conversation")
		writeError(w, http.StatusServiceUnavailable, string(codeRepositoryUnavailable), "failed to create conversation")
		return
	}

	h.logger.Info().
		Str("conversation_id", conv.ID).
		Int("candidates", len(ids)).
		Msg("conversation created")
	writeJSON(w, http.StatusCreated, conv)
}

// Get handles GET /internal/conversations/{conversationId}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "conversationId"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, string(codeRepositoryUnavailable), "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
