// Package api exposes the presence and assignment operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/assignment"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
)

// Error codes for failures that are not assignment kinds
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeAlreadyExists  = "ALREADY_EXISTS"
	codeInternal       = "INTERNAL_ERROR"

	codeStoreUnavailable      = assignment.KindPresenceStoreUnavailable
	codeRepositoryUnavailable = assignment.KindRepositoryUnavailable
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writePresenceError maps a tracker failure to a response
func writePresenceError(w http.ResponseWriter, err error) {
	if errors.Is(err, presence.ErrStoreUnavailable) {
		writeError(w, http.StatusServiceUnavailable, string(codeStoreUnavailable), "presence store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
}

// assignmentStatus maps an assignment failure kind to its HTTP status
func assignmentStatus(kind assignment.Kind) int {
	switch kind {
	case assignment.KindConversationNotFound:
		return http.StatusNotFound
	case assignment.KindConversationNotAssignable:
		return http.StatusConflict
	case assignment.KindNoCommercialAvailable, assignment.KindNoEligibleCommercial:
		return http.StatusUnprocessableEntity
	case assignment.KindPresenceStoreUnavailable, assignment.KindRepositoryUnavailable:
		return http.StatusServiceUnavailable
	case assignment.KindInvalidCriteria:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeAssignmentError(w http.ResponseWriter, err error) {
	var aerr *assignment.Error
	if !errors.As(err, &aerr) {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeError(w, assignmentStatus(aerr.Kind), string(aerr.Kind), aerr.UserMessage())
}

// agentIDParam reads and validates the {agentId} path parameter
func agentIDParam(w http.ResponseWriter, r *http.Request) (types.AgentID, bool) {
	id, err := types.ParseAgentID(chi.URLParam(r, "agentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return "", false
	}
	return id, true
}

// decodeOptional decodes a JSON body into v; an empty body leaves v unchanged
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
