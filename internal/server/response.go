package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coderelay/coderelay/internal/executor"
	"github.com/coderelay/coderelay/internal/store"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyBusy      = "ALREADY_BUSY"
	ErrCodeSessionCompleted = "SESSION_COMPLETED"
	ErrCodeQuestionPending  = "QUESTION_PENDING"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeDomainError maps store and executor sentinels onto the wire taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
	case errors.Is(err, store.ErrQuestionMismatch):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "No matching pending question")
	case errors.Is(err, store.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeAlreadyBusy, "Session is already processing a command")
	case errors.Is(err, store.ErrQuestionPending):
		writeError(w, http.StatusConflict, ErrCodeQuestionPending, "Session is waiting for an answer to a pending question")
	case errors.Is(err, store.ErrCompleted):
		writeError(w, http.StatusConflict, ErrCodeSessionCompleted, "Session is completed")
	case errors.Is(err, executor.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
