package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	RepoRef string `json:"repoRef"`
	Task    string `json:"task,omitempty"`
}

// SendCommandRequest represents the request body for sending a command.
type SendCommandRequest struct {
	Command string                `json:"command"`
	Context *types.ContextOptions `json:"context,omitempty"`
}

// RespondQuestionRequest represents the request body for answering a
// pending question.
type RespondQuestionRequest struct {
	Answer string `json:"answer"`
}

// HealthResponse represents the health check body.
type HealthResponse struct {
	Status             string `json:"status"`
	ActiveSessionCount int    `json:"activeSessionCount"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.List()

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []*types.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if req.RepoRef == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "repoRef is required")
		return
	}

	session := s.store.Create(req.RepoRef, req.Task)

	s.bus.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: session},
	})

	writeJSON(w, http.StatusOK, session)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.store.Get(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// deleteSession handles DELETE /session/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := s.store.Delete(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.bus.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{Info: session},
	})

	writeSuccess(w)
}

// sendCommand handles POST /session/{sessionID}/command
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	var opts types.ContextOptions
	if req.Context != nil {
		opts = *req.Context
	}

	msg, err := s.executor.Execute(r.Context(), sessionID, req.Command, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Acceptance acknowledgment; the command continues in the background.
	writeJSON(w, http.StatusAccepted, msg)
}

// respondQuestion handles POST /session/{sessionID}/question/{questionID}
func (s *Server) respondQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	questionID := chi.URLParam(r, "questionID")

	var req RespondQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	msg, err := s.executor.Respond(r.Context(), sessionID, questionID, req.Answer)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, msg)
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	skip := queryInt(r, "skip", 0)
	take := queryInt(r, "take", 0)

	messages, err := s.store.Messages(sessionID, skip, take)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if messages == nil {
		messages = []*types.ConversationMessage{}
	}

	writeJSON(w, http.StatusOK, messages)
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		ActiveSessionCount: s.store.Count(),
	})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
