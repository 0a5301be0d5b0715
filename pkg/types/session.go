// Package types provides the core data types for the coderelay server.
package types

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusIdle            SessionStatus = "idle"
	StatusProcessing      SessionStatus = "processing"
	StatusWaitingForInput SessionStatus = "waiting_for_input"
	StatusCompleted       SessionStatus = "completed"
	StatusError           SessionStatus = "error"
)

// CanAcceptCommand reports whether a new command may be initiated in this
// state. A session that is processing, waiting on a question, or completed
// must not start another command. Error is recoverable: a fresh command
// resets the session into processing.
func (s SessionStatus) CanAcceptCommand() bool {
	return s == StatusIdle || s == StatusError
}

// Session represents one ongoing conversation scoped to a repository.
// The record held by the store is the single source of truth; every
// Session value handed out by the store is a detached snapshot.
type Session struct {
	ID             string           `json:"id"`
	RepoRef        string           `json:"repoRef"`
	Task           string           `json:"task,omitempty"`
	Status         SessionStatus    `json:"status"`
	CurrentCommand *string          `json:"currentCommand,omitempty"`
	Pending        *PendingQuestion `json:"pendingQuestion,omitempty"`
	Time           SessionTime      `json:"time"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created    int64 `json:"created"`
	LastActive int64 `json:"lastActive"`
}
