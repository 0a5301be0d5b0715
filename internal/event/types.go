package event

import "github.com/coderelay/coderelay/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionStatusData is the data for session.status events, emitted on every
// state machine transition.
type SessionStatusData struct {
	Info *types.Session `json:"info"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Info *types.ConversationMessage `json:"info"`
}

// QuestionAskedData is the data for question.pending events.
type QuestionAskedData struct {
	Info *types.PendingQuestion `json:"info"`
}

// TaskCompletedData is the data for task.completed events, emitted after a
// command's background continuation finishes successfully.
type TaskCompletedData struct {
	SessionID    string   `json:"sessionID"`
	CommandID    string   `json:"commandID"`
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"filesChanged"`
}

// SessionID extracts the session an event pertains to. Used for
// session-scoped observer routing; returns "" for events with no session.
func SessionID(e Event) string {
	switch data := e.Data.(type) {
	case SessionCreatedData:
		if data.Info != nil {
			return data.Info.ID
		}
	case SessionDeletedData:
		if data.Info != nil {
			return data.Info.ID
		}
	case SessionStatusData:
		if data.Info != nil {
			return data.Info.ID
		}
	case MessageCreatedData:
		if data.Info != nil {
			return data.Info.SessionID
		}
	case QuestionAskedData:
		if data.Info != nil {
			return data.Info.SessionID
		}
	case TaskCompletedData:
		return data.SessionID
	}
	return ""
}
