package types

// MessageRole identifies who produced a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ConversationMessage is a single immutable entry in a session's history.
// Messages are appended, never edited or removed; insertion order is the
// only authoritative order (timestamps are informational).
type ConversationMessage struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionID"`
	Role      MessageRole      `json:"role"`
	Content   string           `json:"content"`
	Time      MessageTime      `json:"time"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
type MessageTime struct {
	Created int64 `json:"created"`
}

// MessageMetadata carries optional auxiliary information about a message.
type MessageMetadata struct {
	// CommandID links the message to the command that produced it.
	CommandID string `json:"commandID,omitempty"`
	// FilesTouched lists repository files changed while the command ran.
	FilesTouched []string `json:"filesTouched,omitempty"`
}

// ContextOptions selects which workspace context is assembled into the
// prompt for a command. Resolved by the workspace reader.
type ContextOptions struct {
	// IncludeWorkspace includes a bounded listing of the repository tree.
	IncludeWorkspace bool `json:"includeWorkspace,omitempty"`
	// Files names repository-relative files whose contents are included.
	Files []string `json:"files,omitempty"`
}
