package types

// QuestionType classifies a clarifying question posed by the assistant.
type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionFreeText       QuestionType = "free_text"
	QuestionConfirmation   QuestionType = "confirmation"
)

// PendingQuestion is an assistant-originated request for clarification that
// blocks further command execution until answered. A session holds at most
// one outstanding pending question at a time.
type PendingQuestion struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionID"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	// Choices is the ordered option list for multiple-choice questions.
	Choices []string     `json:"choices,omitempty"`
	Time    QuestionTime `json:"time"`
}

// QuestionTime contains timestamps for a question, in Unix milliseconds.
type QuestionTime struct {
	Created int64 `json:"created"`
}
