// Package provider abstracts the generative-model collaborator behind a
// streaming completion interface, built on the Eino framework.
//
// The rest of the system treats a provider as opaque: it receives the
// conversation so far and yields a text stream. Failures here surface as
// collaborator failures on the session, never as synchronous errors to the
// client that submitted the command.
package provider

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/coderelay/coderelay/pkg/types"
)

// Provider is a generative-model backend capable of streaming completions.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// CreateCompletion creates a streaming completion.
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
}

// CompletionStream wraps an Eino stream reader.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream creates a new completion stream.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next message chunk from the stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// Collect drains a stream and returns the concatenated response text.
// The stream is closed before returning.
func Collect(ctx context.Context, stream *CompletionStream) (string, error) {
	defer stream.Close()

	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg, err := stream.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(msg.Content)
	}
}

// ConversationToMessages converts session history into Eino schema messages.
// An optional context block is prepended as a system message.
func ConversationToMessages(history []*types.ConversationMessage, contextBlock string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	if contextBlock != "" {
		messages = append(messages, schema.SystemMessage(contextBlock))
	}
	for _, msg := range history {
		switch msg.Role {
		case types.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		case types.RoleSystem:
			messages = append(messages, schema.SystemMessage(msg.Content))
		default:
			messages = append(messages, schema.UserMessage(msg.Content))
		}
	}
	return messages
}

// ParseModelString splits a "provider/model" reference. A missing slash
// yields the whole string as provider id with an empty model id.
func ParseModelString(ref string) (providerID, modelID string) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return ref, ""
}
