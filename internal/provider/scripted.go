package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/coderelay/coderelay/pkg/types"
)

// Scripted is a deterministic in-process provider used by tests and by the
// serve command's --offline mode. It replays canned responses in order, or
// fails on demand.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int

	// Err, when set, makes every completion attempt fail with it.
	Err error

	// Requests records every completion request for verification.
	Requests []*CompletionRequest
}

// NewScripted creates a scripted provider that cycles through responses.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// ID returns the provider identifier.
func (s *Scripted) ID() string { return "scripted" }

// Name returns the human-readable provider name.
func (s *Scripted) Name() string { return "Scripted" }

// Models returns the list of available models.
func (s *Scripted) Models() []types.Model {
	return []types.Model{{ID: "scripted-1", Name: "Scripted", ProviderID: s.ID()}}
}

// Enqueue appends further responses to the script.
func (s *Scripted) Enqueue(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// CreateCompletion replays the next scripted response as a stream.
func (s *Scripted) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted provider: no responses queued")
	}

	text := s.responses[s.next%len(s.responses)]
	s.next++

	chunks := []*schema.Message{schema.AssistantMessage(text, nil)}
	return NewCompletionStream(schema.StreamReaderFromArray(chunks)), nil
}
