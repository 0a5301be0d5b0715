// Package executor drives commands through the session pipeline: record the
// user message, invoke the model collaborator, record the assistant
// message, run the question detector, and advance the state machine.
//
// Execute and Respond are the only two entry points. Both validate and
// transition synchronously, then dispatch the model call as a detached
// background continuation; the caller gets an acceptance acknowledgment
// before the model is ever contacted. Background failures are never thrown
// back; they surface as an error status transition plus a system message
// in the history.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/coderelay/coderelay/internal/detect"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/internal/provider"
	"github.com/coderelay/coderelay/internal/store"
	"github.com/coderelay/coderelay/internal/workspace"
	"github.com/coderelay/coderelay/pkg/types"
)

const (
	// maxRetries is the maximum number of retries for model call errors.
	maxRetries = 3
	// retryInitialInterval is the initial interval for exponential backoff.
	retryInitialInterval = time.Second
	// retryMaxInterval is the maximum interval for exponential backoff.
	retryMaxInterval = 30 * time.Second
	// summaryMaxLen bounds the task summary carried on completion events.
	summaryMaxLen = 120
)

// ErrEmptyInput indicates a blank command or answer; reported synchronously
// and never retried.
var ErrEmptyInput = errors.New("command text must not be empty")

// Executor validates, serializes, and dispatches commands per session.
type Executor struct {
	store     *store.Store
	providers *provider.Registry
	bus       *event.Bus

	workspaceCfg types.WorkspaceConfig
	maxTokens    int
	// trackChanges enables fsnotify-based change tracking around commands.
	trackChanges bool
	// retryInterval seeds the collaborator retry backoff.
	retryInterval time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxTokens sets the completion token budget per command.
func WithMaxTokens(n int) Option {
	return func(e *Executor) { e.maxTokens = n }
}

// WithWorkspaceConfig bounds context retrieval.
func WithWorkspaceConfig(cfg types.WorkspaceConfig) Option {
	return func(e *Executor) { e.workspaceCfg = cfg }
}

// WithChangeTracking toggles file change tracking during commands.
func WithChangeTracking(enabled bool) Option {
	return func(e *Executor) { e.trackChanges = enabled }
}

// WithRetryInterval overrides the initial collaborator retry interval.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Executor) { e.retryInterval = d }
}

// New creates a command executor.
func New(st *store.Store, providers *provider.Registry, bus *event.Bus, opts ...Option) *Executor {
	e := &Executor{
		store:         st,
		providers:     providers,
		bus:           bus,
		trackChanges:  true,
		retryInterval: retryInitialInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute accepts a new command for a session. On acceptance the user
// message is appended synchronously and the model call continues in the
// background; the returned message is the acknowledgment.
func (e *Executor) Execute(ctx context.Context, sessionID, commandText string, opts types.ContextOptions) (*types.ConversationMessage, error) {
	commandText = strings.TrimSpace(commandText)
	if commandText == "" {
		return nil, ErrEmptyInput
	}

	sess, err := e.store.BeginCommand(sessionID, commandText)
	if err != nil {
		return nil, err
	}

	return e.accept(ctx, sess, commandText, opts)
}

// Respond answers a session's pending question. The answer is normalized
// against the question's choices, the question is atomically cleared, and
// the answer re-enters the command pipeline.
func (e *Executor) Respond(ctx context.Context, sessionID, questionID, answer string) (*types.ConversationMessage, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrEmptyInput
	}

	// Normalization reads the snapshot; the compare-and-clear below still
	// guards against the question changing in between.
	if snap, err := e.store.Get(sessionID); err == nil && snap.Pending != nil && snap.Pending.ID == questionID {
		answer = normalizeAnswer(answer, snap.Pending)
	}

	sess, err := e.store.ResolveQuestion(sessionID, questionID, answer)
	if err != nil {
		return nil, err
	}

	return e.accept(ctx, sess, answer, types.ContextOptions{})
}

// accept records the user message, announces the transition, and spawns the
// background continuation. The session is already in processing state.
func (e *Executor) accept(ctx context.Context, sess *types.Session, text string, opts types.ContextOptions) (*types.ConversationMessage, error) {
	commandID := ulid.Make().String()

	userMsg, err := e.store.AppendMessage(sess.ID, types.RoleUser, text, &types.MessageMetadata{CommandID: commandID})
	if err != nil {
		// The session vanished between transition and append; nothing to run.
		return nil, err
	}

	e.bus.Publish(event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{Info: sess}})
	e.bus.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: userMsg}})

	logging.Info().
		Str("sessionID", sess.ID).
		Str("commandID", commandID).
		Msg("command accepted")

	// The continuation must outlive the request that accepted the command.
	go e.run(context.WithoutCancel(ctx), sess, commandID, opts)

	return userMsg, nil
}

// run is the background continuation for one accepted command.
func (e *Executor) run(ctx context.Context, sess *types.Session, commandID string, opts types.ContextOptions) {
	reader := workspace.NewReader(sess.RepoRef, e.workspaceCfg)

	var tracker *workspace.Tracker
	if e.trackChanges {
		t, err := workspace.NewTracker(sess.RepoRef, reader.Ignored)
		if err != nil {
			logging.Debug().Err(err).Str("sessionID", sess.ID).Msg("change tracking unavailable")
		} else {
			tracker = t
		}
	}
	changed := func() []string {
		if tracker == nil {
			return nil
		}
		return tracker.Stop()
	}

	contextBlock, err := reader.BuildContext(ctx, opts)
	if err != nil {
		changed()
		e.fail(sess.ID, commandID, fmt.Errorf("context retrieval: %w", err))
		return
	}

	history, err := e.store.Messages(sess.ID, 0, 0)
	if err != nil {
		changed()
		return // session deleted mid-flight
	}

	responseText, err := e.complete(ctx, history, contextBlock)
	if err != nil {
		changed()
		e.fail(sess.ID, commandID, err)
		return
	}

	filesChanged := changed()

	assistantMsg, err := e.store.AppendMessage(sess.ID, types.RoleAssistant, responseText, &types.MessageMetadata{
		CommandID:    commandID,
		FilesTouched: filesChanged,
	})
	if err != nil {
		return // session deleted mid-flight
	}

	question := detect.Detect(responseText)
	if question != nil {
		question.ID = ulid.Make().String()
	}

	snap, err := e.store.EndCommand(sess.ID, question, false)
	if err != nil {
		return // session deleted mid-flight
	}

	e.bus.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: assistantMsg}})
	e.bus.Publish(event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{Info: snap}})
	if snap.Pending != nil {
		e.bus.Publish(event.Event{Type: event.QuestionAsked, Data: event.QuestionAskedData{Info: snap.Pending}})
	}
	e.bus.Publish(event.Event{Type: event.TaskCompleted, Data: event.TaskCompletedData{
		SessionID:    sess.ID,
		CommandID:    commandID,
		Summary:      summarize(responseText),
		FilesChanged: filesChanged,
	}})

	logging.Info().
		Str("sessionID", sess.ID).
		Str("commandID", commandID).
		Str("status", string(snap.Status)).
		Int("filesChanged", len(filesChanged)).
		Msg("command completed")
}

// complete invokes the model collaborator with retry. Transient failures
// are retried with jittered exponential backoff before the command is
// declared failed.
func (e *Executor) complete(ctx context.Context, history []*types.ConversationMessage, contextBlock string) (string, error) {
	prov, modelID, err := e.providers.Default()
	if err != nil {
		return "", fmt.Errorf("model collaborator: %w", err)
	}

	messages := provider.ConversationToMessages(history, contextBlock)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	b.MaxInterval = retryMaxInterval
	b.RandomizationFactor = 0.5

	var responseText string
	operation := func() error {
		stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
			Model:     modelID,
			Messages:  messages,
			MaxTokens: e.maxTokens,
		})
		if err != nil {
			return err
		}
		text, err := provider.Collect(ctx, stream)
		if err != nil {
			return err
		}
		responseText = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)); err != nil {
		return "", fmt.Errorf("model collaborator: %w", err)
	}
	return responseText, nil
}

// fail records a collaborator failure: the session enters the error state
// and a system message preserves what went wrong. Nothing propagates to the
// caller that accepted the command.
func (e *Executor) fail(sessionID, commandID string, cause error) {
	logging.Error().
		Err(cause).
		Str("sessionID", sessionID).
		Str("commandID", commandID).
		Msg("command failed")

	sysMsg, err := e.store.AppendMessage(sessionID, types.RoleSystem,
		fmt.Sprintf("Command failed: %v", cause),
		&types.MessageMetadata{CommandID: commandID})
	if err != nil {
		return // session deleted mid-flight
	}

	snap, err := e.store.EndCommand(sessionID, nil, true)
	if err != nil {
		return
	}

	e.bus.Publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{Info: sysMsg}})
	e.bus.Publish(event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{Info: snap}})
}

// normalizeAnswer maps a free-form answer onto a multiple-choice option:
// by 1-based index, case-insensitive exact match, unique prefix, or nearest
// small edit distance. Unmatched answers pass through untouched.
func normalizeAnswer(answer string, q *types.PendingQuestion) string {
	if q.Type != types.QuestionMultipleChoice || len(q.Choices) == 0 {
		return answer
	}

	if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(q.Choices) {
		return q.Choices[idx-1]
	}

	lower := strings.ToLower(answer)
	var prefixMatch string
	prefixCount := 0
	for _, choice := range q.Choices {
		cl := strings.ToLower(choice)
		if cl == lower {
			return choice
		}
		if strings.HasPrefix(cl, lower) {
			prefixMatch = choice
			prefixCount++
		}
	}
	if prefixCount == 1 {
		return prefixMatch
	}

	best, bestDist := "", -1
	for _, choice := range q.Choices {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(choice))
		if bestDist < 0 || d < bestDist {
			best, bestDist = choice, d
		}
	}
	// Accept only near misses; a distance above a third of the choice
	// length means the user typed something else.
	if bestDist >= 0 && bestDist <= len(best)/3 {
		return best
	}
	return answer
}

// summarize derives the completion summary from the response text.
func summarize(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > summaryMaxLen {
		cut := summaryMaxLen - 3
		// Back up to a rune boundary so truncation never splits a character.
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + "..."
	}
	return line
}
