// Package store owns the authoritative in-memory record of every session,
// its message history, and its at-most-one pending question.
//
// The store is a concurrent map keyed by session id. Each record is
// serialized by its own mutex: every mutation to one session happens through
// that lock, so message appends and status transitions form a strict total
// order per session. Values handed out are detached copies; callers never
// see live records. Nothing is persisted; process restart discards all
// sessions.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/pkg/types"
)

// Sentinel errors returned by store operations. The server maps these to
// wire error codes.
var (
	// ErrNotFound indicates an unknown session or question id.
	ErrNotFound = errors.New("not found")
	// ErrBusy indicates the session already has an in-flight command.
	ErrBusy = errors.New("session is processing")
	// ErrCompleted indicates the session is terminally completed.
	ErrCompleted = errors.New("session is completed")
	// ErrQuestionPending indicates a command was issued while a question
	// awaits its answer.
	ErrQuestionPending = errors.New("session has a pending question")
	// ErrQuestionMismatch indicates the question id does not match the
	// session's current pending question.
	ErrQuestionMismatch = errors.New("question does not match pending question")
)

// record is the live state of one session. All fields are guarded by mu.
type record struct {
	mu       sync.Mutex
	session  types.Session
	messages []*types.ConversationMessage
}

// Store is the session store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// New creates an empty session store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Create registers a new idle session for the given repository reference
// and returns its snapshot.
func (s *Store) Create(repoRef, task string) *types.Session {
	now := time.Now().UnixMilli()
	rec := &record{
		session: types.Session{
			ID:      ulid.Make().String(),
			RepoRef: repoRef,
			Task:    task,
			Status:  types.StatusIdle,
			Time: types.SessionTime{
				Created:    now,
				LastActive: now,
			},
		},
	}

	s.mu.Lock()
	s.records[rec.session.ID] = rec
	s.mu.Unlock()

	logging.Info().
		Str("sessionID", rec.session.ID).
		Str("repoRef", repoRef).
		Msg("session created")

	snap := snapshot(&rec.session)
	return &snap
}

// Get returns a snapshot of a session.
func (s *Store) Get(sessionID string) (*types.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	snap := snapshot(&rec.session)
	return &snap, nil
}

// List returns snapshots of all sessions, in unspecified order.
func (s *Store) List() []*types.Session {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		snap := snapshot(&rec.session)
		rec.mu.Unlock()
		sessions = append(sessions, &snap)
	}
	return sessions
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Delete evicts a session and returns its final snapshot. Subsequent
// operations on the id return ErrNotFound; an in-flight background
// continuation for the session becomes a no-op.
func (s *Store) Delete(sessionID string) (*types.Session, error) {
	s.mu.Lock()
	rec, ok := s.records[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(s.records, sessionID)
	s.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	logging.Info().Str("sessionID", sessionID).Msg("session deleted")
	snap := snapshot(&rec.session)
	return &snap, nil
}

// BeginCommand transitions a session into processing for a new command.
// Allowed from idle and error; processing yields ErrBusy, a pending
// question yields ErrQuestionPending, and completed yields ErrCompleted.
func (s *Store) BeginCommand(sessionID, commandText string) (*types.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.session.Status {
	case types.StatusProcessing:
		return nil, ErrBusy
	case types.StatusWaitingForInput:
		return nil, ErrQuestionPending
	case types.StatusCompleted:
		return nil, ErrCompleted
	}

	rec.setStatus(types.StatusProcessing)
	rec.session.CurrentCommand = &commandText

	snap := snapshot(&rec.session)
	return &snap, nil
}

// ResolveQuestion atomically verifies that questionID matches the session's
// current pending question, clears it, and transitions the session into
// processing with the answer as the in-flight command. The compare step
// guards against a stale response resolving a newer question.
func (s *Store) ResolveQuestion(sessionID, questionID, answerText string) (*types.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Status != types.StatusWaitingForInput ||
		rec.session.Pending == nil ||
		rec.session.Pending.ID != questionID {
		return nil, ErrQuestionMismatch
	}

	rec.session.Pending = nil
	rec.setStatus(types.StatusProcessing)
	rec.session.CurrentCommand = &answerText

	snap := snapshot(&rec.session)
	return &snap, nil
}

// EndCommand records the outcome of the in-flight command. With a detected
// question the session waits for input; with failed set it enters the error
// state; otherwise it returns to idle. The pending question, if any, gets
// its session id and timestamp stamped here.
func (s *Store) EndCommand(sessionID string, question *types.PendingQuestion, failed bool) (*types.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.session.CurrentCommand = nil
	switch {
	case failed:
		rec.session.Pending = nil
		rec.setStatus(types.StatusError)
	case question != nil:
		q := *question
		q.SessionID = sessionID
		if q.Time.Created == 0 {
			q.Time.Created = time.Now().UnixMilli()
		}
		rec.session.Pending = &q
		rec.setStatus(types.StatusWaitingForInput)
	default:
		rec.session.Pending = nil
		rec.setStatus(types.StatusIdle)
	}

	snap := snapshot(&rec.session)
	return &snap, nil
}

// Complete marks a session terminally completed. Only deletion and
// recreation can follow.
func (s *Store) Complete(sessionID string) (*types.Session, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.session.CurrentCommand = nil
	rec.session.Pending = nil
	rec.setStatus(types.StatusCompleted)

	snap := snapshot(&rec.session)
	return &snap, nil
}

// AppendMessage appends an immutable message to the session history and
// returns a copy of the stored message.
func (s *Store) AppendMessage(sessionID string, role types.MessageRole, content string, meta *types.MessageMetadata) (*types.ConversationMessage, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	msg := &types.ConversationMessage{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
		Metadata:  copyMetadata(meta),
	}
	rec.messages = append(rec.messages, msg)
	rec.session.Time.LastActive = msg.Time.Created

	out := copyMessage(msg)
	return out, nil
}

// Messages returns a page of the session history in insertion order.
// skip and take bound the page; take <= 0 means the rest of the history.
func (s *Store) Messages(sessionID string, skip, take int) ([]*types.ConversationMessage, error) {
	rec, err := s.record(sessionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if skip < 0 {
		skip = 0
	}
	if skip >= len(rec.messages) {
		return []*types.ConversationMessage{}, nil
	}

	rest := rec.messages[skip:]
	if take > 0 && take < len(rest) {
		rest = rest[:take]
	}

	out := make([]*types.ConversationMessage, len(rest))
	for i, msg := range rest {
		out[i] = copyMessage(msg)
	}
	return out, nil
}

// record looks up the live record for a session id.
func (s *Store) record(sessionID string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// setStatus updates the status and touches the activity timestamp.
// Caller holds the record lock.
func (r *record) setStatus(status types.SessionStatus) {
	r.session.Status = status
	r.session.Time.LastActive = time.Now().UnixMilli()
}

// snapshot copies a session, including its pending question, so callers
// cannot mutate the live record.
func snapshot(sess *types.Session) types.Session {
	snap := *sess
	if sess.CurrentCommand != nil {
		cmd := *sess.CurrentCommand
		snap.CurrentCommand = &cmd
	}
	if sess.Pending != nil {
		q := *sess.Pending
		q.Choices = append([]string(nil), sess.Pending.Choices...)
		snap.Pending = &q
	}
	return snap
}

func copyMessage(msg *types.ConversationMessage) *types.ConversationMessage {
	out := *msg
	out.Metadata = copyMetadata(msg.Metadata)
	return &out
}

func copyMetadata(meta *types.MessageMetadata) *types.MessageMetadata {
	if meta == nil {
		return nil
	}
	out := *meta
	out.FilesTouched = append([]string(nil), meta.FilesTouched...)
	return &out
}
