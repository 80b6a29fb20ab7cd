package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode/pkg/types"
)

// memSession is the internal record kept by MemStore; it carries the
// sequence counter and per-session mutex alongside the Session value itself.
type memSession struct {
	mu      sync.Mutex
	session types.Session
	seq     uint64
	events  []types.StreamEvent
}

// MemStore is a pure in-memory Store implementation: the default backend
// for unit tests and for `opencode-server -store=memory`. An outer RWMutex
// guards the session index; each session additionally carries its own
// mutex so sequence allocation is serialised per session without blocking
// unrelated sessions.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	toolCalls map[string]*types.ToolCall // toolCallID -> call (+ result via Parameters side channel)
	toolCallResults map[string]ToolCallUpdate
	toolCallSession map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:        make(map[string]*memSession),
		toolCalls:       make(map[string]*types.ToolCall),
		toolCallResults: make(map[string]ToolCallUpdate),
		toolCallSession: make(map[string]string),
	}
}

func (s *MemStore) CreateSession(ctx context.Context, cfg types.SessionConfig) (types.Session, error) {
	now := time.Now().UTC().UnixMilli()
	id := ulid.Make().String()
	sess := types.Session{
		ID:     id,
		Config: cfg,
		State: types.SessionState{
			ApprovedTools: make(map[string]bool),
		},
		Time: types.SessionTime{Created: now, Updated: now},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return types.Session{}, newStorageError("CreateSession", ErrConflict, fmt.Errorf("id %q already exists", id))
	}
	s.sessions[id] = &memSession{session: sess}
	return sess, nil
}

func (s *MemStore) GetSession(ctx context.Context, id string) (types.Session, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return types.Session{}, newStorageError("GetSession", ErrNotFound, fmt.Errorf("session %q", id))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session, nil
}

func (s *MemStore) UpdateSession(ctx context.Context, session types.Session) error {
	s.mu.RLock()
	rec, ok := s.sessions[session.ID]
	s.mu.RUnlock()
	if !ok {
		return newStorageError("UpdateSession", ErrNotFound, fmt.Errorf("session %q", session.ID))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	session.Time.Updated = time.Now().UTC().UnixMilli()
	rec.session = session
	return nil
}

func (s *MemStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return newStorageError("DeleteSession", ErrNotFound, fmt.Errorf("session %q", id))
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemStore) ListSessions(ctx context.Context, filter ListFilter) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, rec := range s.sessions {
		rec.mu.Lock()
		infos = append(infos, SessionInfo{
			ID:        rec.session.ID,
			Title:     rec.session.Title,
			CreatedAt: rec.session.Time.Created,
			UpdatedAt: rec.session.Time.Updated,
		})
		rec.mu.Unlock()
	}

	less := func(i, j int) bool {
		var a, b int64
		if filter.OrderBy == OrderByUpdatedAt {
			a, b = infos[i].UpdatedAt, infos[j].UpdatedAt
		} else {
			a, b = infos[i].CreatedAt, infos[j].CreatedAt
		}
		if filter.Direction == Descending {
			return a > b
		}
		return a < b
	}
	sort.Slice(infos, less)

	if filter.Offset > 0 && filter.Offset < len(infos) {
		infos = infos[filter.Offset:]
	} else if filter.Offset >= len(infos) {
		infos = nil
	}
	if filter.Limit > 0 && filter.Limit < len(infos) {
		infos = infos[:filter.Limit]
	}
	return infos, nil
}

func (s *MemStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return newStorageError("AppendMessage", ErrNotFound, fmt.Errorf("session %q", sessionID))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, existing := range rec.session.State.Messages {
		if existing.ID == msg.ID {
			return nil // idempotent on message.id
		}
	}
	rec.session.State.Messages = append(rec.session.State.Messages, msg)
	return nil
}

func (s *MemStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, newStorageError("GetMessages", ErrNotFound, fmt.Errorf("session %q", sessionID))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	msgs := rec.session.State.Messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemStore) AppendEvent(ctx context.Context, sessionID string, event types.StreamEvent) (uint64, error) {
	s.mu.RLock()
	rec, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0, newStorageError("AppendEvent", ErrNotFound, fmt.Errorf("session %q", sessionID))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.seq++
	rec.events = append(rec.events, event)
	rec.session.State.LastEventSequence = rec.seq
	return rec.seq, nil
}

func (s *MemStore) CreateToolCall(ctx context.Context, sessionID string, call types.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return newStorageError("CreateToolCall", ErrNotFound, fmt.Errorf("session %q", sessionID))
	}
	c := call
	s.toolCalls[call.ID] = &c
	s.toolCallSession[call.ID] = sessionID
	return nil
}

func (s *MemStore) UpdateToolCall(ctx context.Context, toolCallID string, update ToolCallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toolCalls[toolCallID]; !ok {
		return newStorageError("UpdateToolCall", ErrNotFound, fmt.Errorf("tool call %q", toolCallID))
	}
	s.toolCallResults[toolCallID] = update
	return nil
}
