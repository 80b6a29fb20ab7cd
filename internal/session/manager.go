package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// ManagerConfig parameterises a SessionManager.
type ManagerConfig struct {
	MaxConcurrentSessions int
	DefaultModel          types.ModelRef
	AutoPersist           bool
}

// SessionManager owns the registry of active sessions and is the single
// entry point clients use to create, resume, suspend, and delete sessions,
// and to route commands and events to and from the App actor each one
// runs.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]*ManagedSession

	store     sessionstore.Store
	config    ManagerConfig
	providers *provider.Registry
	tools     *tool.Registry
	perm      *permission.Checker
	agent     *Agent

	broadcast chan types.StreamEventWithMetadata

	log zerolog.Logger
}

// NewSessionManager constructs a SessionManager backed by store, with a
// capacity-100 global broadcast channel shared by every session's
// translator.
func NewSessionManager(store sessionstore.Store, config ManagerConfig, providers *provider.Registry, tools *tool.Registry, perm *permission.Checker, agent *Agent) *SessionManager {
	return &SessionManager{
		active:    make(map[string]*ManagedSession),
		store:     store,
		config:    config,
		providers: providers,
		tools:     tools,
		perm:      perm,
		agent:     agent,
		broadcast: make(chan types.StreamEventWithMetadata, 100),
		log:       logging.With().Str("component", "session_manager").Logger(),
	}
}

// Broadcast returns the global, process-wide stream of every active
// session's events, for a caller that wants a firehose (e.g. an admin UI)
// rather than a single session's external channel.
func (m *SessionManager) Broadcast() <-chan types.StreamEventWithMetadata {
	return m.broadcast
}

// CreateSession implements §4.4.1.
func (m *SessionManager) CreateSession(ctx context.Context, cfg types.SessionConfig) (string, *ManagedSession, error) {
	sess, err := m.store.CreateSession(ctx, cfg)
	if err != nil {
		return "", nil, &StorageError{Cause: err}
	}

	m.mu.RLock()
	current := len(m.active)
	m.mu.RUnlock()
	if current >= m.config.MaxConcurrentSessions {
		return "", nil, &CapacityExceededError{Current: current, Max: m.config.MaxConcurrentSessions}
	}

	ms, err := newManagedSession(ctx, sess, m.config.DefaultModel, m.deps())
	if err != nil {
		return "", nil, err
	}

	m.mu.Lock()
	m.active[sess.ID] = ms
	m.mu.Unlock()

	m.emitEvent(ctx, sess.ID, types.StreamEvent{Kind: types.StreamEventSessionCreated})

	return sess.ID, ms, nil
}

// ResumeSession implements §4.4.2.
func (m *SessionManager) ResumeSession(ctx context.Context, id string) (*ManagedSession, error) {
	m.mu.RLock()
	if existing, ok := m.active[id]; ok {
		m.mu.RUnlock()
		return existing, nil // idempotent resume
	}
	m.mu.RUnlock()

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, &SessionNotActiveError{ID: id}
	}

	m.mu.RLock()
	current := len(m.active)
	m.mu.RUnlock()
	if current >= m.config.MaxConcurrentSessions {
		m.log.Warn().Str("session_id", id).Int("current", current).Msg("resuming session above configured capacity")
	}

	ms, err := newManagedSession(ctx, sess, m.config.DefaultModel, m.deps())
	if err != nil {
		return nil, err
	}

	if len(sess.State.Messages) > 0 || len(sess.State.ApprovedTools) > 0 {
		done := make(chan error, 1)
		if sendErr := ms.SendCommand(AppCommand{
			Kind:                 CommandRestoreConversation,
			RestoreMessages:      sess.State.Messages,
			RestoreApprovedTools: sess.State.ApprovedTools,
			Done:                 done,
		}); sendErr != nil {
			return nil, sendErr
		}
		<-done
	}

	m.mu.Lock()
	m.active[id] = ms
	m.mu.Unlock()

	m.emitEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventSessionResumed, Offset: sess.State.LastEventSequence})

	return ms, nil
}

// SuspendSession implements §4.4.3.
func (m *SessionManager) SuspendSession(ctx context.Context, id string) bool {
	m.mu.Lock()
	ms, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	// Reload from the store rather than trusting ms.Session()'s
	// construction-time copy: the translator appends messages, tool calls,
	// and events directly to the store as they happen, so the store's copy
	// of State.Messages and State.LastEventSequence is the authoritative
	// one. The only state that lives nowhere but the App actor's memory is
	// the approved-tools set, so that's the one field layered on top.
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("failed to reload session before suspend; persisting construction-time snapshot")
		sess = ms.Session()
	}
	if approved := ms.ApprovedTools(); approved != nil {
		sess.State.ApprovedTools = approved
	}
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("failed to persist session on suspend")
	}
	ms.Shutdown()

	m.emitEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventSessionSaved})
	return true
}

// DeleteSession implements §4.4.4.
func (m *SessionManager) DeleteSession(ctx context.Context, id string) bool {
	m.mu.Lock()
	ms, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if ok {
		ms.Shutdown()
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("failed to delete session from store")
		return false
	}
	return true
}

// CleanupInactiveSessions implements §4.4.5: suspends every active session
// with no subscribers that has been idle longer than maxIdle, returning how
// many were suspended.
func (m *SessionManager) CleanupInactiveSessions(ctx context.Context, maxIdle time.Duration) int {
	m.mu.RLock()
	var candidates []string
	for id, ms := range m.active {
		if ms.IsInactive(maxIdle) {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range candidates {
		if m.SuspendSession(ctx, id) {
			count++
		}
	}
	return count
}

// SendCommand implements §4.4.7's send_command.
func (m *SessionManager) SendCommand(id string, cmd AppCommand) error {
	m.mu.RLock()
	ms, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return &SessionNotActiveError{ID: id}
	}
	return ms.SendCommand(cmd)
}

// IncrementSubscriberCount and DecrementSubscriberCount implement §4.4.7's
// subscriber counting. Decrementing or incrementing an id absent from the
// registry (a race with cleanup) is tolerated, not an error.
func (m *SessionManager) IncrementSubscriberCount(id string) {
	m.mu.RLock()
	ms, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		ms.IncrementSubscriberCount()
		ms.Touch()
	}
}

func (m *SessionManager) DecrementSubscriberCount(id string) {
	m.mu.RLock()
	ms, ok := m.active[id]
	m.mu.RUnlock()
	if ok {
		ms.DecrementSubscriberCount()
	}
}

// MaybeSuspendIdleSession implements §4.4.7's maybe_suspend_idle_session.
func (m *SessionManager) MaybeSuspendIdleSession(ctx context.Context, id string) bool {
	m.mu.RLock()
	ms, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if ms.HasNoSubscribers() {
		return m.SuspendSession(ctx, id)
	}
	return false
}

// ActiveSessionIDs returns a snapshot of every currently active session
// id, for a caller (e.g. servicehost.Host.Shutdown) that needs to iterate
// and suspend each one. Grounded on the Rust original's
// SessionManager::get_active_sessions.
func (m *SessionManager) ActiveSessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// TakeEventReceiver resolves id's ManagedSession and takes its single-use
// external event channel.
func (m *SessionManager) TakeEventReceiver(id string) (<-chan types.StreamEventWithMetadata, error) {
	m.mu.RLock()
	ms, ok := m.active[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &SessionNotActiveError{ID: id}
	}
	rx, ok := ms.TakeEventRx()
	if !ok {
		return nil, &SessionAlreadyHasListenerError{ID: id}
	}
	return rx, nil
}

// emitEvent implements §4.4.6: lifecycle events the Manager emits itself
// rather than events originating from an App actor. Step 2 requires
// update_session_state(id, |s| s.last_event_sequence = sequence), gated on
// auto_persist: FileStore's AppendEvent only records the event in its event
// log and never touches the session document, so without this step a
// FileStore-backed session's LastEventSequence would not reflect lifecycle
// events. (MemStore's AppendEvent already sets it; the write is redundant
// there but harmless.)
func (m *SessionManager) emitEvent(ctx context.Context, sessionID string, ev types.StreamEvent) {
	seq, err := m.store.AppendEvent(ctx, sessionID, ev)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to append lifecycle event")
		return
	}
	if m.config.AutoPersist {
		if err := m.updateLastEventSequence(ctx, sessionID, seq); err != nil {
			m.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist last_event_sequence")
		}
	}
	withMeta := types.StreamEventWithMetadata{Sequence: seq, SessionID: sessionID, Event: ev}
	select {
	case m.broadcast <- withMeta:
	default:
		m.log.Warn().Str("session_id", sessionID).Msg("dropping lifecycle event: global broadcast channel full")
	}
	publishToGlobalBus(withMeta)
}

// updateLastEventSequence round-trips the session document to set
// State.LastEventSequence, since FileStore's AppendEvent tracks sequence
// numbers in its own event log rather than on the session document.
func (m *SessionManager) updateLastEventSequence(ctx context.Context, sessionID string, seq uint64) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.State.LastEventSequence = seq
	return m.store.UpdateSession(ctx, sess)
}

func (m *SessionManager) deps() Deps {
	return Deps{
		Providers: m.providers,
		Tools:     m.tools,
		Perm:      m.perm,
		Agent:     m.agent,
		Store:     m.store,
		Broadcast: m.broadcast,
	}
}
