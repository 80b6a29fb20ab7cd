package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

func newTestManager(t *testing.T, maxConcurrent int) (*SessionManager, sessionstore.Store) {
	t.Helper()
	store := sessionstore.NewMemStore()
	mgr := NewSessionManager(
		store,
		ManagerConfig{MaxConcurrentSessions: maxConcurrent, DefaultModel: types.ModelRef{ProviderID: "test", ModelID: "test-model"}},
		provider.NewRegistry(nil),
		tool.NewRegistry("", nil),
		permission.NewChecker(),
		&Agent{Name: "default"},
	)
	return mgr, store
}

func isSessionActive(mgr *SessionManager, id string) bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	_, ok := mgr.active[id]
	return ok
}

// S1: create/suspend/resume round trip preserves the session id and its
// active/inactive transitions.
func TestS1_CreateSuspendResume(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 10)

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)
	assert.True(t, isSessionActive(mgr, id))

	assert.True(t, mgr.SuspendSession(ctx, id))
	assert.False(t, isSessionActive(mgr, id))

	ms, err := mgr.ResumeSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, ms.Session().ID)
	assert.True(t, isSessionActive(mgr, id))
}

// S2: with max_concurrent_sessions = 1, a second create is rejected with
// CapacityExceeded{current: 1, max: 1}.
func TestS2_CapacityRejection(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 1)

	_, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	_, _, err = mgr.CreateSession(ctx, types.SessionConfig{})
	require.Error(t, err)
	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, capErr.Current)
	assert.Equal(t, 1, capErr.Max)
}

// S3: a completed tool call is always paired with a synthesised Tool
// message, even though nothing in the event sequence below ever emits one
// explicitly — this is the translator's derived-state invariant in §4.3.1,
// exercised directly against the event stream an App actor would produce
// for "Read the file test.txt".
func TestS3_ToolResultPersistence(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemStore()
	sess, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	events := make(chan types.AppEvent, 10)
	tr := newTranslator(sess.ID, store, events, nil)
	done := make(chan struct{})
	go func() { defer close(done); tr.Run(ctx) }()

	userMsg := types.Message{ID: "m1", SessionID: sess.ID, Role: types.RoleUser, ThreadID: "t1", Text: "Read the file test.txt"}
	assistantMsg := types.Message{
		ID: "m2", SessionID: sess.ID, Role: types.RoleAssistant, ThreadID: "t1", ParentMessageID: "m1",
		ToolCalls: []types.ToolCall{{ID: "tool_call_1", Name: "read_file"}},
	}
	finalMsg := types.Message{ID: "m3", SessionID: sess.ID, Role: types.RoleAssistant, ThreadID: "t1", ParentMessageID: "tool_result_tool_call_1", Text: "The file contains: Hello, world!"}

	events <- types.AppEvent{Kind: types.AppEventMessageAdded, Message: &userMsg}
	events <- types.AppEvent{Kind: types.AppEventMessageAdded, Message: &assistantMsg}
	events <- types.AppEvent{Kind: types.AppEventToolCallStarted, ToolCallID: "tool_call_1", ToolCallName: "read_file"}
	result := types.ToolResult{Kind: types.ToolResultFile, Summary: "Hello, world!"}
	events <- types.AppEvent{Kind: types.AppEventToolCallCompleted, ToolCallID: "tool_call_1", Result: &result}
	events <- types.AppEvent{Kind: types.AppEventMessageAdded, Message: &finalMsg}
	close(events)
	<-done

	msgs, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	tc, ok := msgs[1].ToolCallByID("tool_call_1")
	require.True(t, ok)
	assert.Equal(t, "read_file", tc.Name)

	assert.Equal(t, types.RoleTool, msgs[2].Role)
	assert.Equal(t, "tool_result_tool_call_1", msgs[2].ID)
	assert.Equal(t, "tool_call_1", msgs[2].ToolUseID)
	require.NotNil(t, msgs[2].Result)
	assert.Contains(t, msgs[2].Result.Output(), "Hello, world!")

	assert.Equal(t, types.RoleAssistant, msgs[3].Role)
	assert.Contains(t, msgs[3].Text, "Hello, world!")
}

// S4: a session idle past the threshold with no subscribers is suspended
// by a cleanup sweep.
func TestS4_CleanupSweep(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 10)

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	mgr.mu.RLock()
	ms := mgr.active[id]
	mgr.mu.RUnlock()
	ms.mu.Lock()
	ms.lastActivity = time.Now().Add(-2 * time.Hour)
	ms.mu.Unlock()

	count := mgr.CleanupInactiveSessions(ctx, time.Hour)
	assert.Equal(t, 1, count)
	assert.False(t, isSessionActive(mgr, id))
}

// S5: the per-session event sequence is monotonic and continues across a
// suspend/resume cycle rather than resetting.
func TestS5_SequenceContinuity(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, 10)

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.AppendEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventMessagePart, Delta: "x"})
		require.NoError(t, err)
	}

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	sess.State.LastEventSequence = 3
	require.NoError(t, store.UpdateSession(ctx, sess))

	require.True(t, mgr.SuspendSession(ctx, id))
	_, err = mgr.ResumeSession(ctx, id)
	require.NoError(t, err)

	seq, err := store.AppendEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventMessagePart, Delta: "y"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

// S7: SuspendSession must not clobber state the translator already
// persisted directly to the store (messages, events) with the
// construction-time ManagedSession.Session() snapshot — only the actor's
// in-memory approved-tools set needs folding in on top of the store's
// copy.
func TestS7_SuspendPreservesAccumulatedState(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, 10)
	mgr.config.AutoPersist = true

	id, ms, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	// Simulate the translator having appended a message and events
	// directly to the store while the session was active.
	require.NoError(t, store.AppendMessage(ctx, id, types.Message{ID: "m1", SessionID: id, Role: types.RoleUser, Text: "hi"}))
	_, err = store.AppendEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventMessagePart, Delta: "a"})
	require.NoError(t, err)
	seq, err := store.AppendEvent(ctx, id, types.StreamEvent{Kind: types.StreamEventMessagePart, Delta: "b"})
	require.NoError(t, err)

	// Simulate the actor having approved a tool in memory only.
	done := make(chan error, 1)
	require.NoError(t, ms.SendCommand(AppCommand{
		Kind:                 CommandRestoreConversation,
		RestoreApprovedTools: map[string]bool{"bash": true},
		Done:                 done,
	}))
	<-done

	require.True(t, mgr.SuspendSession(ctx, id))

	persisted, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, persisted.State.Messages, 1)
	assert.Equal(t, "m1", persisted.State.Messages[0].ID)
	// The SessionSaved event emitted by the suspend takes the next sequence.
	assert.Equal(t, seq+1, persisted.State.LastEventSequence)
	assert.True(t, persisted.State.ApprovedTools["bash"])
}

// S8: emitEvent's lifecycle events (session.created, session.resumed, ...)
// update the persisted session's LastEventSequence when auto_persist is on.
func TestS8_LifecycleEventsPersistLastEventSequence(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, 10)
	mgr.config.AutoPersist = true

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	persisted, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), persisted.State.LastEventSequence)

	require.True(t, mgr.SuspendSession(ctx, id))

	persisted, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), persisted.State.LastEventSequence)
}

// S6: a session's external event channel can be taken exactly once.
func TestS6_ListenerUniqueness(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 10)

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	_, err = mgr.TakeEventReceiver(id)
	require.NoError(t, err)

	_, err = mgr.TakeEventReceiver(id)
	require.Error(t, err)
	var listenerErr *SessionAlreadyHasListenerError
	require.ErrorAs(t, err, &listenerErr)
}
