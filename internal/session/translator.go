package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/idgen"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/pkg/types"
)

// translator is the per-session goroutine sitting between the App actor and
// the durable world: it consumes AppEvents off the actor's outbound
// channel, mirrors every AppEvent that has a durable shape onto the
// SessionStore (applying the derived-state rules in §4.3.1), and fans the
// translated StreamEvent out to whichever external listener and global
// broadcaster are attached to the session.
//
// Exactly one goroutine runs a translator for a given session, and it is
// the sole writer of that session's sequence-numbered event log — the same
// single-consumer discipline the App actor applies to its command channel.
type translator struct {
	sessionID string
	store     sessionstore.Store
	events    <-chan types.AppEvent

	// external is the per-session listener channel (cap 100, drop-new on
	// full). It may be nil if no listener is currently attached.
	externalMu sync.Mutex
	external   chan<- types.StreamEventWithMetadata

	// broadcast is the process-wide fan-out channel (cap 100, drop-new).
	broadcast chan<- types.StreamEventWithMetadata

	log zerolog.Logger
}

func newTranslator(sessionID string, store sessionstore.Store, events <-chan types.AppEvent, broadcast chan<- types.StreamEventWithMetadata) *translator {
	return &translator{
		sessionID: sessionID,
		store:     store,
		events:    events,
		broadcast: broadcast,
		log:       logging.With().Str("session_id", sessionID).Logger(),
	}
}

// setExternal attaches (or detaches, with nil) the session's single
// external listener channel. Protected by externalMu since TakeEventRx can
// race with an in-flight translate call.
func (t *translator) setExternal(ch chan<- types.StreamEventWithMetadata) {
	t.externalMu.Lock()
	defer t.externalMu.Unlock()
	t.external = ch
}

// Run drains t.events until the App actor closes its outbound channel,
// which is this translator's sole termination signal.
func (t *translator) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("translator panicked")
		}
	}()

	for ev := range t.events {
		t.translate(ctx, ev)
	}
}

func (t *translator) translate(ctx context.Context, ev types.AppEvent) {
	se := translateAppEvent(ev)
	if se == nil {
		return // UI-only event: nothing durable or streamable
	}

	seq, err := t.store.AppendEvent(ctx, t.sessionID, *se)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to append stream event")
		return
	}

	if err := t.applyDerivedState(ctx, ev); err != nil {
		t.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to persist derived state")
	}

	withMeta := types.StreamEventWithMetadata{Sequence: seq, SessionID: t.sessionID, Event: *se}
	t.deliverExternal(withMeta)
	t.deliverBroadcast(withMeta)
}

// applyDerivedState implements §4.3.1: some AppEvents update more than the
// raw event log, because the store's message/tool-call views are derived,
// queryable projections rather than a replay of the event stream.
func (t *translator) applyDerivedState(ctx context.Context, ev types.AppEvent) error {
	switch ev.Kind {
	case types.AppEventMessageAdded:
		if ev.Message == nil {
			return nil
		}
		return t.store.AppendMessage(ctx, t.sessionID, *ev.Message)

	case types.AppEventToolCallStarted:
		return t.store.CreateToolCall(ctx, t.sessionID, types.ToolCall{
			ID:        ev.ToolCallID,
			SessionID: t.sessionID,
			Name:      ev.ToolCallName,
		})

	case types.AppEventToolCallCompleted:
		return t.recordToolOutcome(ctx, ev.ToolCallID, sessionstore.ToolCallUpdate{
			Kind:   sessionstore.ToolCallSetResult,
			Result: ev.Result,
		}, ev.Result, "")

	case types.AppEventToolCallFailed:
		return t.recordToolOutcome(ctx, ev.ToolCallID, sessionstore.ToolCallUpdate{
			Kind:  sessionstore.ToolCallSetError,
			Error: ev.ToolError,
		}, nil, ev.ToolError)
	}
	return nil
}

// recordToolOutcome updates the tool call record and synthesises the
// paired Tool message every ToolCallCompleted/Failed must produce, even
// when the App actor's own agent loop never emitted one (the invariant
// tool results are always addressable as a Tool message in the thread).
func (t *translator) recordToolOutcome(ctx context.Context, toolCallID string, update sessionstore.ToolCallUpdate, result *types.ToolResult, errMsg string) error {
	if err := t.store.UpdateToolCall(ctx, toolCallID, update); err != nil {
		return err
	}

	var rv types.ToolResult
	switch {
	case result != nil:
		rv = *result
	default:
		rv = types.NewErrorResult(errMsg)
	}

	recent, err := t.store.GetMessages(ctx, t.sessionID, 1)
	if err != nil {
		return err
	}
	var threadID, parentID string
	if len(recent) > 0 {
		threadID = recent[0].ThreadID
		parentID = recent[0].ID
	} else {
		threadID = idgen.New() // empty session: start a fresh thread
	}

	toolMsg := types.Message{
		ID:              "tool_result_" + toolCallID,
		SessionID:       t.sessionID,
		Role:            types.RoleTool,
		ThreadID:        threadID,
		ParentMessageID: parentID,
		ToolUseID:       toolCallID,
		Result:          &rv,
	}
	return t.store.AppendMessage(ctx, t.sessionID, toolMsg) // AppendMessage is idempotent on ID
}

func (t *translator) deliverExternal(ev types.StreamEventWithMetadata) {
	t.externalMu.Lock()
	ch := t.external
	t.externalMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		t.log.Warn().Uint64("sequence", ev.Sequence).Msg("dropping stream event: external listener channel full")
	}
}

func (t *translator) deliverBroadcast(ev types.StreamEventWithMetadata) {
	publishToGlobalBus(ev)
	if t.broadcast == nil {
		return
	}
	select {
	case t.broadcast <- ev:
	default:
		t.log.Warn().Uint64("sequence", ev.Sequence).Msg("dropping stream event: global broadcast channel full")
	}
}
