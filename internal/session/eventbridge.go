package session

import (
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/pkg/types"
)

// streamEventBusType maps a StreamEventKind onto the legacy event.Bus's
// EventType, so SSE clients still attached to the global event.SubscribeAll
// feed (internal/server/sse.go's globalEvents/sessionEvents) keep seeing
// SessionManager-originated activity even though the App actor no longer
// publishes onto that bus directly. Kinds with no legacy equivalent
// (operation lifecycle, error) are left unmapped and are not bridged.
var streamEventBusType = map[types.StreamEventKind]event.EventType{
	types.StreamEventSessionCreated:    event.SessionCreated,
	types.StreamEventSessionResumed:    event.SessionUpdated,
	types.StreamEventSessionSaved:      event.SessionUpdated,
	types.StreamEventMessageComplete:   event.MessageCreated,
	types.StreamEventMessagePart:       event.PartUpdated,
	types.StreamEventToolCallStarted:   event.PartUpdated,
	types.StreamEventToolCallCompleted: event.PartUpdated,
	types.StreamEventToolCallFailed:    event.PartUpdated,
}

// publishToGlobalBus republishes a StreamEventWithMetadata onto the process
// -wide event.Bus, best-effort: the bus's own Publish is already
// non-blocking per subscriber, so this never slows down the translator or
// SessionManager.emitEvent call sites it's invoked from.
func publishToGlobalBus(withMeta types.StreamEventWithMetadata) {
	busType, ok := streamEventBusType[withMeta.Event.Kind]
	if !ok {
		return
	}
	event.Publish(event.Event{Type: busType, Data: withMeta})
}
