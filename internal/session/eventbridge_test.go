package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/pkg/types"
)

// CreateSession's lifecycle event reaches the legacy global event.Bus, so
// a listener attached via event.SubscribeAll (the only way
// internal/server/sse.go's /event endpoint has ever worked) keeps seeing
// SessionManager activity without also having to poll Broadcast().
func TestEventBridgePublishesSessionCreated(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, 10)

	received := make(chan event.Event, 1)
	unsubscribe := event.SubscribeAll(func(ev event.Event) {
		received <- ev
	})
	defer unsubscribe()

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, event.SessionCreated, ev.Type)
		withMeta, ok := ev.Data.(types.StreamEventWithMetadata)
		require.True(t, ok)
		assert.Equal(t, id, withMeta.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bridged event.Bus publish")
	}
}

func TestEventBridgeSkipsUnmappedKinds(t *testing.T) {
	received := make(chan event.Event, 1)
	unsubscribe := event.SubscribeAll(func(ev event.Event) {
		received <- ev
	})
	defer unsubscribe()

	publishToGlobalBus(types.StreamEventWithMetadata{
		SessionID: "s1",
		Event:     types.StreamEvent{Kind: types.StreamEventOperationStarted},
	})

	select {
	case ev := <-received:
		t.Fatalf("expected no publish for an unmapped kind, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
