package sessionstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/pkg/types"
)

func TestMemStoreAppendEventSequenceIsDenseAndMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sess, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		seq, err := store.AppendEvent(ctx, sess.ID, types.StreamEvent{Kind: types.StreamEventMessageComplete})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.State.LastEventSequence)
}

func TestMemStoreAppendMessageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sess, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	msg := types.Message{ID: "m1", Role: types.RoleUser, Text: "hi"}
	require.NoError(t, store.AppendMessage(ctx, sess.ID, msg))
	require.NoError(t, store.AppendMessage(ctx, sess.ID, msg))

	msgs, err := store.GetMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemStoreGetSessionNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.GetSession(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemStoreDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	sess, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, sess.ID))
	_, err = store.GetSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemStoreListSessionsOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	a, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)
	b, err := store.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	infos, err := store.ListSessions(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}
