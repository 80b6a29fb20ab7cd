package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/pkg/types"
)

func userMsg(id, parent string) types.Message {
	return types.Message{ID: id, Role: types.RoleUser, ThreadID: "t1", ParentMessageID: parent, Text: id}
}

func TestAddMessageBuildsChain(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMessage(userMsg("m1", "")))
	require.NoError(t, g.AddMessage(userMsg("m2", "m1")))
	require.NoError(t, g.AddMessage(userMsg("m3", "m2")))

	assert.Equal(t, "m3", g.ActiveMessageID())
	thread := g.GetActiveThread()
	require.Len(t, thread, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(thread))
}

func TestAddMessageRejectsMissingParent(t *testing.T) {
	g := New()
	err := g.AddMessage(userMsg("m1", "ghost"))
	assert.Error(t, err)
}

func TestEditMessageCreatesSiblingBranch(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMessage(userMsg("m1", "")))
	require.NoError(t, g.AddMessage(userMsg("m2", "m1")))
	require.NoError(t, g.AddMessage(userMsg("m3", "m2")))

	edited, err := g.EditMessage("m2", "m2-edit", func(m *types.Message) {
		m.Text = "edited content"
	})
	require.NoError(t, err)

	// The branch's parent is m2's own parent (m1), not m2.
	assert.Equal(t, "m1", edited.ParentMessageID)
	assert.Equal(t, "t1", edited.ThreadID)
	assert.Equal(t, "m2-edit", g.ActiveMessageID())

	thread := g.GetActiveThread()
	assert.Equal(t, []string{"m1", "m2-edit"}, ids(thread))

	// The original branch (m1 -> m2 -> m3) survives, just no longer active.
	old := g.GetThreadMessages("m3")
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(old))
}

func TestCheckoutSwitchesActiveThreadWithoutAppending(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMessage(userMsg("m1", "")))
	require.NoError(t, g.AddMessage(userMsg("m2", "m1")))
	before := g.Len()

	require.NoError(t, g.Checkout("m1"))
	assert.Equal(t, "m1", g.ActiveMessageID())
	assert.Equal(t, before, g.Len())
	assert.Equal(t, []string{"m1"}, ids(g.GetActiveThread()))
}

func TestCheckoutUnknownMessageFails(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMessage(userMsg("m1", "")))
	assert.Error(t, g.Checkout("ghost"))
}

func TestFindToolNameByID(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMessage(userMsg("m1", "")))
	assistant := types.Message{
		ID: "m2", Role: types.RoleAssistant, ThreadID: "t1", ParentMessageID: "m1",
		ToolCalls: []types.ToolCall{{ID: "tool_call_1", Name: "read_file"}},
	}
	require.NoError(t, g.AddMessage(assistant))

	name, ok := g.FindToolNameByID("tool_call_1")
	require.True(t, ok)
	assert.Equal(t, "read_file", name)

	_, ok = g.FindToolNameByID("unknown")
	assert.False(t, ok)
}

func TestUpdateCommandExecutionPatchesInPlace(t *testing.T) {
	g := New()
	msg := types.Message{
		ID: "m1", Role: types.RoleUser, ThreadID: "t1",
		CommandExecution: &types.CommandExecution{Command: "ls"},
	}
	require.NoError(t, g.AddMessage(msg))

	require.NoError(t, g.UpdateCommandExecution("m1", "a.txt\n", "", 0))

	got, ok := g.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "a.txt\n", got.CommandExecution.Stdout)
	assert.Equal(t, 0, got.CommandExecution.ExitCode)
}

func TestGetThreadMessagesEmptyHead(t *testing.T) {
	g := New()
	assert.Nil(t, g.GetThreadMessages(""))
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
