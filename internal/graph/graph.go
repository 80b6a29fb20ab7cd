// Package graph implements the in-memory message DAG that backs a single
// session's conversation: messages keyed by id, linked by ParentMessageID,
// with an ActiveMessageID designating the thread head. Editing a message
// never mutates it — it appends a sibling branch rooted at the edited
// message's own parent — which is what lets a session carry multiple
// abandoned attempts side by side while the active thread walks only one
// path back to the root.
//
// Graph is not safe for concurrent use; callers (the App actor) own it
// exclusively, matching the single-consumer-per-session invariant the
// runtime already guarantees at a higher level.
package graph

import (
	"fmt"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Graph is an in-memory DAG of messages for one session.
type Graph struct {
	messages  map[string]*types.Message
	order     []string // insertion order, for deterministic iteration
	activeID  string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{messages: make(map[string]*types.Message)}
}

// Clear discards all messages and the active head.
func (g *Graph) Clear() {
	g.messages = make(map[string]*types.Message)
	g.order = nil
	g.activeID = ""
}

// AddMessage inserts msg, making it the new active head. If msg has a
// ParentMessageID it must already exist in the graph.
func (g *Graph) AddMessage(msg types.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("graph: message id must not be empty")
	}
	if _, exists := g.messages[msg.ID]; exists {
		return fmt.Errorf("graph: message %q already exists", msg.ID)
	}
	if msg.ParentMessageID != "" {
		if _, ok := g.messages[msg.ParentMessageID]; !ok {
			return fmt.Errorf("graph: parent %q not found for message %q", msg.ParentMessageID, msg.ID)
		}
	}
	m := msg
	g.messages[m.ID] = &m
	g.order = append(g.order, m.ID)
	g.activeID = m.ID
	return nil
}

// AddMessageFromData is a convenience wrapper building a Message from its
// parts and inserting it in one step, mirroring add_message_from_data in the
// reference implementation this package is grounded on.
func (g *Graph) AddMessageFromData(id, threadID, parentID string, role types.Role) (types.Message, error) {
	msg := types.Message{
		ID:              id,
		Role:            role,
		ThreadID:        threadID,
		ParentMessageID: parentID,
	}
	if err := g.AddMessage(msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// Get returns the message with the given id.
func (g *Graph) Get(id string) (types.Message, bool) {
	m, ok := g.messages[id]
	if !ok {
		return types.Message{}, false
	}
	return *m, true
}

// ActiveMessageID returns the current thread head, or "" if the graph is
// empty.
func (g *Graph) ActiveMessageID() string {
	return g.activeID
}

// Checkout moves the active head to messageID without appending anything.
// Used by EditMessage's branch selection and by "rewind to an earlier
// point" operations.
func (g *Graph) Checkout(messageID string) error {
	if _, ok := g.messages[messageID]; !ok {
		return fmt.Errorf("graph: checkout target %q not found", messageID)
	}
	g.activeID = messageID
	return nil
}

// EditMessage creates a new message that is a sibling of messageID: its
// parent is messageID's own parent (not messageID itself), and it becomes
// the new active head. This is how a user-message edit produces a branch
// instead of a mutation. newID must not already exist.
func (g *Graph) EditMessage(messageID, newID string, mutate func(*types.Message)) (types.Message, error) {
	orig, ok := g.messages[messageID]
	if !ok {
		return types.Message{}, fmt.Errorf("graph: message %q not found", messageID)
	}
	branch := *orig
	branch.ID = newID
	branch.ParentMessageID = orig.ParentMessageID
	branch.ThreadID = orig.ThreadID
	if mutate != nil {
		mutate(&branch)
	}
	if err := g.AddMessage(branch); err != nil {
		return types.Message{}, err
	}
	return branch, nil
}

// ReplaceMessage overwrites a message's content in place without changing
// its graph position (id, parent, thread). Used by conversation compaction,
// which needs to shrink a message's payload without disturbing the DAG.
func (g *Graph) ReplaceMessage(messageID string, mutate func(*types.Message)) error {
	m, ok := g.messages[messageID]
	if !ok {
		return fmt.Errorf("graph: message %q not found", messageID)
	}
	mutate(m)
	return nil
}

// UpdateCommandExecution patches the CommandExecution payload of an existing
// User message in place, used once a previously-started shell command
// finishes and its stdout/stderr/exit code become known.
func (g *Graph) UpdateCommandExecution(messageID, stdout, stderr string, exitCode int) error {
	m, ok := g.messages[messageID]
	if !ok {
		return fmt.Errorf("graph: message %q not found", messageID)
	}
	if m.CommandExecution == nil {
		return fmt.Errorf("graph: message %q has no command execution", messageID)
	}
	m.CommandExecution.Stdout = stdout
	m.CommandExecution.Stderr = stderr
	m.CommandExecution.ExitCode = exitCode
	return nil
}

// FindToolNameByID searches Assistant messages for a ToolCall with the
// given id and returns its tool name. Used when rendering a Tool message
// without re-reading the paired Assistant message.
func (g *Graph) FindToolNameByID(toolCallID string) (string, bool) {
	for _, id := range g.order {
		m := g.messages[id]
		if m.Role != types.RoleAssistant {
			continue
		}
		if tc, ok := m.ToolCallByID(toolCallID); ok {
			return tc.Name, true
		}
	}
	return "", false
}

// GetActiveThread walks the parent chain backward from the active head to
// the root and returns it in chronological order.
func (g *Graph) GetActiveThread() []types.Message {
	return g.GetThreadMessages(g.activeID)
}

// GetThreadMessages walks the parent chain backward from headID to the root
// and returns it in chronological order. An empty headID yields an empty
// slice.
func (g *Graph) GetThreadMessages(headID string) []types.Message {
	if headID == "" {
		return nil
	}
	var reversed []types.Message
	cur := headID
	seen := make(map[string]bool)
	for cur != "" {
		if seen[cur] {
			break // defensive: a cycle should never occur, but never hang if one does
		}
		seen[cur] = true
		m, ok := g.messages[cur]
		if !ok {
			break
		}
		reversed = append(reversed, *m)
		cur = m.ParentMessageID
	}
	out := make([]types.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out
}

// Len returns the number of messages in the graph, across all branches.
func (g *Graph) Len() int {
	return len(g.messages)
}
