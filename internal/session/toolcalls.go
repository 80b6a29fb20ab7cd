package session

import (
	"sync"

	"github.com/opencode-ai/opencode/pkg/types"
)

// ToolCallRegistry is a per-session index mapping tool-call ids to their
// call record, result (once available), and a UI placement hint (the id of
// the Assistant message that introduced the call). It exists purely for
// O(1) lookup during result attachment and UI restoration — the durable
// record of a tool call still lives in the SessionStore.
type ToolCallRegistry struct {
	mu    sync.RWMutex
	calls map[string]*registeredCall
}

type registeredCall struct {
	call      types.ToolCall
	result    *types.ToolResult
	messageID string // the Assistant message that introduced this call
}

// NewToolCallRegistry returns an empty registry.
func NewToolCallRegistry() *ToolCallRegistry {
	return &ToolCallRegistry{calls: make(map[string]*registeredCall)}
}

// Register records a new tool call, as observed when ToolCallStarted fires.
func (r *ToolCallRegistry) Register(call types.ToolCall, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = &registeredCall{call: call, messageID: messageID}
}

// SetResult attaches a result to a previously registered call. It is not an
// error to set a result for a call the registry never saw Register'd
// (restored sessions reconstruct the registry from stored tool calls
// lazily) — the call record is synthesised with an empty name in that case.
func (r *ToolCallRegistry) SetResult(toolCallID string, result types.ToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.calls[toolCallID]
	if !ok {
		rc = &registeredCall{call: types.ToolCall{ID: toolCallID}}
		r.calls[toolCallID] = rc
	}
	rc.result = &result
}

// Get returns the registered call and whether a result has been attached.
func (r *ToolCallRegistry) Get(toolCallID string) (types.ToolCall, *types.ToolResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.calls[toolCallID]
	if !ok {
		return types.ToolCall{}, nil, false
	}
	return rc.call, rc.result, true
}

// MessageID returns the id of the Assistant message that introduced the
// given tool call, for UI restoration.
func (r *ToolCallRegistry) MessageID(toolCallID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.calls[toolCallID]
	if !ok {
		return "", false
	}
	return rc.messageID, true
}

// Seed repopulates the registry from a restored conversation's Assistant
// messages, so result-pairing lookups work immediately after resume without
// waiting for a fresh ToolCallStarted.
func (r *ToolCallRegistry) Seed(messages []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			r.calls[tc.ID] = &registeredCall{call: tc, messageID: m.ID}
		}
	}
	for _, m := range messages {
		if m.Role != types.RoleTool || m.Result == nil {
			continue
		}
		if rc, ok := r.calls[m.ToolUseID]; ok {
			result := *m.Result
			rc.result = &result
		}
	}
}
