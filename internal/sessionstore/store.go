// Package sessionstore defines the durable persistence contract the session
// runtime depends on, plus two concrete implementations: an in-memory store
// for tests and ephemeral runs, and a JSON-file-backed store adapted from
// the teacher repo's internal/storage package for anything that needs to
// survive a process restart.
package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Sentinel errors every Store implementation must return (wrapped, not
// replaced) so callers can distinguish failure classes with errors.Is.
var (
	ErrNotFound  = errors.New("sessionstore: not found")
	ErrConflict  = errors.New("sessionstore: conflict")
	ErrTransport = errors.New("sessionstore: transport error")
)

// StorageError wraps an underlying failure with the sentinel it belongs to,
// giving callers a typed variant instead of a bare string per the error
// taxonomy.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("sessionstore: %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func newStorageError(op string, sentinel, cause error) error {
	if cause == nil {
		cause = sentinel
	}
	return &StorageError{Op: op, Cause: fmt.Errorf("%w: %v", sentinel, cause)}
}

// OrderBy selects the sort key for ListSessions.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByUpdatedAt OrderBy = "updated_at"
)

// Direction selects ascending or descending order for ListSessions.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ListFilter parameterises ListSessions.
type ListFilter struct {
	OrderBy   OrderBy
	Direction Direction
	Limit     int
	Offset    int
	Labels    map[string]string
}

// SessionInfo is the lightweight projection ListSessions returns.
type SessionInfo struct {
	ID        string
	Title     string
	CreatedAt int64
	UpdatedAt int64
}

// ToolCallUpdateKind tags the variant of a ToolCall update.
type ToolCallUpdateKind string

const (
	ToolCallSetResult ToolCallUpdateKind = "set_result"
	ToolCallSetError  ToolCallUpdateKind = "set_error"
)

// ToolCallUpdate carries either a result or an error for UpdateToolCall.
type ToolCallUpdate struct {
	Kind   ToolCallUpdateKind
	Result *types.ToolResult
	Error  string
}

// Store is the durable persistence contract. Implementations must tolerate
// concurrent reads and serialise writes per session; append_event in
// particular must hand out per-session sequence numbers that are
// monotonically increasing with no gaps even under concurrent callers.
type Store interface {
	CreateSession(ctx context.Context, cfg types.SessionConfig) (types.Session, error)
	GetSession(ctx context.Context, id string) (types.Session, error)
	UpdateSession(ctx context.Context, session types.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, filter ListFilter) ([]SessionInfo, error)

	AppendMessage(ctx context.Context, sessionID string, msg types.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)

	// AppendEvent returns the newly assigned, per-session sequence number.
	AppendEvent(ctx context.Context, sessionID string, event types.StreamEvent) (uint64, error)

	CreateToolCall(ctx context.Context, sessionID string, call types.ToolCall) error
	UpdateToolCall(ctx context.Context, toolCallID string, update ToolCallUpdate) error
}
