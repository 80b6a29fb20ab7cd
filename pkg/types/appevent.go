package types

// AppEventKind tags the concrete shape carried by an AppEvent. AppEvent is a
// superset of StreamEventKind: it additionally carries UI-only events that
// the translator maps to no durable record at all.
type AppEventKind string

const (
	AppEventMessageAdded      AppEventKind = "message_added"
	AppEventMessagePart       AppEventKind = "message_part"
	AppEventMessageUpdated    AppEventKind = "message_updated"
	AppEventRestoredMessage   AppEventKind = "restored_message"
	AppEventToolCallStarted   AppEventKind = "tool_call_started"
	AppEventToolCallCompleted AppEventKind = "tool_call_completed"
	AppEventToolCallFailed    AppEventKind = "tool_call_failed"
	AppEventOperationStarted  AppEventKind = "operation_started"
	AppEventOperationComplete AppEventKind = "operation_completed"
	AppEventOperationCancelled AppEventKind = "operation_cancelled"
	AppEventError             AppEventKind = "error"

	// UI-only: translate to None, never persisted or broadcast.
	AppEventThinkingStarted   AppEventKind = "thinking_started"
	AppEventThinkingCompleted AppEventKind = "thinking_completed"
	AppEventModelChanged      AppEventKind = "model_changed"
	AppEventCommandResponse   AppEventKind = "command_response"
	AppEventRequestToolApproval AppEventKind = "request_tool_approval"
	AppEventTitleGenerated    AppEventKind = "title_generated"
	AppEventCompacted         AppEventKind = "compacted"
)

// AppEvent is the in-process, non-durable event emitted by the App actor.
// Like StreamEvent it is represented as one tagged struct rather than an
// interface hierarchy, since the translator's job is a flat switch over Kind.
type AppEvent struct {
	Kind AppEventKind

	// MessageAdded / RestoredMessage
	Message *Message
	Model   *ModelRef

	// MessagePart / MessageUpdated
	MessageID string
	Delta     string

	// ToolCallStarted
	ToolCallName string
	ToolCallID   string

	// ToolCallCompleted / ToolCallFailed
	Result    *ToolResult
	ToolError string

	// OperationStarted / OperationCompleted / OperationCancelled
	OpID   string
	Reason string

	// Error
	ErrorMessage string

	// ModelChanged
	NewModel *ModelRef

	// CommandResponse
	ResponseText string

	// RequestToolApproval
	ApprovalRequestID string
	ApprovalTitle     string
	ApprovalPattern   []string

	// TitleGenerated
	Title string

	// Compacted
	SummaryText string
}
