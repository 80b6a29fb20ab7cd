package session

import "github.com/opencode-ai/opencode/pkg/types"

// translateAppEvent is the total function AppEvent -> Option<StreamEvent>.
// It never panics: an AppEventKind it does not recognise falls through to
// the UI-only (nil) branch rather than failing closed with an error, since
// the translator's correctness property is totality, not exhaustiveness of
// a growing UI vocabulary.
func translateAppEvent(ev types.AppEvent) *types.StreamEvent {
	switch ev.Kind {
	case types.AppEventMessageAdded:
		return &types.StreamEvent{
			Kind:    types.StreamEventMessageComplete,
			Message: ev.Message,
			Model:   ev.Model,
		}
	case types.AppEventMessagePart:
		return &types.StreamEvent{
			Kind:      types.StreamEventMessagePart,
			MessageID: ev.MessageID,
			Delta:     ev.Delta,
		}
	case types.AppEventToolCallStarted:
		return &types.StreamEvent{
			Kind: types.StreamEventToolCallStarted,
			ToolCall: &types.ToolCall{
				ID:   ev.ToolCallID,
				Name: ev.ToolCallName,
				// Parameters are filled in later by the create_tool_call
				// record, not known to the translator at this point.
				Parameters: nil,
			},
			Model: ev.Model,
		}
	case types.AppEventToolCallCompleted:
		return &types.StreamEvent{
			Kind:       types.StreamEventToolCallCompleted,
			ToolCallID: ev.ToolCallID,
			Result:     ev.Result,
		}
	case types.AppEventToolCallFailed:
		return &types.StreamEvent{
			Kind:       types.StreamEventToolCallFailed,
			ToolCallID: ev.ToolCallID,
			ToolError:  ev.ToolError,
		}
	case types.AppEventOperationStarted:
		return &types.StreamEvent{Kind: types.StreamEventOperationStarted, OpID: ev.OpID}
	case types.AppEventOperationComplete:
		return &types.StreamEvent{Kind: types.StreamEventOperationCompleted, OpID: ev.OpID}
	case types.AppEventOperationCancelled:
		return &types.StreamEvent{Kind: types.StreamEventOperationCancelled, OpID: ev.OpID, Reason: ev.Reason}
	case types.AppEventError:
		return &types.StreamEvent{
			Kind:         types.StreamEventError,
			ErrorMessage: ev.ErrorMessage,
			ErrorKind:    types.ErrorKindInternal,
		}
	default:
		// ThinkingStarted/Completed, ModelChanged, CommandResponse,
		// RequestToolApproval, MessageUpdated, RestoredMessage: UI-only.
		return nil
	}
}
