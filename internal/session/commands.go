package session

import "github.com/opencode-ai/opencode/pkg/types"

// CommandKind tags the variant of AppCommand.
type CommandKind string

const (
	CommandProcessUserInput    CommandKind = "process_user_input"
	CommandExecuteBash         CommandKind = "execute_bash"
	CommandExecuteSlash        CommandKind = "execute_command"
	CommandHandleToolResponse  CommandKind = "handle_tool_response"
	CommandRestoreConversation CommandKind = "restore_conversation"
	CommandEditMessage         CommandKind = "edit_message"
	CommandCancelProcessing    CommandKind = "cancel_processing"
	CommandShutdown            CommandKind = "shutdown"
	CommandSnapshotApprovedTools CommandKind = "snapshot_approved_tools"
)

// AppCommand is the total command surface the App actor consumes from its
// bounded channel. Exactly one goroutine (the actor) is ever the consumer of
// a given session's command channel, so commands are processed in strict
// arrival order.
type AppCommand struct {
	Kind CommandKind

	// ProcessUserInput
	Text string

	// ExecuteBashCommand
	BashCommand string

	// ExecuteCommand
	SlashCommand string

	// HandleToolResponse
	ApprovalRequestID string
	Approved          bool
	Always            bool

	// RestoreConversation
	RestoreMessages      []types.Message
	RestoreApprovedTools map[string]bool

	// EditMessage
	MessageID  string
	NewContent string

	// SnapshotApprovedTools: ApprovedToolsResult receives a copy of the
	// actor's current approved-tools set, read through the command channel
	// so it never races the actor goroutine's own reads/writes of the map.
	ApprovedToolsResult chan map[string]bool

	// Done, if non-nil, is closed (after Err is set) once the actor has
	// fully processed this command. Synchronous callers (tests, the RPC
	// surface) can wait on it instead of racing the event stream.
	Done chan error
}

// reply closes cmd.Done with err, if the caller supplied a channel.
func (c AppCommand) reply(err error) {
	if c.Done == nil {
		return
	}
	c.Done <- err
	close(c.Done)
}
