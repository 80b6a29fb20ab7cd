// Package session provides comprehensive session management functionality for the OpenCode AI assistant.
//
// This package implements the core session lifecycle, message processing, and agentic loop
// that powers OpenCode's AI-driven code assistance capabilities. It manages conversations
// between users and AI agents, handles tool execution, and maintains session state across
// multiple interactions.
//
// # Architecture Overview
//
// The session package is built around several key components:
//
//   - SessionManager: owns the pool of active App actors, enforcing the
//     concurrency cap and routing commands/events to the right one
//   - App: a single session's actor loop - the core AI reasoning cycle,
//     one goroutine per active session reading from a command channel
//   - Agent: Configurable AI agent profiles with different capabilities and permissions
//   - Tools: Integration with the tool registry for code manipulation and execution
//   - sessionstore.Store: Persistent storage of sessions, messages, and conversation history
//
// # Core Components
//
// ## SessionManager
//
// SessionManager provides the main API for session lifecycle management:
//
//	mgr := session.NewSessionManager(store, session.ManagerConfig{
//		MaxConcurrentSessions: 10,
//		AutoPersist:           true,
//	}, providerReg, toolReg, permChecker, session.DefaultAgent())
//
//	// Create a new session and start its actor
//	id, managed, err := mgr.CreateSession(ctx, types.SessionConfig{...})
//
//	// Resume a suspended session
//	managed, err := mgr.ResumeSession(ctx, id)
//
// ## App
//
// The App actor handles the agentic loop for a single session. All of its
// state is only ever touched from the one goroutine running App.Run;
// everything else talks to it by sending an AppCommand over a channel and
// waiting on the command's Done channel:
//
//	done := make(chan error, 1)
//	err := mgr.SendCommand(sessionID, session.AppCommand{
//		Kind: session.CommandProcessUserInput,
//		Text: "Refactor this function",
//		Done: done,
//	})
//	err = <-done
//
// The actor manages:
//   - LLM streaming and response processing
//   - Tool call execution with permission checking
//   - Context management and compaction
//   - Error handling and retries with exponential backoff
//   - StreamEvent delivery to every subscriber of the session
//
// ## Agents
//
// Agents define AI behavior profiles with different capabilities:
//
//	// Default general-purpose agent
//	agent := session.DefaultAgent()
//
//	// Code-focused agent with write permissions
//	codeAgent := session.CodeAgent()
//
//	// Planning agent without file modification capabilities
//	planAgent := session.PlanAgent()
//
// Agent configuration includes:
//   - System prompts and personality
//   - Temperature and sampling parameters
//   - Tool access permissions
//   - Safety policies (doom loop detection, permission requirements)
//
// Note one SessionManager is constructed with exactly one default *Agent;
// there is no per-session agent override at CreateSession time. Callers
// that need a different agent per task (internal/executor's subagent
// runs, for instance) construct their own short-lived SessionManager
// against the same store instead.
//
// # Message Processing Flow
//
// The typical message processing flow follows these steps:
//
//  1. SendCommand dispatches a CommandProcessUserInput to the session's App
//  2. App appends the user message and builds LLM context from history
//  3. System prompt is constructed based on agent configuration
//  4. LLM generates streaming response with potential tool calls
//  5. Tools are executed with permission checking
//  6. Results are fed back to the LLM for continued reasoning
//  7. Process repeats until completion or step limit reached
//  8. Final response is persisted and StreamEvents delivered to subscribers
//
// # Tool Integration
//
// The session package integrates tightly with the tool system. Tool calls
// the LLM requests are dispatched through the tool registry, with each
// call's lifecycle surfaced as StreamEventToolCallStarted /
// StreamEventToolCallCompleted / StreamEventToolCallFailed.
//
// Tool execution includes:
//   - Permission validation based on agent policies
//   - Doom loop detection for repeated identical calls
//   - Real-time progress updates via StreamEvents
//   - Error handling and graceful degradation
//
// # Context Management
//
// The package implements intelligent context management:
//
//   - Automatic message compaction when context limits are approached
//   - Conversation summarization to preserve key information
//   - Token counting and optimization
//   - Configurable retention policies
//
// # Event System
//
// Real-time events are published throughout the processing lifecycle as
// types.StreamEvent values, delivered per-session over the channel handed
// out by SessionManager.TakeEventReceiver (or the process-wide
// SessionManager.Broadcast channel):
//
//	types.StreamEventMessagePart      // streaming text delta
//	types.StreamEventMessageComplete  // assistant message finished
//	types.StreamEventToolCallStarted  // tool call dispatched
//	types.StreamEventOperationCompleted
//
// Older, unrelated parts of the server (SSE routes not backed by
// SessionManager) still use the process-wide internal/event bus; the two
// are independent of one another.
//
// # Permission System
//
// Fine-grained permission control is enforced:
//
//   - Tool-level permissions (allow/deny/ask)
//   - File system access controls
//   - Shell command execution policies
//   - Doom loop prevention
//
// # Storage and Persistence
//
// Sessions, messages, and events are persisted through the
// internal/sessionstore.Store interface (MemStore for ephemeral runs,
// FileStore for durability across restarts). Each session's event
// translator appends messages, tool calls, and events to the store as the
// App actor emits them. ManagerConfig.AutoPersist only governs whether the
// manager's own lifecycle events (created, resumed, saved) also write their
// sequence number into the session's State.LastEventSequence.
//
// # Error Handling
//
// Robust error handling is implemented throughout:
//
//   - Exponential backoff for LLM API failures
//   - Graceful degradation when tools fail
//   - Context cancellation support
//   - Detailed error propagation and logging
//
// # Usage Examples
//
// ## Basic Session Creation
//
//	mgr := session.NewSessionManager(
//		store, session.ManagerConfig{MaxConcurrentSessions: 10, AutoPersist: true},
//		providerReg, toolReg, permChecker, session.DefaultAgent(),
//	)
//
//	id, managed, err := mgr.CreateSession(ctx, types.SessionConfig{
//		Workspace: types.WorkspaceConfig{Kind: types.WorkspaceLocal, Path: "/home/user/project"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Processing User Input
//
//	rx, err := mgr.TakeEventReceiver(id)
//	go func() {
//		for ev := range rx {
//			fmt.Printf("event: %v\n", ev.Event.Kind)
//		}
//	}()
//
//	done := make(chan error, 1)
//	err = mgr.SendCommand(id, session.AppCommand{
//		Kind: session.CommandProcessUserInput,
//		Text: "Refactor this function",
//		Done: done,
//	})
//	err = <-done
//
// ## Custom Agent Configuration
//
//	agent := &session.Agent{
//		Name:        "security-reviewer",
//		Temperature: 0.2,
//		MaxSteps:    20,
//		Prompt:      "You are a security-focused code reviewer...",
//		Tools:       []string{"read", "grep"},  // Read-only tools
//		Permission: session.AgentPermission{
//			Write: "deny",
//			Bash:  "deny",
//		},
//	}
//
// ## Session Management
//
//	// List sessions known to the store
//	sessions, err := store.ListSessions(ctx, sessionstore.ListFilter{})
//
//	// Suspend a session, freeing its actor slot
//	ok := mgr.SuspendSession(ctx, id)
//
//	// Resume it again later
//	managed, err := mgr.ResumeSession(ctx, id)
//
//	// Delete a session entirely
//	ok = mgr.DeleteSession(ctx, id)
//
// # Thread Safety
//
// The session package is designed for concurrent use:
//   - SessionManager methods are safe to call concurrently
//   - Each App actor processes exactly one command at a time from its own goroutine
//   - Proper synchronization prevents race conditions
//   - Context cancellation is respected throughout
//
// # Performance Considerations
//
//   - Streaming responses minimize latency
//   - Context compaction prevents memory bloat
//   - Efficient storage access patterns
//   - Configurable retry policies balance reliability and speed
//
// # Integration Points
//
// The session package integrates with several other OpenCode components:
//
//   - internal/provider: LLM provider abstraction
//   - internal/tool: Tool execution framework
//   - internal/sessionstore: Persistent session/message/event storage
//   - internal/permission: Access control and security
//   - internal/servicehost: idle-sweep and graceful shutdown around the manager
//   - pkg/types: Shared type definitions
//
// This package forms the core of OpenCode's conversational AI capabilities,
// providing a robust foundation for AI-assisted software development workflows.
package session
