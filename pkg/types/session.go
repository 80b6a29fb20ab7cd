// Package types provides the core data types for the OpenCode server.
package types

// Session represents a conversation session with the LLM.
//
// Config and State are the durable contract the runtime depends on: Config
// is set at creation and rarely mutated; State (messages, approved tools,
// last persisted sequence) is what a ManagedSession keeps authoritative
// in-memory between suspend points.
type Session struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"projectID"`
	Directory    string          `json:"directory"`
	ParentID     *string         `json:"parentID,omitempty"`
	Title        string          `json:"title"`
	Version      string          `json:"version"`
	Summary      SessionSummary  `json:"summary"`
	Share        *SessionShare   `json:"share,omitempty"`
	Time         SessionTime     `json:"time"`
	Revert       *SessionRevert  `json:"revert,omitempty"`
	CustomPrompt *CustomPrompt   `json:"customPrompt,omitempty"`

	Config SessionConfig `json:"config"`
	State  SessionState  `json:"state"`
}

// SessionConfig is set at session creation and defines the workspace the
// agent operates in, the tool backends it may reach, and its approval
// policy. It is largely immutable after creation.
type SessionConfig struct {
	Workspace      WorkspaceConfig     `json:"workspace"`
	Tools          []ToolBackendConfig `json:"tools,omitempty"`
	ApprovalPolicy ApprovalPolicy      `json:"approvalPolicy"`
	Visibility     Visibility          `json:"visibility"`
	SystemPrompt   *string             `json:"systemPrompt,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

// SessionState is the mutable, frequently-updated half of a Session: the
// message log, the growing set of tools the user has approved, and the
// high-water mark of persisted event sequence numbers.
type SessionState struct {
	Messages          []Message         `json:"messages,omitempty"`
	ApprovedTools     map[string]bool   `json:"approvedTools,omitempty"`
	LastEventSequence uint64            `json:"lastEventSequence"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// WorkspaceKind tags the variant of WorkspaceConfig.
type WorkspaceKind string

const (
	WorkspaceLocal     WorkspaceKind = "local"
	WorkspaceRemote    WorkspaceKind = "remote"
	WorkspaceContainer WorkspaceKind = "container"
)

// ContainerRuntime names a container backend.
type ContainerRuntime string

const (
	RuntimeDocker ContainerRuntime = "docker"
	RuntimePodman ContainerRuntime = "podman"
)

// WorkspaceConfig selects where the agent's tools operate.
type WorkspaceConfig struct {
	Kind WorkspaceKind `json:"kind"`

	// Local
	Path string `json:"path,omitempty"`

	// Remote
	Address string `json:"address,omitempty"`
	Auth    *Auth  `json:"auth,omitempty"`

	// Container
	Image   string           `json:"image,omitempty"`
	Runtime ContainerRuntime `json:"runtime,omitempty"`
}

// AuthKind tags the variant of Auth.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthAPIKey AuthKind = "api_key"
)

// Auth carries credentials for a Remote workspace or tool backend.
type Auth struct {
	Kind  AuthKind `json:"kind"`
	Token string   `json:"token,omitempty"`
	Key   string   `json:"key,omitempty"`
}

// ToolFilterKind tags the variant of ToolFilter.
type ToolFilterKind string

const (
	ToolFilterAll     ToolFilterKind = "all"
	ToolFilterInclude ToolFilterKind = "include"
	ToolFilterExclude ToolFilterKind = "exclude"
)

// ToolFilter restricts which tool names a backend exposes. Include/Exclude
// names may be doublestar glob patterns.
type ToolFilter struct {
	Kind  ToolFilterKind `json:"kind"`
	Names []string       `json:"names,omitempty"`
}

// ToolBackendKind tags the variant of ToolBackendConfig.
type ToolBackendKind string

const (
	ToolBackendLocal     ToolBackendKind = "local"
	ToolBackendRemote    ToolBackendKind = "remote"
	ToolBackendContainer ToolBackendKind = "container"
	ToolBackendMCP       ToolBackendKind = "mcp"
)

// MCPTransport names how a Mcp tool backend's server process communicates.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportSSE   MCPTransport = "sse"
)

// ToolBackendConfig describes one source of tools available to a session.
type ToolBackendConfig struct {
	Kind   ToolBackendKind `json:"kind"`
	Filter ToolFilter      `json:"filter"`

	// Remote
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Auth     *Auth  `json:"auth,omitempty"`

	// Container
	Image   string           `json:"image,omitempty"`
	Runtime ContainerRuntime `json:"runtime,omitempty"`

	// Mcp
	ServerName string       `json:"serverName,omitempty"`
	Transport  MCPTransport `json:"transport,omitempty"`
	Command    string       `json:"command,omitempty"`
	Args       []string     `json:"args,omitempty"`
}

// ApprovalPolicyKind tags the variant of ApprovalPolicy.
type ApprovalPolicyKind string

const (
	ApprovalAlwaysAsk    ApprovalPolicyKind = "always_ask"
	ApprovalPreApproved  ApprovalPolicyKind = "pre_approved"
	ApprovalMixed        ApprovalPolicyKind = "mixed"
)

// ApprovalPolicy governs whether a tool call needs user sign-off.
type ApprovalPolicy struct {
	Kind         ApprovalPolicyKind `json:"kind"`
	PreApproved  []string           `json:"preApproved,omitempty"`
	AskForOthers bool               `json:"askForOthers,omitempty"`
}

// Visibility controls whether a session's tools may mutate the workspace.
type Visibility string

const (
	VisibilityAll      Visibility = "all"
	VisibilityReadOnly Visibility = "read_only"
)

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}

// SessionRevert contains information about session revert state.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}

// CustomPrompt represents a custom system prompt configuration.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}
