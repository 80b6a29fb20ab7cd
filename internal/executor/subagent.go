// Package executor provides task execution implementations.
package executor

import (
	"context"
	"fmt"

	"github.com/opencode-ai/opencode/internal/agent"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// SubagentExecutor implements tool.TaskExecutor to run subagent tasks. Each
// subtask gets its own short-lived SessionManager rather than sharing the
// parent's: SessionManager bakes exactly one *session.Agent in at
// construction, and a subtask's agent config (tools, permissions, prompt)
// almost always differs from the parent session's.
type SubagentExecutor struct {
	store             sessionstore.Store
	providerRegistry  *provider.Registry
	toolRegistry      *tool.Registry
	permissionChecker *permission.Checker
	agentRegistry     *agent.Registry
	workDir           string

	defaultProviderID string
	defaultModelID    string
}

// SubagentExecutorConfig holds configuration for creating a SubagentExecutor.
type SubagentExecutorConfig struct {
	Store             sessionstore.Store
	ProviderRegistry  *provider.Registry
	ToolRegistry      *tool.Registry
	PermissionChecker *permission.Checker
	AgentRegistry     *agent.Registry
	WorkDir           string
	DefaultProviderID string
	DefaultModelID    string
}

// NewSubagentExecutor creates a new SubagentExecutor.
func NewSubagentExecutor(cfg SubagentExecutorConfig) *SubagentExecutor {
	store := cfg.Store
	if store == nil {
		store = sessionstore.NewMemStore()
	}
	return &SubagentExecutor{
		store:             store,
		providerRegistry:  cfg.ProviderRegistry,
		toolRegistry:      cfg.ToolRegistry,
		permissionChecker: cfg.PermissionChecker,
		agentRegistry:     cfg.AgentRegistry,
		workDir:           cfg.WorkDir,
		defaultProviderID: cfg.DefaultProviderID,
		defaultModelID:    cfg.DefaultModelID,
	}
}

// ExecuteSubtask implements tool.TaskExecutor.ExecuteSubtask. It creates a
// child session parented to parentSessionID, runs the subagent to
// completion synchronously, and returns its final assistant message.
func (e *SubagentExecutor) ExecuteSubtask(
	ctx context.Context,
	parentSessionID string,
	agentName string,
	prompt string,
	opts tool.TaskOptions,
) (*tool.TaskResult, error) {
	agentConfig, err := e.agentRegistry.Get(agentName)
	if err != nil {
		return nil, fmt.Errorf("agent not found: %s: %w", agentName, err)
	}
	if !agentConfig.IsSubagent() {
		return nil, fmt.Errorf("agent %s cannot be used as subagent (mode: %s)", agentName, agentConfig.Mode)
	}

	sessionAgent := convertToSessionAgent(agentConfig)
	providerID, modelID := e.resolveModel(opts.Model)

	mgr := session.NewSessionManager(
		e.store,
		session.ManagerConfig{
			MaxConcurrentSessions: 1,
			DefaultModel:          types.ModelRef{ProviderID: providerID, ModelID: modelID},
			AutoPersist:           true,
		},
		e.providerRegistry,
		e.toolRegistry,
		e.permissionChecker,
		sessionAgent,
	)

	childID, err := e.createChildSession(ctx, mgr, parentSessionID, agentName)
	if err != nil {
		return nil, fmt.Errorf("failed to create child session: %w", err)
	}

	done := make(chan error, 1)
	if err := mgr.SendCommand(childID, session.AppCommand{
		Kind: session.CommandProcessUserInput,
		Text: prompt,
		Done: done,
	}); err != nil {
		return nil, fmt.Errorf("failed to dispatch subtask: %w", err)
	}
	runErr := <-done
	mgr.SuspendSession(ctx, childID)

	if runErr != nil {
		return &tool.TaskResult{
			Output:    fmt.Sprintf("Error executing subtask: %s", runErr.Error()),
			SessionID: childID,
			Error:     runErr.Error(),
			Metadata: map[string]any{
				"parentSessionID": parentSessionID,
			},
		}, nil
	}

	output, assistantMessageID := e.finalAssistantMessage(ctx, childID)

	return &tool.TaskResult{
		Output:    output,
		SessionID: childID,
		AgentID:   agentName,
		Metadata: map[string]any{
			"parentSessionID":    parentSessionID,
			"assistantMessageID": assistantMessageID,
		},
	}, nil
}

// createChildSession creates a new session as a child of the parent
// session, inheriting its working directory when the parent can be found.
func (e *SubagentExecutor) createChildSession(ctx context.Context, mgr *session.SessionManager, parentSessionID, agentName string) (string, error) {
	directory := e.workDir
	if parent, err := e.store.GetSession(ctx, parentSessionID); err == nil {
		directory = parent.Directory
	}

	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{
		Workspace: types.WorkspaceConfig{
			Kind: types.WorkspaceLocal,
			Path: directory,
		},
	})
	if err != nil {
		return "", err
	}

	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	sess.Title = fmt.Sprintf("Subtask: %s", agentName)
	sess.ParentID = &parentSessionID
	sess.Directory = directory
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return "", err
	}

	return id, nil
}

// finalAssistantMessage returns the text of the child session's last
// assistant message, the way the caller consumes the subtask's output.
func (e *SubagentExecutor) finalAssistantMessage(ctx context.Context, sessionID string) (text string, messageID string) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", ""
	}
	for i := len(sess.State.Messages) - 1; i >= 0; i-- {
		msg := sess.State.Messages[i]
		if msg.Role == types.RoleAssistant {
			return msg.Text, msg.ID
		}
	}
	return "", ""
}

// resolveModel resolves provider and model IDs from the options.
func (e *SubagentExecutor) resolveModel(modelOption string) (providerID, modelID string) {
	providerID = e.defaultProviderID
	modelID = e.defaultModelID

	switch modelOption {
	case "sonnet":
		modelID = "claude-sonnet-4-20250514"
	case "opus":
		modelID = "claude-opus-4-20250514"
	case "haiku":
		modelID = "claude-haiku-3-20240307"
	default:
		// Keep defaults
	}

	return providerID, modelID
}

// convertToSessionAgent converts agent.Agent to session.Agent.
func convertToSessionAgent(a *agent.Agent) *session.Agent {
	var enabledTools []string
	var disabledTools []string

	hasWildcard := false
	wildcardEnabled := false

	for tool, enabled := range a.Tools {
		if tool == "*" {
			hasWildcard = true
			wildcardEnabled = enabled
			continue
		}
		if enabled {
			enabledTools = append(enabledTools, tool)
		} else {
			disabledTools = append(disabledTools, tool)
		}
	}

	if hasWildcard && wildcardEnabled {
		enabledTools = nil // Empty means all enabled
	}

	bashPerm := "ask"
	if a.Permission.Bash != nil {
		if action, ok := a.Permission.Bash["*"]; ok {
			bashPerm = string(action)
		}
	}

	writePerm := "ask"
	if a.Permission.Edit != "" {
		writePerm = string(a.Permission.Edit)
	}

	doomLoopPerm := "ask"
	if a.Permission.DoomLoop != "" {
		doomLoopPerm = string(a.Permission.DoomLoop)
	}

	return &session.Agent{
		Name:          a.Name,
		Prompt:        a.Prompt,
		Temperature:   a.Temperature,
		TopP:          a.TopP,
		MaxSteps:      50,
		Tools:         enabledTools,
		DisabledTools: disabledTools,
		Permission: session.AgentPermission{
			DoomLoop: doomLoopPerm,
			Bash:     bashPerm,
			Write:    writePerm,
		},
	}
}
