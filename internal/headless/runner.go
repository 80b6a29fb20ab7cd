package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencode-ai/opencode/internal/agent"
	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/executor"
	"github.com/opencode-ai/opencode/internal/mcp"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// Runner executes prompts in headless mode.
type Runner struct {
	config     *Config
	appConfig  *types.Config
	printer    *Printer
	store      sessionstore.Store
	sessionMgr *session.SessionManager

	providerReg *provider.Registry
	toolReg     *tool.Registry
	agentReg    *agent.Registry
	permChecker *permission.Checker
	mcpClient   *mcp.Client
	unsubAuto   func()

	defaultProviderID string
	defaultModelID    string
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config) *Runner {
	return &Runner{
		config: cfg,
	}
}

// Run executes the headless session and returns the result.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	r.printer = NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)

	if err := r.initialize(ctx); err != nil {
		r.printer.SetResult("error", ExitError, "", err)
		return r.printer.GetResult(), err
	}

	if r.mcpClient != nil {
		defer r.mcpClient.Close()
	}
	if r.unsubAuto != nil {
		defer r.unsubAuto()
	}

	prompt, err := r.getPrompt()
	if err != nil {
		r.printer.SetResult("error", ExitInvalidInput, "", err)
		return r.printer.GetResult(), err
	}
	if prompt == "" {
		err := errors.New("prompt is required")
		r.printer.SetResult("error", ExitInvalidInput, "", err)
		return r.printer.GetResult(), err
	}

	sessionID, err := r.getOrCreateSession(ctx)
	if err != nil {
		r.printer.SetResult("error", ExitSessionNotFound, "", err)
		return r.printer.GetResult(), err
	}
	r.printer.SetSessionID(sessionID)
	r.printer.SetModel(fmt.Sprintf("%s/%s", r.defaultProviderID, r.defaultModelID))

	rx, err := r.sessionMgr.TakeEventReceiver(sessionID)
	if err != nil {
		r.printer.SetResult("error", ExitError, "", err)
		return r.printer.GetResult(), err
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for se := range rx {
			r.printer.HandleStreamEvent(se.Event)
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	cmdErr := r.sessionMgr.SendCommand(sessionID, session.AppCommand{
		Kind: session.CommandProcessUserInput,
		Text: prompt,
		Done: done,
	})

	var runErr error
	if cmdErr != nil {
		runErr = cmdErr
	} else {
		select {
		case runErr = <-done:
		case <-runCtx.Done():
			runErr = runCtx.Err()
		}
	}

	r.sessionMgr.SuspendSession(ctx, sessionID)
	<-drained

	finalMessage, tokens, diffs := r.collectOutcome(ctx, sessionID)
	if tokens != nil {
		r.printer.SetTokens(tokens)
	}

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			r.printer.SetResult("timeout", ExitTimeout, finalMessage, runErr)
			return r.printer.GetResult(), runErr
		}
		if permission.IsRejectedError(runErr) {
			r.printer.SetResult("permission_denied", ExitPermissionDenied, finalMessage, runErr)
			return r.printer.GetResult(), runErr
		}
		r.printer.SetResult("error", ExitError, finalMessage, runErr)
		return r.printer.GetResult(), runErr
	}

	r.printer.SetResult("success", ExitSuccess, finalMessage, nil)
	result := r.printer.GetResult()
	result.Diffs = diffs

	r.printer.PrintFinalResult()

	return result, nil
}

// collectOutcome reads the final assistant message and accumulated diffs
// back from the store once the command loop has completed, since the
// App actor keeps them in its in-memory graph/summary rather than handing
// them back through Done.
func (r *Runner) collectOutcome(ctx context.Context, sessionID string) (string, *types.TokenUsage, []FileDiff) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", nil, nil
	}

	var finalMessage string
	var tokens *types.TokenUsage
	for i := len(sess.State.Messages) - 1; i >= 0; i-- {
		msg := sess.State.Messages[i]
		if msg.Role == types.RoleAssistant {
			finalMessage = msg.Text
			tokens = msg.Tokens
			break
		}
	}

	diffs := make([]FileDiff, 0, len(sess.Summary.Diffs))
	for _, d := range sess.Summary.Diffs {
		diffs = append(diffs, FileDiff{File: d.File,Additions: d.Additions, Deletions: d.Deletions})
	}

	return finalMessage, tokens, diffs
}

// initialize sets up all required components.
func (r *Runner) initialize(ctx context.Context) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("failed to ensure paths: %w", err)
	}

	appConfig, err := config.Load(r.config.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	r.appConfig = appConfig

	if r.config.Model != "" {
		r.appConfig.Model = r.config.Model
	}
	r.parseModel()

	if r.config.NoSave {
		r.store = sessionstore.NewMemStore()
	} else {
		r.store = sessionstore.NewFileStore(config.StorePath(appConfig))
	}

	providerReg, err := provider.InitializeProviders(ctx, r.appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	r.providerReg = providerReg

	r.toolReg = tool.DefaultRegistry(r.config.WorkDir, nil)

	r.agentReg = agent.NewRegistry()
	r.toolReg.RegisterTaskTool(r.agentReg)

	if len(r.appConfig.MCP) > 0 {
		r.mcpClient = mcp.NewClient()
		for name, cfg := range r.appConfig.MCP {
			enabled := cfg.Enabled == nil || *cfg.Enabled
			mcpCfg := &mcp.Config{
				Enabled:     enabled,
				Type:        mcp.TransportType(cfg.Type),
				URL:         cfg.URL,
				Headers:     cfg.Headers,
				Command:     cfg.Command,
				Environment: cfg.Environment,
				Timeout:     cfg.Timeout,
			}
			if err := r.mcpClient.AddServer(ctx, name, mcpCfg); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: MCP server %s failed: %v\n", name, err)
				continue
			}
		}
		mcp.RegisterMCPTools(r.mcpClient, r.toolReg)
	}

	r.permChecker = permission.NewChecker()
	if r.config.AutoApprove {
		r.unsubAuto = enableAutoApprove(r.permChecker, r.config.Verbose)
	}

	subagentExecutor := executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Store:             r.store,
		ProviderRegistry:  r.providerReg,
		ToolRegistry:      r.toolReg,
		PermissionChecker: permission.NewChecker(),
		AgentRegistry:     r.agentReg,
		WorkDir:           r.config.WorkDir,
		DefaultProviderID: r.defaultProviderID,
		DefaultModelID:    r.defaultModelID,
	})
	r.toolReg.SetTaskExecutor(subagentExecutor)

	managerCfg := config.SessionManagerConfig(r.appConfig)
	if managerCfg.DefaultModel.ModelID == "" {
		managerCfg.DefaultModel = types.ModelRef{ProviderID: r.defaultProviderID, ModelID: r.defaultModelID}
	}
	r.sessionMgr = session.NewSessionManager(
		r.store,
		managerCfg,
		r.providerReg,
		r.toolReg,
		r.permChecker,
		r.createAgent(),
	)

	return nil
}

// parseModel parses the model string into provider and model IDs.
func (r *Runner) parseModel() {
	model := r.appConfig.Model
	if model == "" {
		r.defaultProviderID = "anthropic"
		r.defaultModelID = "claude-sonnet-4-20250514"
		return
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) == 2 {
		r.defaultProviderID = parts[0]
		r.defaultModelID = parts[1]
	} else {
		r.defaultProviderID = "anthropic"
		r.defaultModelID = model
	}
}

// getPrompt retrieves the prompt from various sources.
func (r *Runner) getPrompt() (string, error) {
	var prompt string

	if r.config.ReadStdin {
		scanner := bufio.NewScanner(os.Stdin)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		prompt = strings.Join(lines, "\n")
	}

	if r.config.Prompt != "" {
		if prompt != "" {
			prompt = r.config.Prompt + "\n\n" + prompt
		} else {
			prompt = r.config.Prompt
		}
	}

	if len(r.config.Files) > 0 {
		var fileContent strings.Builder
		for _, file := range r.config.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("failed to read file %s: %w", file, err)
			}
			fileContent.WriteString(fmt.Sprintf("\n\n--- File: %s ---\n%s", file, string(content)))
		}
		prompt = prompt + fileContent.String()
	}

	return strings.TrimSpace(prompt), nil
}

// getOrCreateSession gets an existing session or creates a new one, the way
// the teacher's raw-storage scan did, but routed through SessionManager so
// the returned ID always has an active App actor behind it.
func (r *Runner) getOrCreateSession(ctx context.Context) (string, error) {
	if r.config.SessionID != "" {
		if _, err := r.sessionMgr.ResumeSession(ctx, r.config.SessionID); err != nil {
			return "", fmt.Errorf("session not found: %s", r.config.SessionID)
		}
		return r.config.SessionID, nil
	}

	if r.config.ContinueLast {
		sessions, err := r.store.ListSessions(ctx, sessionstore.ListFilter{
			OrderBy:   sessionstore.OrderByUpdatedAt,
			Direction: sessionstore.Descending,
			Limit:     1,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) > 0 {
			if _, err := r.sessionMgr.ResumeSession(ctx, sessions[0].ID); err != nil {
				return "", fmt.Errorf("failed to resume session: %w", err)
			}
			return sessions[0].ID, nil
		}
	}

	return r.createSession(ctx)
}

// createSession creates a new session.
func (r *Runner) createSession(ctx context.Context) (string, error) {
	cfg := types.SessionConfig{
		Workspace: types.WorkspaceConfig{
			Kind: types.WorkspaceLocal,
			Path: r.config.WorkDir,
		},
		ApprovalPolicy: types.ApprovalPolicy{},
	}

	id, _, err := r.sessionMgr.CreateSession(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	title := r.config.Title
	if title == "" {
		title = "Headless Session"
	}
	sess, err := r.store.GetSession(ctx, id)
	if err == nil {
		sess.Title = title
		sess.Directory = r.config.WorkDir
		_ = r.store.UpdateSession(ctx, sess)
	}

	return id, nil
}

// createAgent creates the agent configuration for the session.
func (r *Runner) createAgent() *session.Agent {
	agentCfg := session.DefaultAgent()

	if r.config.Agent != "" {
		agentCfg.Name = r.config.Agent
	}

	if r.config.SystemPrompt != "" {
		data, err := os.ReadFile(r.config.SystemPrompt)
		if err == nil {
			agentCfg.Prompt = string(data)
		}
	}

	if r.config.MaxSteps > 0 {
		agentCfg.MaxSteps = r.config.MaxSteps
	}

	return agentCfg
}
