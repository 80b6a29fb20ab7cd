package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
	"github.com/spf13/cobra"
)

var (
	runModel        string
	runAgent        string
	runContinue     bool
	runSession      string
	runFormat       string
	runFiles        []string
	runTitle        string
	runPrompt       string
	runPromptFile   string
	runPromptInline string
	runDir          string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Start an interactive OpenCode session",
	Long: `Start an interactive OpenCode session with the specified message.

Examples:
  opencode run "Fix the bug in main.go"
  opencode run --model anthropic/claude-sonnet-4 "Explain this code"
  opencode run --continue  # Continue last session
  opencode run --file main.go "Review this file"`,
	RunE: runInteractive,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Custom prompt template")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Custom prompt from file")
	runCmd.Flags().StringVar(&runPromptInline, "prompt-inline", "", "Custom prompt as inline text")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	if runModel != "" {
		appConfig.Model = runModel
	}

	message := strings.Join(args, " ")
	if message == "" && !runContinue && runSession == "" {
		return fmt.Errorf("message required. Usage: opencode run \"your message\"")
	}

	ctx := context.Background()

	store := sessionstore.NewFileStore(config.StorePath(appConfig))

	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	toolReg := tool.DefaultRegistry(workDir, nil)
	permChecker := permission.NewChecker()

	var systemPrompt string
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		systemPrompt = string(data)
	} else if runPromptInline != "" {
		systemPrompt = runPromptInline
	} else if runPrompt != "" {
		if data, err := os.ReadFile(runPrompt); err == nil {
			systemPrompt = string(data)
		} else {
			systemPrompt = runPrompt
		}
	}

	var fileContent strings.Builder
	for _, file := range runFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", file, err)
		}
		fileContent.WriteString(fmt.Sprintf("\n\n--- File: %s ---\n%s", file, string(content)))
	}
	if fileContent.Len() > 0 {
		message = message + fileContent.String()
	}

	agentName := runAgent
	if agentName == "" {
		agentName = "default"
	}
	agentCfg := session.DefaultAgent()
	agentCfg.Name = agentName
	agentCfg.Prompt = systemPrompt

	managerCfg := config.SessionManagerConfig(appConfig)
	if runModel != "" {
		if providerID, modelID, ok := strings.Cut(runModel, "/"); ok {
			managerCfg.DefaultModel = types.ModelRef{ProviderID: providerID, ModelID: modelID}
		}
	}
	sessionMgr := session.NewSessionManager(store, managerCfg, providerReg, toolReg, permChecker, agentCfg)

	sessionID, err := resolveSessionID(ctx, sessionMgr, store, workDir)
	if err != nil {
		return err
	}

	rx, err := sessionMgr.TakeEventReceiver(sessionID)
	if err != nil {
		return fmt.Errorf("failed to attach to session: %w", err)
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for se := range rx {
			if se.Event.Kind == types.StreamEventMessagePart && se.Event.Delta != "" {
				fmt.Print(se.Event.Delta)
			}
		}
	}()

	fmt.Printf("Starting session %s...\n", sessionID)
	fmt.Printf("Model: %s\n", appConfig.Model)
	fmt.Printf("Message: %s\n\n", truncate(message, 100))

	done := make(chan error, 1)
	if err := sessionMgr.SendCommand(sessionID, session.AppCommand{
		Kind: session.CommandProcessUserInput,
		Text: message,
		Done: done,
	}); err != nil {
		return fmt.Errorf("processing error: %w", err)
	}
	processErr := <-done

	sessionMgr.SuspendSession(ctx, sessionID)
	<-drained
	fmt.Println()

	if processErr != nil {
		return fmt.Errorf("processing error: %w", processErr)
	}
	return nil
}

// resolveSessionID honors --session/--continue the way the old raw-storage
// scan did, creating a fresh session through the manager when neither flag
// selects an existing one.
func resolveSessionID(ctx context.Context, mgr *session.SessionManager, store sessionstore.Store, workDir string) (string, error) {
	if runSession != "" {
		if _, err := mgr.ResumeSession(ctx, runSession); err != nil {
			return "", fmt.Errorf("session not found: %s", runSession)
		}
		return runSession, nil
	}

	if runContinue {
		sessions, err := store.ListSessions(ctx, sessionstore.ListFilter{
			OrderBy:   sessionstore.OrderByUpdatedAt,
			Direction: sessionstore.Descending,
			Limit:     1,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) > 0 {
			if _, err := mgr.ResumeSession(ctx, sessions[0].ID); err != nil {
				return "", fmt.Errorf("failed to resume session: %w", err)
			}
			return sessions[0].ID, nil
		}
	}

	cfg := types.SessionConfig{
		Workspace: types.WorkspaceConfig{
			Kind: types.WorkspaceLocal,
			Path: workDir,
		},
	}
	id, _, err := mgr.CreateSession(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if runTitle != "" {
		if sess, err := store.GetSession(ctx, id); err == nil {
			sess.Title = runTitle
			_ = store.UpdateSession(ctx, sess)
		}
	}

	return id, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
