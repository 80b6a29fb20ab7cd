package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/graph"
	"github.com/opencode-ai/opencode/internal/idgen"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// App is the per-session actor: the single consumer of its command channel,
// driving the LLM/tool loop and emitting AppEvents for the translator to
// durably record. Exactly one App exists per live session.
type App struct {
	sessionID string
	agent     *Agent
	graph     *graph.Graph
	toolCalls *ToolCallRegistry

	providers *provider.Registry
	tools     *tool.Registry
	perm      *permission.Checker
	store     sessionstore.Store
	doomLoop  *permission.DoomLoopDetector

	model types.ModelRef

	approvedTools map[string]bool
	threadID      string
	titled        bool

	cmdCh    chan AppCommand
	outCh    chan<- types.AppEvent
	cancelCh chan struct{}

	log zerolog.Logger
}

// newApp constructs an actor for sessionID. cmdCh and outCh are created by
// the owning ManagedSession per §4.2 step 1-2. store gives the actor the
// read/write access to session-level state (title, summary) that the
// conversation loop itself decides to update, the way the teacher's
// Processor owned title generation and compaction against its own storage.
func newApp(sessionID string, agent *Agent, model types.ModelRef, providers *provider.Registry, tools *tool.Registry, perm *permission.Checker, store sessionstore.Store, cmdCh chan AppCommand, outCh chan<- types.AppEvent) *App {
	return &App{
		sessionID:     sessionID,
		agent:         agent,
		graph:         graph.New(),
		toolCalls:     NewToolCallRegistry(),
		providers:     providers,
		tools:         tools,
		perm:          perm,
		store:         store,
		doomLoop:      permission.NewDoomLoopDetector(),
		model:         model,
		approvedTools: make(map[string]bool),
		cmdCh:         cmdCh,
		outCh:         outCh,
		cancelCh:      make(chan struct{}, 1),
		log:           logging.With().Str("session_id", sessionID).Logger(),
	}
}

// Run is the actor's goroutine body: the sole consumer of cmdCh until a
// Shutdown command is processed, at which point outCh is closed so the
// translator's loop terminates too.
func (a *App) Run(ctx context.Context) {
	defer close(a.outCh)
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("session actor panicked")
		}
	}()

	for {
		cmd, ok := <-a.cmdCh
		if !ok {
			return
		}
		if cmd.Kind == CommandShutdown {
			cmd.reply(nil)
			return
		}
		a.handle(ctx, cmd)
	}
}

func (a *App) handle(ctx context.Context, cmd AppCommand) {
	var err error
	switch cmd.Kind {
	case CommandProcessUserInput:
		err = a.processUserInput(ctx, cmd.Text)
	case CommandExecuteBash:
		err = a.executeBashCommand(cmd.BashCommand)
	case CommandExecuteSlash:
		err = a.executeSlashCommand(cmd.SlashCommand)
	case CommandHandleToolResponse:
		err = a.handleToolResponse(cmd.ApprovalRequestID, cmd.Approved, cmd.Always)
	case CommandRestoreConversation:
		err = a.restoreConversation(cmd.RestoreMessages, cmd.RestoreApprovedTools)
	case CommandEditMessage:
		err = a.editMessage(cmd.MessageID, cmd.NewContent)
	case CommandCancelProcessing:
		a.requestCancel()
	case CommandSnapshotApprovedTools:
		if cmd.ApprovedToolsResult != nil {
			snapshot := make(map[string]bool, len(a.approvedTools))
			for k, v := range a.approvedTools {
				snapshot[k] = v
			}
			cmd.ApprovedToolsResult <- snapshot
		}
	default:
		err = fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
	cmd.reply(err)
}

func (a *App) requestCancel() {
	select {
	case a.cancelCh <- struct{}{}:
	default:
	}
}

func (a *App) checkCancelled() bool {
	select {
	case <-a.cancelCh:
		return true
	default:
		return false
	}
}

func (a *App) emit(ev types.AppEvent) {
	a.outCh <- ev
}

func newMessageID(prefix string) string {
	return idgen.NewPrefixed(prefix)
}

func (a *App) ensureThread() string {
	if a.threadID == "" {
		a.threadID = idgen.New()
	}
	return a.threadID
}

// restoreConversation seeds the actor's in-memory graph from persisted
// state. Per §6 it emits no stream events.
func (a *App) restoreConversation(messages []types.Message, approved map[string]bool) error {
	a.graph.Clear()
	for _, m := range messages {
		if m.ThreadID != "" {
			a.threadID = m.ThreadID
		}
		if err := a.graph.AddMessage(m); err != nil {
			return err
		}
	}
	a.toolCalls.Seed(messages)
	if approved == nil {
		approved = make(map[string]bool)
	}
	a.approvedTools = approved
	return nil
}

// executeBashCommand appends a User CommandExecution message without
// invoking the LLM.
func (a *App) executeBashCommand(command string) error {
	msg := types.Message{
		ID:               newMessageID("msg"),
		SessionID:        a.sessionID,
		Role:             types.RoleUser,
		ThreadID:         a.ensureThread(),
		ParentMessageID:  a.graph.ActiveMessageID(),
		CommandExecution: &types.CommandExecution{Command: command},
	}
	if err := a.graph.AddMessage(msg); err != nil {
		return err
	}
	a.emit(types.AppEvent{Kind: types.AppEventMessageAdded, Message: &msg})
	return nil
}

// executeSlashCommand interprets a slash command such as "/model X".
func (a *App) executeSlashCommand(raw string) error {
	var providerID, modelID string
	n, _ := fmt.Sscanf(raw, "/model %s", &modelID)
	if n == 1 {
		a.model = types.ModelRef{ProviderID: providerID, ModelID: modelID}
		a.emit(types.AppEvent{Kind: types.AppEventModelChanged, NewModel: &a.model})
		return nil
	}
	a.emit(types.AppEvent{Kind: types.AppEventCommandResponse, ResponseText: "unrecognised command: " + raw})
	return nil
}

// handleToolResponse resolves a pending approval request raised by Ask.
func (a *App) handleToolResponse(requestID string, approved, always bool) error {
	action := "reject"
	if approved {
		action = "once"
		if always {
			action = "always"
		}
	}
	if a.perm != nil {
		a.perm.Respond(requestID, action)
	}
	return nil
}

// editMessage branches the message graph at messageID; the new message
// becomes the active head.
func (a *App) editMessage(messageID, newContent string) error {
	newID := newMessageID("msg")
	branch, err := a.graph.EditMessage(messageID, newID, func(m *types.Message) {
		m.Text = newContent
		m.Time = types.MessageTime{}
	})
	if err != nil {
		return err
	}
	a.emit(types.AppEvent{Kind: types.AppEventMessageAdded, Message: &branch})
	return nil
}

// MaxSteps bounds the agent loop when the session's Agent sets no MaxSteps
// of its own; it matches DefaultAgent's limit.
const MaxSteps = 50

// newRetryBackoff is the retry policy for opening a completion stream:
// exponential backoff that stops once ctx is cancelled.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
}

// processUserInput appends the user's message, then drives the agent loop:
// call the model, execute any requested tools, repeat until the model
// produces a final answer with no further tool calls or the step limit (the
// agent's MaxSteps, or MaxSteps when that is unset) is reached.
func (a *App) processUserInput(ctx context.Context, text string) error {
	userMsg := types.Message{
		ID:              newMessageID("msg"),
		SessionID:       a.sessionID,
		Role:            types.RoleUser,
		ThreadID:        a.ensureThread(),
		ParentMessageID: a.graph.ActiveMessageID(),
		Text:            text,
	}
	if err := a.graph.AddMessage(userMsg); err != nil {
		return err
	}
	a.emit(types.AppEvent{Kind: types.AppEventMessageAdded, Message: &userMsg})
	a.maybeGenerateTitle(ctx, text)

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxSteps := MaxSteps
	if a.agent != nil && a.agent.MaxSteps > 0 {
		maxSteps = a.agent.MaxSteps
	}

	for step := 0; step < maxSteps; step++ {
		if a.checkCancelled() {
			a.emit(types.AppEvent{Kind: types.AppEventOperationCancelled, Reason: "cancelled"})
			return nil
		}

		a.maybeCompact(ctx)

		assistantMsg, err := a.callModel(opCtx)
		if err != nil {
			a.emit(types.AppEvent{Kind: types.AppEventError, ErrorMessage: err.Error()})
			return nil
		}
		if err := a.graph.AddMessage(*assistantMsg); err != nil {
			return err
		}
		a.emit(types.AppEvent{Kind: types.AppEventMessageAdded, Message: assistantMsg, Model: &a.model})

		if len(assistantMsg.ToolCalls) == 0 {
			return nil // final answer
		}

		for _, tc := range assistantMsg.ToolCalls {
			a.toolCalls.Register(tc, assistantMsg.ID)
			a.emit(types.AppEvent{Kind: types.AppEventToolCallStarted, ToolCallID: tc.ID, ToolCallName: tc.Name})

			if a.checkCancelled() {
				a.failToolCall(tc.ID, "cancelled")
				a.emit(types.AppEvent{Kind: types.AppEventOperationCancelled, Reason: "cancelled"})
				return nil
			}

			result, err := a.executeTool(opCtx, tc)
			if err != nil {
				a.failToolCall(tc.ID, err.Error())
				continue
			}
			a.completeToolCall(tc.ID, result)
		}
	}
	a.emit(types.AppEvent{Kind: types.AppEventError, ErrorMessage: "maximum agent steps exceeded"})
	return nil
}

// synthesizeToolMessage mirrors the translator's derived-state synthesis
// (§4.3.1) inside the actor's own in-memory graph, so the next model call
// sees the tool result in its context without waiting on a store round
// trip. Both sides compute the identical id and inherit thread/parent from
// the most recent message, so the two copies never diverge.
func (a *App) synthesizeToolMessage(toolCallID string, result types.ToolResult) types.Message {
	parent := a.graph.ActiveMessageID()
	thread := a.threadID
	if thread == "" {
		thread = a.ensureThread()
	}
	msg := types.Message{
		ID:              "tool_result_" + toolCallID,
		SessionID:       a.sessionID,
		Role:            types.RoleTool,
		ThreadID:        thread,
		ParentMessageID: parent,
		ToolUseID:       toolCallID,
		Result:          &result,
	}
	_ = a.graph.AddMessage(msg) // id collision impossible: one synthesis per tool call
	return msg
}

func (a *App) completeToolCall(toolCallID string, result types.ToolResult) {
	a.toolCalls.SetResult(toolCallID, result)
	a.synthesizeToolMessage(toolCallID, result)
	a.emit(types.AppEvent{Kind: types.AppEventToolCallCompleted, ToolCallID: toolCallID, Result: &result})
}

func (a *App) failToolCall(toolCallID, message string) {
	result := types.NewErrorResult(message)
	a.toolCalls.SetResult(toolCallID, result)
	a.synthesizeToolMessage(toolCallID, result)
	a.emit(types.AppEvent{Kind: types.AppEventToolCallFailed, ToolCallID: toolCallID, ToolError: message})
}

// executeTool checks permission and doom-loop policy, dispatches to the
// tool registry, converts the tool Result into a ToolResult, and records
// any before/after file diff the tool reported onto the session summary.
func (a *App) executeTool(ctx context.Context, tc types.ToolCall) (types.ToolResult, error) {
	if a.perm != nil && !a.approvedTools[tc.Name] && !a.perm.IsApproved(a.sessionID, permission.PermissionType(tc.Name)) {
		req := permission.Request{SessionID: a.sessionID, Type: permission.PermissionType(tc.Name), CallID: tc.ID, Title: tc.Name}
		if err := a.perm.Check(ctx, req, permission.ActionAsk); err != nil {
			return types.ToolResult{}, err
		}
		// An "always" response leaves the tool approved in the checker; fold
		// that into the session's approved tools so it is persisted.
		if a.perm.IsApproved(a.sessionID, permission.PermissionType(tc.Name)) {
			a.approvedTools[tc.Name] = true
		}
	}

	if err := a.checkDoomLoop(ctx, tc); err != nil {
		return types.ToolResult{}, err
	}

	t, ok := a.tools.Get(tc.Name)
	if !ok {
		return types.ToolResult{}, fmt.Errorf("unknown tool %q", tc.Name)
	}

	input, err := json.Marshal(tc.Parameters)
	if err != nil {
		return types.ToolResult{}, err
	}

	toolCtx := &tool.Context{SessionID: a.sessionID, CallID: tc.ID, WorkDir: "", AbortCh: ctx.Done()}
	res, err := t.Execute(ctx, input, toolCtx)
	if err != nil {
		return types.ToolResult{}, err
	}
	if res.Error != nil {
		return types.NewErrorResult(res.Error.Error()), nil
	}

	if diff, ok := a.recordDiff(ctx, res.Metadata); ok {
		return types.ToolResult{Kind: types.ToolResultEdit, Diff: diff, Summary: res.Output, Payload: res.Metadata}, nil
	}
	return types.ToolResult{Kind: types.ToolResultExternal, Summary: res.Output, Payload: res.Metadata}, nil
}

// checkDoomLoop applies the agent's doom-loop policy once the same tool has
// been called with identical input DoomLoopThreshold times in a row.
func (a *App) checkDoomLoop(ctx context.Context, tc types.ToolCall) error {
	if !a.doomLoop.Check(a.sessionID, tc.Name, tc.Parameters) {
		return nil
	}

	policy := "ask"
	if a.agent != nil && a.agent.Permission.DoomLoop != "" {
		policy = a.agent.Permission.DoomLoop
	}

	switch policy {
	case "allow":
		return nil
	case "deny":
		return fmt.Errorf("doom loop detected: %s called %d times with identical input", tc.Name, permission.DoomLoopThreshold)
	default: // "ask"
		if a.perm == nil {
			return nil
		}
		req := permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{tc.Name},
			SessionID: a.sessionID,
			CallID:    tc.ID,
			Title:     fmt.Sprintf("Allow repeated %s call?", tc.Name),
		}
		return a.perm.Ask(ctx, req)
	}
}

// recordDiff computes and persists a file diff when a tool's metadata
// reports the file/before/after triple edit-like tools populate, mirroring
// the teacher's Processor.recordDiff against the session's SessionSummary.
func (a *App) recordDiff(ctx context.Context, metadata map[string]any) (string, bool) {
	if metadata == nil || a.store == nil {
		return "", false
	}
	file, ok := metadata["file"].(string)
	if !ok || file == "" {
		return "", false
	}
	before, okBefore := metadata["before"].(string)
	after, okAfter := metadata["after"].(string)
	if !okBefore || !okAfter {
		return "", false
	}

	diffText, additions, deletions := computeDiff(before, after, file)

	sess, err := a.store.GetSession(ctx, a.sessionID)
	if err != nil {
		return diffText, true
	}
	fileDiff := types.FileDiff{File: file, Additions: additions, Deletions: deletions, Before: before, After: after}

	filtered := make([]types.FileDiff, 0, len(sess.Summary.Diffs)+1)
	for _, d := range sess.Summary.Diffs {
		if d.File != file {
			filtered = append(filtered, d)
		}
	}
	filtered = append(filtered, fileDiff)
	sess.Summary.Diffs = filtered

	adds, dels := 0, 0
	for _, d := range sess.Summary.Diffs {
		adds += d.Additions
		dels += d.Deletions
	}
	sess.Summary.Additions = adds
	sess.Summary.Deletions = dels
	sess.Summary.Files = len(sess.Summary.Diffs)

	_ = a.store.UpdateSession(ctx, sess)
	return diffText, true
}

// callModel builds the active thread as provider messages, invokes the
// configured Provider with retry/backoff, and accumulates the streamed
// response into a single Assistant message.
func (a *App) callModel(ctx context.Context) (*types.Message, error) {
	p, err := a.providers.Get(a.model.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", a.model.ProviderID, err)
	}

	messages := convertThreadToSchema(a.graph.GetActiveThread())
	if prompt := a.buildSystemPrompt(ctx); prompt != "" {
		messages = append([]*schema.Message{{Role: schema.System, Content: prompt}}, messages...)
	}

	var toolInfos []*schema.ToolInfo
	if a.tools != nil {
		toolInfos, _ = a.tools.ToolInfos()
	}

	req := &provider.CompletionRequest{Model: a.model.ModelID, Messages: messages, Tools: toolInfos}
	if a.agent != nil {
		req.Temperature = a.agent.Temperature
		req.TopP = a.agent.TopP
	}

	var stream *provider.CompletionStream
	op := func() error {
		s, err := p.CreateCompletion(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}
	if err := backoff.Retry(op, newRetryBackoff(ctx)); err != nil {
		return nil, err
	}
	defer stream.Close()

	assistant := &types.Message{
		ID:              newMessageID("msg"),
		SessionID:       a.sessionID,
		Role:            types.RoleAssistant,
		ThreadID:        a.ensureThread(),
		ParentMessageID: a.graph.ActiveMessageID(),
		ModelID:         a.model.ModelID,
		ProviderID:      a.model.ProviderID,
	}

	for {
		chunk, err := stream.Recv()
		if err != nil {
			break // EOF or stream closed: treat as end of response
		}
		if chunk.Content != "" {
			assistant.Text += chunk.Content
			a.emit(types.AppEvent{Kind: types.AppEventMessagePart, MessageID: assistant.ID, Delta: chunk.Content})
		}
		for _, tc := range chunk.ToolCalls {
			var params map[string]any
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &params)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, types.ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Parameters: params,
			})
		}
	}

	return assistant, nil
}

// buildSystemPrompt assembles the full system prompt via SystemPrompt,
// falling back to the agent's bare base prompt if the session record can't
// be loaded (e.g. a store error, or store is nil in a unit test that
// constructs an App directly).
func (a *App) buildSystemPrompt(ctx context.Context) string {
	var sess *types.Session
	if a.store != nil {
		if s, err := a.store.GetSession(ctx, a.sessionID); err == nil {
			sess = &s
		}
	}
	if sess == nil {
		if a.agent != nil {
			return a.agent.Prompt
		}
		return ""
	}
	return NewSystemPrompt(sess, a.agent, a.model.ProviderID, a.model.ModelID).Build()
}

// convertThreadToSchema renders the active thread as eino schema messages,
// the format the Provider interface consumes.
func convertThreadToSchema(thread []types.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(thread))
	for _, m := range thread {
		switch m.Role {
		case types.RoleUser:
			text := m.Text
			if m.CommandExecution != nil {
				text = fmt.Sprintf("$ %s\n%s", m.CommandExecution.Command, m.CommandExecution.Stdout)
			}
			out = append(out, &schema.Message{Role: schema.User, Content: text})
		case types.RoleAssistant:
			msg := &schema.Message{Role: schema.Assistant, Content: m.Text}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Parameters)
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID: tc.ID,
					Function: schema.FunctionCall{Name: tc.Name, Arguments: string(args)},
				})
			}
			out = append(out, msg)
		case types.RoleTool:
			content := ""
			if m.Result != nil {
				content = m.Result.Output()
			}
			out = append(out, &schema.Message{Role: schema.Tool, Content: content, ToolCallID: m.ToolUseID})
		}
	}
	return out
}
