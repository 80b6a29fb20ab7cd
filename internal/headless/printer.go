package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Printer renders a session's types.StreamEvent stream in various formats
// for headless mode. Unlike the teacher's printer, which subscribed to the
// process-wide internal/event bus, it is fed directly from a single
// session's StreamEventWithMetadata channel (drained by a goroutine in Runner.Run) since
// the session runtime no longer publishes onto that bus.
type Printer struct {
	mu            sync.Mutex
	writer        io.Writer
	format        OutputFormat
	quiet         bool
	verbose       bool
	sessionID     string
	startTime     time.Time
	result        *Result
	toolCalls     []ToolCall
	pendingCalls  map[string]types.ToolCall
	lastTextDelta string
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
		toolCalls:    make([]ToolCall, 0),
		pendingCalls: make(map[string]types.ToolCall),
	}
}

// SetSessionID sets the session ID for the printer.
func (p *Printer) SetSessionID(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	p.result.SessionID = sessionID
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	p.result.ToolCalls = p.toolCalls

	return p.result
}

// SetResult updates the result with final values.
func (p *Printer) SetResult(status string, exitCode ExitCode, finalMessage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = exitCode
	p.result.FinalMessage = finalMessage
	if err != nil {
		p.result.Error = err.Error()
	}
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// SetTokens updates token usage in the result.
func (p *Printer) SetTokens(tokens *types.TokenUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Tokens = tokens
}

// SetModel updates the model in the result.
func (p *Printer) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Model = model
}

// PrintFinalResult prints the final JSON result (for json format).
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}

	result := p.GetResult()
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// HandleStreamEvent processes one session event and outputs it according to
// the configured format.
func (p *Printer) HandleStreamEvent(ev types.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case OutputText:
		p.handleTextEvent(ev)
	case OutputJSON:
		// JSON format only prints the final result, but still tracks events.
		p.trackEvent(ev)
	case OutputJSONL:
		p.handleJSONLEvent(ev)
	}
}

func (p *Printer) handleTextEvent(ev types.StreamEvent) {
	if p.quiet {
		if ev.Kind == types.StreamEventMessagePart && ev.Delta != "" {
			fmt.Fprint(p.writer, ev.Delta)
		}
		return
	}

	switch ev.Kind {
	case types.StreamEventSessionCreated:
		fmt.Fprintf(p.writer, "[session:%s] Starting...\n", truncateID(p.sessionID))

	case types.StreamEventSessionResumed:
		fmt.Fprintf(p.writer, "[session:%s] Resuming...\n", truncateID(p.sessionID))

	case types.StreamEventMessagePart:
		if ev.Delta != "" {
			fmt.Fprint(p.writer, ev.Delta)
			p.lastTextDelta = ev.Delta
		}

	case types.StreamEventMessageComplete:
		if ev.Message != nil && ev.Message.Tokens != nil {
			p.result.Tokens = ev.Message.Tokens
		}

	case types.StreamEventToolCallStarted:
		if ev.ToolCall != nil {
			p.pendingCalls[ev.ToolCall.ID] = *ev.ToolCall
			if info := formatToolInfo(*ev.ToolCall); info != "" {
				fmt.Fprintf(p.writer, "\n[tool:%s] %s\n", ev.ToolCall.Name, info)
			} else if p.verbose {
				fmt.Fprintf(p.writer, "\n[tool:%s] Starting...\n", ev.ToolCall.Name)
			}
		}

	case types.StreamEventToolCallCompleted:
		if tc, ok := p.pendingCalls[ev.ToolCallID]; ok && p.verbose {
			fmt.Fprintf(p.writer, "[tool:%s] Done\n", tc.Name)
		}

	case types.StreamEventToolCallFailed:
		if tc, ok := p.pendingCalls[ev.ToolCallID]; ok {
			fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", tc.Name, ev.ToolError)
		}

	case types.StreamEventOperationCompleted:
		duration := time.Since(p.startTime)
		fmt.Fprintf(p.writer, "\n[done] Session completed in %s", formatDuration(duration))
		if p.result.Tokens != nil {
			fmt.Fprintf(p.writer, " (input: %d tokens, output: %d tokens)",
				p.result.Tokens.Input, p.result.Tokens.Output)
		}
		fmt.Fprintln(p.writer)

	case types.StreamEventError:
		fmt.Fprintf(p.writer, "[error] %s\n", ev.ErrorMessage)
	}
}

func (p *Printer) handleJSONLEvent(ev types.StreamEvent) {
	p.trackEvent(ev)

	if !p.verbose && !isImportantEvent(ev.Kind) {
		return
	}

	evt := &Event{
		Type:      string(ev.Kind),
		Timestamp: time.Now(),
		Data:      ev,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent tracks events for the final result.
func (p *Printer) trackEvent(ev types.StreamEvent) {
	switch ev.Kind {
	case types.StreamEventMessageComplete:
		if ev.Message != nil {
			if ev.Message.Tokens != nil {
				p.result.Tokens = ev.Message.Tokens
			}
			if ev.Message.Text != "" {
				p.result.FinalMessage = ev.Message.Text
			}
		}

	case types.StreamEventToolCallStarted:
		if ev.ToolCall != nil {
			p.pendingCalls[ev.ToolCall.ID] = *ev.ToolCall
		}

	case types.StreamEventToolCallCompleted:
		if tc, ok := p.pendingCalls[ev.ToolCallID]; ok {
			output := ""
			if ev.Result != nil {
				output = ev.Result.Output()
			}
			p.toolCalls = append(p.toolCalls, ToolCall{
				Tool:   tc.Name,
				Input:  tc.Parameters,
				Output: truncateOutput(output, 500),
			})
			delete(p.pendingCalls, ev.ToolCallID)
		}

	case types.StreamEventToolCallFailed:
		if tc, ok := p.pendingCalls[ev.ToolCallID]; ok {
			p.toolCalls = append(p.toolCalls, ToolCall{
				Tool:  tc.Name,
				Input: tc.Parameters,
				Error: ev.ToolError,
			})
			delete(p.pendingCalls, ev.ToolCallID)
		}
	}
}

// Helper functions

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(tc types.ToolCall) string {
	if tc.Parameters == nil {
		return ""
	}

	input := tc.Parameters

	switch tc.Name {
	case "read":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Reading %s", path)
		}
	case "write":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Writing %s", path)
		}
	case "edit":
		if path, ok := input["file_path"].(string); ok {
			return fmt.Sprintf("Editing %s", path)
		}
	case "bash":
		if cmd, ok := input["command"].(string); ok {
			cmd = strings.Split(cmd, "\n")[0]
			if len(cmd) > 60 {
				cmd = cmd[:60] + "..."
			}
			return fmt.Sprintf("$ %s", cmd)
		}
	case "glob":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Searching: %s", pattern)
		}
	case "grep":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Grepping: %s", pattern)
		}
	case "web_fetch":
		if url, ok := input["url"].(string); ok {
			return fmt.Sprintf("Fetching: %s", url)
		}
	}

	return ""
}

func isImportantEvent(kind types.StreamEventKind) bool {
	switch kind {
	case types.StreamEventSessionCreated,
		types.StreamEventSessionResumed,
		types.StreamEventMessageComplete,
		types.StreamEventMessagePart,
		types.StreamEventToolCallStarted,
		types.StreamEventToolCallCompleted,
		types.StreamEventToolCallFailed,
		types.StreamEventError:
		return true
	default:
		return false
	}
}
