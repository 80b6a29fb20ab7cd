package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/idgen"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/pkg/types"
)

// CompactionConfig controls message compaction behavior.
type CompactionConfig struct {
	// MinMessagesToKeep is the minimum number of recent messages to keep.
	MinMessagesToKeep int

	// SummaryMaxTokens is the maximum tokens for the summary.
	SummaryMaxTokens int

	// ContextThreshold is the fraction of the model's context window that
	// triggers compaction.
	ContextThreshold float64
}

// DefaultCompactionConfig returns the default compaction configuration.
var DefaultCompactionConfig = CompactionConfig{
	MinMessagesToKeep: 4,
	SummaryMaxTokens:  2000,
	ContextThreshold:  0.75,
}

// compactionSystemPrompt is the system prompt for generating summaries.
const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

// estimateTokens provides a rough estimate of token count.
func estimateTokens(text string) int {
	return len(text) / 4
}

// threadTokens sums the rough token estimate for every message's text and
// tool output currently in the thread.
func threadTokens(thread []types.Message) int {
	total := 0
	for _, m := range thread {
		total += estimateTokens(m.Text)
		if m.Result != nil {
			total += estimateTokens(m.Result.Output())
		}
	}
	return total
}

// buildSummaryPrompt renders the messages to be compacted as a flat
// transcript for the summarizer model, the same shape the teacher's
// Processor.buildSummaryPrompt produced from its persisted parts — here
// read directly off the in-memory Message, since the App actor's graph
// holds full message content rather than a separate part store.
func buildSummaryPrompt(messages []types.Message) string {
	var prompt strings.Builder
	prompt.WriteString("Please summarize the following conversation, focusing on:\n")
	prompt.WriteString("1. Key decisions and outcomes\n")
	prompt.WriteString("2. Files that were modified\n")
	prompt.WriteString("3. Important context for continuing the work\n\n")
	prompt.WriteString("---\n\n")

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			prompt.WriteString("USER:\n")
			prompt.WriteString(msg.Text)
		case types.RoleAssistant:
			prompt.WriteString("ASSISTANT:\n")
			prompt.WriteString(msg.Text)
			for _, tc := range msg.ToolCalls {
				prompt.WriteString("\n[Tool: " + tc.Name + "]")
			}
		case types.RoleTool:
			if msg.Result != nil {
				output := msg.Result.Output()
				if len(output) > 500 {
					output = output[:500] + "..."
				}
				prompt.WriteString("[Tool result]\n" + output)
			}
		}
		prompt.WriteString("\n\n")
	}
	return prompt.String()
}

// maybeCompact summarizes the oldest messages in the active thread once the
// estimated token count crosses ContextThreshold of the model's context
// window, freeing room for the conversation to continue. graph.Graph has no
// partial-trim primitive, so compaction rebuilds the graph from scratch:
// a synthesized summary message (Mode "summary") followed by the last
// MinMessagesToKeep original messages.
func (a *App) maybeCompact(ctx context.Context) {
	thread := a.graph.GetActiveThread()
	if len(thread) <= DefaultCompactionConfig.MinMessagesToKeep {
		return
	}

	model, err := a.providers.Get(a.model.ProviderID)
	if err != nil {
		return
	}
	resolvedModel, err := a.providers.GetModel(a.model.ProviderID, a.model.ModelID)
	if err != nil {
		return
	}

	limit := resolvedModel.ContextLength
	if limit <= 0 {
		return
	}
	if float64(threadTokens(thread))/float64(limit) < DefaultCompactionConfig.ContextThreshold {
		return
	}

	compactEnd := len(thread) - DefaultCompactionConfig.MinMessagesToKeep
	toCompact := thread[:compactEnd]
	kept := thread[compactEnd:]

	summary, err := a.summarize(ctx, model, resolvedModel.ID, toCompact)
	if err != nil || summary == "" {
		return
	}

	a.graph.Clear()
	a.threadID = idgen.New()
	summaryMsg := types.Message{
		ID:        newMessageID("msg"),
		SessionID: a.sessionID,
		Role:      types.RoleAssistant,
		ThreadID:  a.threadID,
		Mode:      "summary",
		Text:      summary,
	}
	if err := a.graph.AddMessage(summaryMsg); err != nil {
		return
	}
	parent := summaryMsg.ID
	for _, m := range kept {
		m.ThreadID = a.threadID
		m.ParentMessageID = parent
		if err := a.graph.AddMessage(m); err != nil {
			return
		}
		parent = m.ID
	}

	a.emit(types.AppEvent{Kind: types.AppEventMessageAdded, Message: &summaryMsg})
	a.emit(types.AppEvent{Kind: types.AppEventCompacted, SummaryText: summary})
}

// summarize issues a one-shot completion against the given provider/model to
// summarize toCompact, collecting the streamed response into a single string.
func (a *App) summarize(ctx context.Context, prov provider.Provider, modelID string, toCompact []types.Message) (string, error) {
	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: modelID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: compactionSystemPrompt},
			{Role: schema.User, Content: buildSummaryPrompt(toCompact)},
		},
		MaxTokens: DefaultCompactionConfig.SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		out.WriteString(msg.Content)
	}
	return strings.TrimSpace(out.String()), nil
}
