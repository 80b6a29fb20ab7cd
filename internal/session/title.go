package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/pkg/types"
)

const titleSystemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, ≤50 characters
- No explanations
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" → Debugging production 500 errors
"refactor user service" → Refactoring user service
"implement rate limiting" → Implementing rate limiting`

const defaultTitlePrefix = "New Session"

// isDefaultTitle checks if a title is the default "New Session" title.
func isDefaultTitle(title string) bool {
	return title == "" || title == defaultTitlePrefix || strings.HasPrefix(title, defaultTitlePrefix)
}

// maybeGenerateTitle generates a title for the session from its first user
// message, the way the teacher's Processor.ensureTitle did against its own
// storage layer — here against the store the actor was constructed with.
// Attempted at most once per actor lifetime (a.titled), and skipped for
// child sessions and sessions that already carry a non-default title.
func (a *App) maybeGenerateTitle(ctx context.Context, userContent string) {
	if a.titled || a.store == nil {
		return
	}
	a.titled = true

	sess, err := a.store.GetSession(ctx, a.sessionID)
	if err != nil {
		return
	}
	if sess.ParentID != nil && *sess.ParentID != "" {
		return
	}
	if !isDefaultTitle(sess.Title) {
		return
	}

	model, err := a.providers.DefaultModel()
	if err != nil {
		return
	}
	prov, err := a.providers.Get(model.ProviderID)
	if err != nil {
		return
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model.ID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: titleSystemPrompt},
			{Role: schema.User, Content: "Generate a title for this conversation:\n\n" + userContent},
		},
		MaxTokens: 50,
	})
	if err != nil {
		return
	}
	defer stream.Close()

	var title strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return
		}
		title.WriteString(msg.Content)
	}

	titleText := strings.TrimSpace(title.String())
	for _, line := range strings.Split(titleText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			titleText = line
			break
		}
	}
	if len(titleText) > 100 {
		titleText = titleText[:97] + "..."
	}
	if titleText == "" {
		return
	}

	sess.Title = titleText
	if err := a.store.UpdateSession(ctx, sess); err != nil {
		return
	}
	a.emit(types.AppEvent{Kind: types.AppEventTitleGenerated, Title: titleText})
}
