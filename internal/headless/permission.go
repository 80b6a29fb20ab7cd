package headless

import (
	"github.com/opencode-ai/opencode/internal/event"
	"github.com/opencode-ai/opencode/internal/permission"
)

// enableAutoApprove subscribes to permission.required events and immediately
// approves every one with "always", the way an operator who never wants to
// be asked would respond. The App actor's permission.Checker is a concrete
// type (not an interface), so headless --auto-approve can't swap in a
// different implementation the way the old PermissionCheckerInterface did;
// it instead rides the Checker's own publish/respond mechanism from the
// outside. Returns the unsubscribe func so Run can tear it down once the
// prompt finishes.
func enableAutoApprove(checker *permission.Checker, verbose bool) func() {
	return event.Subscribe(event.PermissionRequired, func(ev event.Event) {
		data, ok := ev.Data.(event.PermissionRequiredData)
		if !ok {
			return
		}
		if verbose {
			event.Publish(event.Event{
				Type: event.PermissionReplied,
				Data: event.PermissionRepliedData{
					PermissionID: data.ID,
					SessionID:    data.SessionID,
					Response:     "always",
				},
			})
		}
		checker.Respond(data.ID, "always")
	})
}
