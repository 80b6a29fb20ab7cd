package session

import "sync"

// activeCommandHook is a process-wide shortcut letting code deep inside
// tool execution (which does not carry a session-scoped context today)
// re-enter the owning session's command channel to raise a tool-approval
// request. The more hygienic design is explicit context propagation down
// the tool-call path. Entries are keyed by session id, so concurrent
// sessions never see each other's sender; an entry is published when the
// ManagedSession is constructed and removed when it shuts down (or when
// its construction fails).
var activeCommandHook struct {
	mu     sync.Mutex
	byGID  map[string]chan<- AppCommand // sessionID -> command sender, while that session is live
}

func init() {
	activeCommandHook.byGID = make(map[string]chan<- AppCommand)
}

// setActiveCommandSender publishes sessionID's command sender for the
// lifetime of that session's ManagedSession.
func setActiveCommandSender(sessionID string, ch chan<- AppCommand) {
	activeCommandHook.mu.Lock()
	defer activeCommandHook.mu.Unlock()
	activeCommandHook.byGID[sessionID] = ch
}

// clearActiveCommandSender removes the publication made by
// setActiveCommandSender once the session shuts down.
func clearActiveCommandSender(sessionID string) {
	activeCommandHook.mu.Lock()
	defer activeCommandHook.mu.Unlock()
	delete(activeCommandHook.byGID, sessionID)
}

// ActiveCommandSender looks up the command sender published for sessionID,
// for use by tool implementations that need to request approval re-entry.
func ActiveCommandSender(sessionID string) (chan<- AppCommand, bool) {
	activeCommandHook.mu.Lock()
	defer activeCommandHook.mu.Unlock()
	ch, ok := activeCommandHook.byGID[sessionID]
	return ch, ok
}
