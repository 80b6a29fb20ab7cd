package session

import (
	"context"
	"sync"
	"time"

	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

const (
	commandChannelCapacity      = 32
	actorEventChannelCapacity   = 100
	externalEventChannelCapacity = 100
)

// ManagedSession binds a persisted Session to a live App actor and its
// event-translator task. It exists only while the session is active in a
// SessionManager's registry; suspension writes it back through the
// SessionStore and lets it be garbage collected.
type ManagedSession struct {
	session types.Session

	cmdCh chan AppCommand
	app   *App

	translator *translator
	actorDone  chan struct{}
	transDone  chan struct{}

	mu              sync.Mutex
	subscriberCount int
	lastActivity    time.Time

	listenerTaken bool
	externalCh    chan types.StreamEventWithMetadata
}

// Deps bundles the collaborators a ManagedSession needs to construct its
// App actor, grouped so newManagedSession's argument list stays readable.
type Deps struct {
	Providers *provider.Registry
	Tools     *tool.Registry
	Perm      *permission.Checker
	Agent     *Agent
	Store     sessionstore.Store
	Broadcast chan<- types.StreamEventWithMetadata
}

// newManagedSession performs the nine-step construction sequence in §4.2.
// On any failure, every channel and goroutine allocated so far is released
// before the error is returned, leaving no observable partial state.
func newManagedSession(ctx context.Context, sess types.Session, model types.ModelRef, deps Deps) (*ManagedSession, error) {
	// Step 1: App -> translator event channel.
	eventCh := make(chan types.AppEvent, actorEventChannelCapacity)

	// Step 2: command channel, published to the process-wide approval hook.
	cmdCh := make(chan AppCommand, commandChannelCapacity)
	setActiveCommandSender(sess.ID, cmdCh)

	release := func() {
		clearActiveCommandSender(sess.ID)
	}

	// Step 3: external event channel, single-take slot (lazily allocated on
	// first TakeEventRx so a session nobody is listening to never pays for
	// an unread, eventually-dropping channel).
	ms := &ManagedSession{
		session:      sess,
		cmdCh:        cmdCh,
		lastActivity: time.Now(),
	}

	// Step 4: tool backend registry / workspace object. Both are built by
	// the owning SessionManager from session.Config before this call and
	// handed in via deps.Tools — nothing further to construct here.

	// Step 5+6: construct the App, fresh or resuming.
	app := newApp(sess.ID, deps.Agent, model, deps.Providers, deps.Tools, deps.Perm, deps.Store, cmdCh, eventCh)
	if len(sess.State.Messages) > 0 || len(sess.State.ApprovedTools) > 0 {
		if err := app.restoreConversation(sess.State.Messages, sess.State.ApprovedTools); err != nil {
			release()
			return nil, &CreationFailedError{Reason: "restore conversation", Cause: err}
		}
	}
	ms.app = app

	// Step 7: spawn the App actor.
	ms.actorDone = make(chan struct{})
	go func() {
		defer close(ms.actorDone)
		app.Run(ctx)
	}()

	// Step 8: spawn the event translator.
	ms.translator = newTranslator(sess.ID, deps.Store, eventCh, deps.Broadcast)
	ms.transDone = make(chan struct{})
	go func() {
		defer close(ms.transDone)
		ms.translator.Run(ctx)
	}()

	// Step 9.
	ms.lastActivity = time.Now()

	return ms, nil
}

// TakeEventRx returns the external event channel on its first call and
// false on every subsequent call, matching the single-take-slot contract.
func (m *ManagedSession) TakeEventRx() (<-chan types.StreamEventWithMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenerTaken {
		return nil, false
	}
	m.listenerTaken = true
	m.externalCh = make(chan types.StreamEventWithMetadata, externalEventChannelCapacity)
	m.translator.setExternal(m.externalCh)
	return m.externalCh, true
}

// Touch refreshes last_activity, e.g. on command send or explicit liveness
// signals (workspace file-watch activity).
func (m *ManagedSession) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// IsInactive reports whether this session has no subscribers and has been
// idle longer than maxIdle.
func (m *ManagedSession) IsInactive(maxIdle time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriberCount == 0 && time.Since(m.lastActivity) > maxIdle
}

// HasNoSubscribers reports whether subscriber_count is currently zero,
// independent of elapsed idle time.
func (m *ManagedSession) HasNoSubscribers() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriberCount == 0
}

// IncrementSubscriberCount and DecrementSubscriberCount track how many
// external listeners currently care about this session's events, the
// signal cleanup uses to decide whether a session is eligible for
// suspension.
func (m *ManagedSession) IncrementSubscriberCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriberCount++
}

func (m *ManagedSession) DecrementSubscriberCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscriberCount > 0 {
		m.subscriberCount--
	}
}

// SendCommand enqueues cmd on the command channel, blocking while the
// channel is full (capacity 32) so overload is surfaced to the calling
// client as backpressure rather than silently dropped. CancelProcessing is
// delivered out of band via the App's dedicated cancel signal instead: a
// blocking in-flight operation would otherwise leave a cancellation
// request stuck in the queue behind it, defeating the point of cancelling.
func (m *ManagedSession) SendCommand(cmd AppCommand) error {
	m.Touch()
	if cmd.Kind == CommandCancelProcessing {
		m.app.requestCancel()
		cmd.reply(nil)
		return nil
	}
	select {
	case m.cmdCh <- cmd:
		return nil
	case <-m.actorDone:
		return &SessionNotActiveError{ID: m.session.ID}
	}
}

// Shutdown sends Shutdown down the command channel and waits for both the
// actor and the translator to terminate.
func (m *ManagedSession) Shutdown() {
	done := make(chan error, 1)
	select {
	case m.cmdCh <- AppCommand{Kind: CommandShutdown, Done: done}:
		<-done
	default:
		// Command channel already full or actor already gone; proceed to
		// wait on actorDone regardless, it will close once the actor exits
		// for any reason.
	}
	<-m.actorDone
	<-m.transDone
	clearActiveCommandSender(m.session.ID)
}

// Session returns the construction-time Session snapshot: accurate
// immediately after create/resume, but not updated as the App actor and
// translator accumulate messages and events afterward. Callers that need
// the session's current persisted state (e.g. suspend) must read it back
// from the SessionStore instead; see ApprovedTools for the one piece of
// state (the actor's in-memory approved-tools set) that lives nowhere
// else.
func (m *ManagedSession) Session() types.Session {
	return m.session
}

// ApprovedTools queries the App actor's current approved-tools set through
// the command channel, so the read never races the actor goroutine's own
// mutations of the same map. Returns nil if the actor has already exited.
func (m *ManagedSession) ApprovedTools() map[string]bool {
	result := make(chan map[string]bool, 1)
	done := make(chan error, 1)
	select {
	case m.cmdCh <- AppCommand{Kind: CommandSnapshotApprovedTools, ApprovedToolsResult: result, Done: done}:
	case <-m.actorDone:
		return nil
	}
	select {
	case <-done:
	case <-m.actorDone:
		return nil
	}
	select {
	case snapshot := <-result:
		return snapshot
	default:
		return nil
	}
}
