// Package servicehost wires a SessionManager to an HTTP listener and a
// periodic idle-cleanup sweep, and owns the process's graceful-shutdown
// sequence. It plays the role the Rust original's ServiceHost plays for
// the gRPC server: this repo's transport is HTTP+SSE (internal/server)
// rather than tonic, but the lifecycle — start, run a cleanup ticker,
// shut down in a fixed order — is the same.
package servicehost

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/session"
)

// Server is the subset of internal/server.Server's lifecycle that
// ServiceHost depends on, kept as a narrow interface so this package does
// not import internal/server (and the rest of its dependency surface)
// just to call two methods.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Config parameterises a Host. It is the Go analogue of the Rust
// original's ServiceHostConfig, with db_path/bind_addr left to the
// caller's Server and SessionManagerConfig instead carried as the
// already-constructed SessionManager's own config.
type Config struct {
	// CleanupInterval is how often the idle sweep runs. The original
	// hardcodes 5 minutes; this repo makes it configurable but keeps
	// that value as the default (see DefaultConfig).
	CleanupInterval time.Duration
	// IdleThreshold is how long a session may sit with no subscribers
	// before the sweep suspends it. The original hardcodes 30 minutes.
	IdleThreshold time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for the HTTP
	// server to drain in-flight requests before giving up on it.
	ShutdownTimeout time.Duration
}

// DefaultConfig matches the Rust original's hardcoded cleanup cadence
// and idle threshold.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: 5 * time.Minute,
		IdleThreshold:   30 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Host is the main orchestrator for the service process: it owns the
// SessionManager, the HTTP server, and the periodic cleanup task, and
// sequences their startup and shutdown.
type Host struct {
	sessionManager *session.SessionManager
	httpServer     Server
	config         Config

	log zerolog.Logger

	mu           sync.Mutex
	started      bool
	cleanupStop  chan struct{}
	cleanupDone  chan struct{}
	serverErrCh  chan error
}

// New constructs a Host around an already-built SessionManager and HTTP
// Server. Unlike the Rust original's ServiceHost::new, store construction
// and SessionManager construction happen in the caller (cmd/opencode-server)
// rather than here, since this repo's store kind (memory vs. file) is a
// config choice the caller already resolved to build the SessionManager.
func New(sessionManager *session.SessionManager, httpServer Server, config Config) *Host {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = DefaultConfig().IdleThreshold
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	return &Host{
		sessionManager: sessionManager,
		httpServer:     httpServer,
		config:         config,
		log:            logging.With().Str("component", "service_host").Logger(),
	}
}

// SessionManager returns the underlying SessionManager, for callers that
// need to reach it directly (e.g. a shutdown hook outside this package).
func (h *Host) SessionManager() *session.SessionManager {
	return h.sessionManager
}

// Start brings up the HTTP server in its own goroutine and starts the
// periodic idle-cleanup sweep. It returns once both are running; it does
// not block for the lifetime of the process — call Wait or manage the
// process's own signal loop for that.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("service host is already running")
	}

	h.serverErrCh = make(chan error, 1)
	go func() {
		if err := h.httpServer.Start(); err != nil {
			h.serverErrCh <- err
			return
		}
		h.serverErrCh <- nil
	}()

	h.cleanupStop = make(chan struct{})
	h.cleanupDone = make(chan struct{})
	go h.runCleanupLoop()

	h.started = true
	h.log.Info().
		Dur("cleanup_interval", h.config.CleanupInterval).
		Dur("idle_threshold", h.config.IdleThreshold).
		Msg("service host started")
	return nil
}

// runCleanupLoop is the periodic idle-cleanup sweep: every
// config.CleanupInterval it suspends every active session with no
// subscribers idle past config.IdleThreshold, logging only when it
// actually suspends something — matching the Rust original's "0 =>
// {} // No sessions cleaned, don't log" arm.
func (h *Host) runCleanupLoop() {
	defer close(h.cleanupDone)
	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.cleanupStop:
			return
		case <-ticker.C:
			count := h.sessionManager.CleanupInactiveSessions(context.Background(), h.config.IdleThreshold)
			if count > 0 {
				h.log.Info().Int("count", count).Msg("cleaned up inactive sessions")
			}
		}
	}
}

// Shutdown performs the four-step graceful shutdown sequence from the
// Rust original's ServiceHost::shutdown: stop accepting new RPCs (here,
// HTTP requests), cancel the cleanup ticker, join the server, then
// suspend every still-active session so its state is flushed to the
// store before the process exits.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.mu.Unlock()

	h.log.Info().Msg("initiating service host shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, h.config.ShutdownTimeout)
	defer cancel()
	if err := h.httpServer.Shutdown(shutdownCtx); err != nil {
		h.log.Error().Err(err).Msg("http server shutdown error")
	}

	close(h.cleanupStop)
	<-h.cleanupDone

	select {
	case err := <-h.serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			h.log.Error().Err(err).Msg("http server exited with error")
		}
	case <-time.After(h.config.ShutdownTimeout):
		h.log.Warn().Msg("timed out waiting for http server goroutine to exit")
	}

	for _, id := range h.activeSessionIDs() {
		if !h.sessionManager.SuspendSession(ctx, id) {
			h.log.Error().Str("session_id", id).Msg("failed to suspend session during shutdown")
		}
	}

	h.log.Info().Msg("service host shutdown complete")
	return nil
}

// activeSessionIDs snapshots the currently active session ids. It is the
// Go analogue of the Rust original's SessionManager::get_active_sessions.
func (h *Host) activeSessionIDs() []string {
	return h.sessionManager.ActiveSessionIDs()
}
