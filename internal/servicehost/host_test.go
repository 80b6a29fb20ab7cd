package servicehost

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

// fakeServer is a minimal Server double: it never actually listens, it
// just tracks whether Start/Shutdown were called, mirroring the shape the
// Rust original's test_service_host_lifecycle test exercises (start, then
// shutdown) without binding a real socket.
type fakeServer struct {
	startCh    chan struct{}
	shutdownCh chan struct{}
	shutdown   bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{startCh: make(chan struct{}), shutdownCh: make(chan struct{})}
}

// Start mimics http.Server.ListenAndServe: it blocks until Shutdown is
// called, then returns http.ErrServerClosed, exactly like the real
// listener internal/server.Server.Start wraps.
func (f *fakeServer) Start() error {
	close(f.startCh)
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	f.shutdown = true
	close(f.shutdownCh)
	return nil
}

func newTestSessionManager(t *testing.T, maxConcurrent int) *session.SessionManager {
	t.Helper()
	store := sessionstore.NewMemStore()
	return session.NewSessionManager(
		store,
		session.ManagerConfig{MaxConcurrentSessions: maxConcurrent, DefaultModel: types.ModelRef{ProviderID: "test", ModelID: "test-model"}},
		provider.NewRegistry(nil),
		tool.NewRegistry("", nil),
		permission.NewChecker(),
		&session.Agent{Name: "default"},
	)
}

// corresponds to the Rust original's test_service_host_creation: a fresh
// Host wraps a SessionManager with no active sessions.
func TestServiceHostCreation(t *testing.T) {
	mgr := newTestSessionManager(t, 10)
	host := New(mgr, newFakeServer(), DefaultConfig())
	assert.Empty(t, host.SessionManager().ActiveSessionIDs())
}

// corresponds to the Rust original's test_service_host_lifecycle: Start
// then Shutdown succeeds and leaves the process in a clean state.
func TestServiceHostLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := newTestSessionManager(t, 10)
	srv := newFakeServer()
	host := New(mgr, srv, Config{CleanupInterval: 10 * time.Millisecond, IdleThreshold: time.Hour, ShutdownTimeout: time.Second})

	require.NoError(t, host.Start())
	<-srv.startCh

	require.NoError(t, host.Shutdown(ctx))
	assert.True(t, srv.shutdown)
}

// Shutdown suspends every still-active session before returning, per the
// Rust original's shutdown sequence iterating get_active_sessions.
func TestServiceHostShutdownSuspendsActiveSessions(t *testing.T) {
	ctx := context.Background()
	mgr := newTestSessionManager(t, 10)
	id, _, err := mgr.CreateSession(ctx, types.SessionConfig{})
	require.NoError(t, err)

	srv := newFakeServer()
	host := New(mgr, srv, Config{CleanupInterval: time.Hour, IdleThreshold: time.Hour, ShutdownTimeout: time.Second})
	require.NoError(t, host.Start())
	<-srv.startCh

	require.Contains(t, mgr.ActiveSessionIDs(), id)
	require.NoError(t, host.Shutdown(ctx))
	assert.Empty(t, mgr.ActiveSessionIDs())
}
