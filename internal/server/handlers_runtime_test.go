package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sessionstore"
	"github.com/opencode-ai/opencode/internal/sharing"
	"github.com/opencode-ai/opencode/internal/tool"
	"github.com/opencode-ai/opencode/pkg/types"
)

func setupRuntimeTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := session.NewSessionManager(
		sessionstore.NewMemStore(),
		session.ManagerConfig{MaxConcurrentSessions: 10, DefaultModel: types.ModelRef{ProviderID: "test", ModelID: "test-model"}},
		provider.NewRegistry(nil),
		tool.NewRegistry("", nil),
		permission.NewChecker(),
		&session.Agent{Name: "default"},
	)
	r := chi.NewRouter()
	srv := &Server{router: r, appConfig: &types.Config{}}
	srv.MountSessionRuntime(mgr)
	return srv
}

func TestRuntimeCreateAndSuspendSession(t *testing.T) {
	srv := setupRuntimeTestServer(t)

	body, _ := json.Marshal(createSessionRequest{})
	req := httptest.NewRequest(http.MethodPost, "/runtime/session", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess types.Session
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}

	suspendReq := httptest.NewRequest(http.MethodPost, "/runtime/session/"+sess.ID+"/suspend", nil)
	suspendW := httptest.NewRecorder()
	srv.router.ServeHTTP(suspendW, suspendReq)
	if suspendW.Code != http.StatusOK {
		t.Fatalf("expected 200 on suspend, got %d: %s", suspendW.Code, suspendW.Body.String())
	}

	// suspending again (already inactive) is a 404: the handler maps
	// SuspendSession's false return to not-found directly.
	suspendAgainW := httptest.NewRecorder()
	srv.router.ServeHTTP(suspendAgainW, httptest.NewRequest(http.MethodPost, "/runtime/session/"+sess.ID+"/suspend", nil))
	if suspendAgainW.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double suspend, got %d", suspendAgainW.Code)
	}
}

func TestRuntimeCreateSessionCapacityExceeded(t *testing.T) {
	mgr := session.NewSessionManager(
		sessionstore.NewMemStore(),
		session.ManagerConfig{MaxConcurrentSessions: 1},
		provider.NewRegistry(nil),
		tool.NewRegistry("", nil),
		permission.NewChecker(),
		&session.Agent{Name: "default"},
	)
	r := chi.NewRouter()
	srv := &Server{router: r, appConfig: &types.Config{}}
	srv.MountSessionRuntime(mgr)

	first := httptest.NewRecorder()
	srv.router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/runtime/session", nil))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first create to succeed, got %d: %s", first.Code, first.Body.String())
	}

	second := httptest.NewRecorder()
	srv.router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/runtime/session", nil))
	if second.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on capacity exceeded, got %d: %s", second.Code, second.Body.String())
	}
}

func TestRuntimeShareAndUnshareSession(t *testing.T) {
	srv := setupRuntimeTestServer(t)
	srv.sharingManager = sharing.NewManager("")

	createW := httptest.NewRecorder()
	srv.router.ServeHTTP(createW, httptest.NewRequest(http.MethodPost, "/runtime/session", nil))
	if createW.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", createW.Code, createW.Body.String())
	}
	var sess types.Session
	if err := json.NewDecoder(createW.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}

	shareW := httptest.NewRecorder()
	srv.router.ServeHTTP(shareW, httptest.NewRequest(http.MethodPost, "/runtime/session/"+sess.ID+"/share", nil))
	if shareW.Code != http.StatusOK {
		t.Fatalf("expected 200 on share, got %d: %s", shareW.Code, shareW.Body.String())
	}
	var info sharing.ShareInfo
	if err := json.NewDecoder(shareW.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Token == "" || info.SessionID != sess.ID {
		t.Fatalf("unexpected share info: %+v", info)
	}

	unshareW := httptest.NewRecorder()
	srv.router.ServeHTTP(unshareW, httptest.NewRequest(http.MethodDelete, "/runtime/session/"+sess.ID+"/share", nil))
	if unshareW.Code != http.StatusOK {
		t.Fatalf("expected 200 on unshare, got %d: %s", unshareW.Code, unshareW.Body.String())
	}

	unshareAgainW := httptest.NewRecorder()
	srv.router.ServeHTTP(unshareAgainW, httptest.NewRequest(http.MethodDelete, "/runtime/session/"+sess.ID+"/share", nil))
	if unshareAgainW.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double unshare, got %d", unshareAgainW.Code)
	}
}

func TestRuntimeDeleteUnknownSession(t *testing.T) {
	srv := setupRuntimeTestServer(t)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/runtime/session/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}
