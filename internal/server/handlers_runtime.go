// Package server — session-runtime routes.
//
// These handlers expose internal/session.SessionManager directly (create,
// resume, suspend, delete, command, and a per-session SSE event stream
// fed by ManagedSession's external event channel). This is the sole
// session-processing surface the server exposes; the old /session tree
// backed by session.Service/Processor has been removed (see DESIGN.md).
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/internal/sharing"
	"github.com/opencode-ai/opencode/pkg/types"
)

// MountSessionRuntime registers the /runtime/session routes against mgr.
// It is called separately from New/setupRoutes rather than threading a
// SessionManager through New's constructor; a Server on which it is never
// called has no /runtime/session routes.
func (s *Server) MountSessionRuntime(mgr *session.SessionManager) {
	s.sessionManager = mgr
	s.router.Route("/runtime/session", func(r chi.Router) {
		r.Post("/", s.runtimeCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/resume", s.runtimeResumeSession)
			r.Post("/suspend", s.runtimeSuspendSession)
			r.Delete("/", s.runtimeDeleteSession)
			r.Post("/command", s.runtimeSendCommand)
			r.Get("/events", s.runtimeSessionEvents)
			r.Post("/share", s.runtimeShareSession)
			r.Delete("/share", s.runtimeUnshareSession)
		})
	})
}

type shareSessionRequest struct {
	ExpiresIn time.Duration `json:"expiresIn,omitempty"`
	MaxViews  int           `json:"maxViews,omitempty"`
	Public    bool          `json:"public"`
}

// runtimeShareSession creates or updates a share link for a session,
// resolving the same SessionNotActiveError mapping as the other
// sessionID-scoped routes rather than allowing shares of unknown sessions.
func (s *Server) runtimeShareSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.sessionManager.ResumeSession(r.Context(), id); err != nil {
		writeRuntimeError(w, err)
		return
	}

	var req shareSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
	}

	info, err := s.sharingManager.Share(id, &sharing.ShareOptions{
		ExpiresIn: req.ExpiresIn,
		MaxViews:  req.MaxViews,
		Public:    req.Public,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) runtimeUnshareSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sharingManager.Unshare(id); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}

type createSessionRequest struct {
	Config types.SessionConfig `json:"config"`
}

func (s *Server) runtimeCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
	}

	_, ms, err := s.sessionManager.CreateSession(r.Context(), req.Config)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ms.Session())
}

func (s *Server) runtimeResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ms, err := s.sessionManager.ResumeSession(r.Context(), id)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms.Session())
}

func (s *Server) runtimeSuspendSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessionManager.SuspendSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not active")
		return
	}
	writeSuccess(w)
}

func (s *Server) runtimeDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !s.sessionManager.DeleteSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeSuccess(w)
}

func (s *Server) runtimeSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var cmd session.AppCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	if err := s.sessionManager.SendCommand(id, cmd); err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeSuccess(w)
}

// runtimeSessionEvents streams a single session's durable StreamEvents
// over SSE, fed by the external event channel ManagedSession hands out
// at most once (TakeEventReceiver), incrementing/decrementing the
// session's subscriber count around the connection's lifetime so the
// idle-cleanup sweep in internal/servicehost can suspend it once every
// subscriber has disconnected.
func (s *Server) runtimeSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	rx, err := s.sessionManager.TakeEventReceiver(id)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	s.sessionManager.IncrementSubscriberCount(id)
	defer s.sessionManager.DecrementSubscriberCount(id)

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-rx:
			if !ok {
				return
			}
			if err := sse.writeEvent("message", ev); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// writeRuntimeError maps a session-runtime typed error to an HTTP status
// and ErrCode, falling back to 500/internal for anything it doesn't
// recognise.
func writeRuntimeError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *session.SessionNotActiveError:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case *session.CapacityExceededError:
		writeError(w, http.StatusServiceUnavailable, ErrCodeRateLimited, err.Error())
	case *session.SessionAlreadyHasListenerError:
		writeError(w, http.StatusConflict, ErrCodeInvalidRequest, err.Error())
	case *session.CreationFailedError:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	case *session.StorageError:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	default:
		logging.Error().Err(err).Msg("unrecognised session-runtime error")
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
