package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencode-ai/opencode/internal/storage"
	"github.com/opencode-ai/opencode/pkg/types"
)

func setupTestServer(t *testing.T) *Server {
	tmpDir := t.TempDir()
	store := storage.New(tmpDir)

	srv := &Server{
		storage:   store,
		appConfig: &types.Config{},
	}
	return srv
}

func TestGetConfig(t *testing.T) {
	srv := setupTestServer(t)
	srv.appConfig = &types.Config{
		Model: "anthropic/claude-3-opus",
	}

	req := httptest.NewRequest("GET", "/config", nil)
	w := httptest.NewRecorder()

	srv.getConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var config types.Config
	if err := json.NewDecoder(w.Body).Decode(&config); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if config.Model != "anthropic/claude-3-opus" {
		t.Errorf("Model mismatch: got %s", config.Model)
	}
}

func TestReadFile_NotFound(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/file?path=/nonexistent/file.txt", nil)
	w := httptest.NewRecorder()

	srv.readFile(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestReadFile_MissingPath(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest("GET", "/file", nil)
	w := httptest.NewRecorder()

	srv.readFile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
