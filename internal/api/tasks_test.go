//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/engine"
	"github.com/agentboard/agentboard/internal/normalize"
	"github.com/agentboard/agentboard/internal/orchestrator"
	"github.com/agentboard/agentboard/internal/publish"
	"github.com/agentboard/agentboard/internal/store"
	"github.com/go-chi/chi/v5"
)

// blockEngine parks until its release channel closes, then completes.
type blockEngine struct {
	release chan struct{}
}

func (e *blockEngine) Name() string { return "test" }

func (e *blockEngine) RunTurn(ctx context.Context, _ string, _ engine.TurnOptions) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		select {
		case <-e.release:
		case <-ctx.Done():
			return
		}
		yield(json.RawMessage(`{"type":"result","subtype":"success","is_error":false,"result":"done","session_id":"s1"}`), nil)
	}
}

func newTestServer(t *testing.T) (*chi.Mux, store.Repository, *blockEngine) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	eng := &blockEngine{release: make(chan struct{})}
	orch := orchestrator.New(repo, publish.NopPublisher{}, map[string]orchestrator.Backend{
		"test": {Engine: eng, Normalizer: normalize.NewClaude()},
	}, nil)

	r := chi.NewRouter()
	NewTaskHandler(NewHandler(repo, orch)).RegisterRoutes(r)
	return r, repo, eng
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateTaskValidation(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{"backend": "test"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing prompt, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{"prompt": "x", "backend": "nope"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown backend, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{"prompt": "x", "backend": "test", "mode": "yolo"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid mode, got %d", w.Code)
	}
}

func TestCreateAndFetchTask(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{
		"prompt":  "fix the login flow",
		"backend": "test",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created domain.Task
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode created task: %v", err)
	}
	if created.ID == "" || created.Status != domain.StatusIdle {
		t.Errorf("Unexpected created task: %+v", created)
	}
	if created.Mode != domain.ModeAsk {
		t.Errorf("Expected default mode ask, got %s", created.Mode)
	}
	// Untitled tasks borrow their prompt.
	if created.Title != "fix the login flow" {
		t.Errorf("Expected title derived from prompt, got %q", created.Title)
	}

	w = doJSON(t, r, http.MethodGet, "/api/tasks/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var list []domain.Task
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode task list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 task, got %d", len(list))
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	r, _, _ := newTestServer(t)

	for _, path := range []string{"/api/tasks/missing", "/api/tasks/missing/entries"} {
		w := doJSON(t, r, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for %s, got %d", path, w.Code)
		}
	}
	w := doJSON(t, r, http.MethodPost, "/api/tasks/missing/start", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for start, got %d", w.Code)
	}
}

func TestDoubleStartConflicts(t *testing.T) {
	r, repo, eng := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{"prompt": "x", "backend": "test"})
	var created domain.Task
	_ = json.NewDecoder(w.Body).Decode(&created)

	w = doJSON(t, r, http.MethodPost, "/api/tasks/"+created.ID+"/start", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/tasks/"+created.ID+"/start", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for second start, got %d", w.Code)
	}

	close(eng.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := repo.GetTask(context.Background(), created.ID)
		if err == nil && task.Status == domain.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for completion")
}

func TestSessionOpsWithoutSession(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/tasks", map[string]string{"prompt": "x", "backend": "test"})
	var created domain.Task
	_ = json.NewDecoder(w.Body).Decode(&created)

	// Stopping an idle task is a harmless no-op.
	w = doJSON(t, r, http.MethodPost, "/api/tasks/"+created.ID+"/stop", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for stop without session, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/tasks/missing/stop", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for stop on unknown task, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/tasks/"+created.ID+"/queue", map[string]string{"text": "later"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for queue without session, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/tasks/"+created.ID+"/respond", map[string]any{"request_id": "r1", "allow": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for respond without session, got %d", w.Code)
	}
}
