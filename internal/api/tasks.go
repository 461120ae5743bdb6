package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/entry"
	"github.com/agentboard/agentboard/internal/orchestrator"
	"github.com/agentboard/agentboard/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TaskHandler handles task and session endpoints.
type TaskHandler struct {
	*Handler
	backends map[string]bool
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(base *Handler) *TaskHandler {
	backends := make(map[string]bool)
	for _, name := range base.orch.Backends() {
		backends[name] = true
	}
	return &TaskHandler{Handler: base, backends: backends}
}

// RegisterRoutes registers task routes.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Get("/entries", h.ListEntries)
			r.Post("/start", h.StartTask)
			r.Post("/message", h.SendMessage)
			r.Post("/queue", h.QueuePrompt)
			r.Delete("/queue/{promptID}", h.CancelQueuedPrompt)
			r.Post("/stop", h.StopTask)
			r.Post("/respond", h.Respond)
		})
	})
}

type createTaskRequest struct {
	Title   string `json:"title"`
	Prompt  string `json:"prompt"`
	Backend string `json:"backend"`
	WorkDir string `json:"work_dir"`
	Mode    string `json:"mode"`
}

// CreateTask creates a new task record. The task does not run until started.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if !h.backends[req.Backend] {
		Error(w, http.StatusBadRequest, "unknown backend")
		return
	}
	mode := domain.InteractionMode(req.Mode)
	if req.Mode == "" {
		mode = domain.ModeAsk
	}
	if !mode.Valid() {
		Error(w, http.StatusBadRequest, "invalid mode")
		return
	}

	title := req.Title
	if title == "" {
		title = req.Prompt
		if len(title) > 80 {
			title = title[:80]
		}
	}

	now := time.Now().UTC()
	task := &domain.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Prompt:    req.Prompt,
		Backend:   req.Backend,
		WorkDir:   req.WorkDir,
		Mode:      mode,
		Status:    domain.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateTask(r.Context(), task); err != nil {
		slog.Error("Failed to create task", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	JSON(w, http.StatusCreated, task)
}

// ListTasks returns all tasks, newest first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.repo.ListTasks(r.Context())
	if err != nil {
		slog.Error("Failed to list tasks", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	JSON(w, http.StatusOK, tasks)
}

// GetTask returns one task with its live session state attached.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := h.repo.GetTask(r.Context(), taskID)
	if err != nil {
		h.taskError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"task":             task,
		"queue":            h.orch.QueuedPrompts(taskID),
		"pending_requests": h.orch.PendingRequests(taskID),
	})
}

type entryItem struct {
	Index int64        `json:"index"`
	Entry *entry.Entry `json:"entry"`
}

// ListEntries replays a task's persisted log in index order.
func (h *TaskHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := h.repo.GetTask(r.Context(), taskID); err != nil {
		h.taskError(w, err)
		return
	}

	stored, err := h.repo.ListEntries(r.Context(), taskID)
	if err != nil {
		slog.Error("Failed to list entries", "task_id", taskID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	items := make([]entryItem, 0, len(stored))
	for _, se := range stored {
		e, err := entry.Decode(se.Data)
		if err != nil {
			slog.Warn("Skipping undecodable entry", "task_id", taskID, "entry_id", se.EntryID, "error", err)
			continue
		}
		items = append(items, entryItem{Index: se.Index, Entry: e})
	}
	JSON(w, http.StatusOK, items)
}

// StartTask begins a fresh session for the task.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := h.orch.StartTask(r.Context(), taskID); err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type messageRequest struct {
	Text string `json:"text"`
}

// SendMessage starts a new turn on the task's existing conversation.
func (h *TaskHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := h.orch.SendMessage(r.Context(), taskID, req.Text); err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// QueuePrompt adds a follow-up prompt to the live session's queue.
func (h *TaskHandler) QueuePrompt(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	queued, err := h.orch.QueuePrompt(r.Context(), taskID, req.Text)
	if err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusCreated, queued)
}

// CancelQueuedPrompt removes a not-yet-drained prompt from the queue.
func (h *TaskHandler) CancelQueuedPrompt(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	promptID := chi.URLParam(r, "promptID")
	if err := h.orch.CancelQueuedPrompt(r.Context(), taskID, promptID); err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// StopTask interrupts the task's live session. Stopping a task with no live
// session succeeds without effect.
func (h *TaskHandler) StopTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, err := h.repo.GetTask(r.Context(), taskID); err != nil {
		h.taskError(w, err)
		return
	}
	if err := h.orch.Stop(r.Context(), taskID); err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type respondRequest struct {
	RequestID    string         `json:"request_id"`
	Allow        bool           `json:"allow"`
	Message      string         `json:"message"`
	Answers      []entry.Answer `json:"answers"`
	RememberTool bool           `json:"remember_tool"`
}

// Respond answers a pending permission or question request.
func (h *TaskHandler) Respond(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		Error(w, http.StatusBadRequest, "request_id is required")
		return
	}
	err := h.orch.Respond(r.Context(), taskID, orchestrator.RespondInput{
		RequestID:    req.RequestID,
		Allow:        req.Allow,
		Message:      req.Message,
		Answers:      req.Answers,
		RememberTool: req.RememberTool,
	})
	if err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func (h *TaskHandler) taskError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "task not found")
		return
	}
	slog.Error("Task lookup failed", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

func (h *TaskHandler) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "task not found")
	case errors.Is(err, orchestrator.ErrSessionActive):
		Error(w, http.StatusConflict, "session already active")
	case errors.Is(err, orchestrator.ErrNoSession):
		Error(w, http.StatusNotFound, "no active session")
	case errors.Is(err, orchestrator.ErrNoSuchRequest):
		Error(w, http.StatusNotFound, "no such pending request")
	case errors.Is(err, orchestrator.ErrNoSuchPrompt):
		Error(w, http.StatusNotFound, "no such queued prompt")
	case errors.Is(err, orchestrator.ErrUnknownBackend):
		Error(w, http.StatusBadRequest, "unknown backend")
	default:
		slog.Error("Session operation failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
