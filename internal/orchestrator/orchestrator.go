// Package orchestrator drives agent sessions: it starts engine turns, feeds
// the raw streams through the normalizers, persists and publishes the
// resulting entries, and arbitrates blocking authorization callbacks.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/engine"
	"github.com/agentboard/agentboard/internal/entry"
	"github.com/agentboard/agentboard/internal/normalize"
	"github.com/agentboard/agentboard/internal/publish"
	"github.com/agentboard/agentboard/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrSessionActive is returned when the task already has a live session.
	ErrSessionActive = errors.New("orchestrator: session already active")
	// ErrNoSession is returned for session-scoped operations on idle tasks.
	ErrNoSession = errors.New("orchestrator: no active session")
	// ErrNoSuchRequest is returned when the identified pending request does
	// not exist, typically because it was already answered.
	ErrNoSuchRequest = errors.New("orchestrator: no such pending request")
	// ErrNoSuchPrompt is returned when a queued prompt id is unknown.
	ErrNoSuchPrompt = errors.New("orchestrator: no such queued prompt")
	// ErrUnknownBackend is returned when a task names a backend that has no
	// registered engine.
	ErrUnknownBackend = errors.New("orchestrator: unknown backend")
)

// Backend pairs an engine with the normalizer for its raw stream.
type Backend struct {
	Engine     engine.Engine
	Normalizer normalize.Normalizer
}

// RespondInput is the user's answer to a pending request.
type RespondInput struct {
	RequestID string
	Allow     bool
	Message   string
	Answers   []entry.Answer
	// RememberTool adds the tool to the task's allow-list so later calls
	// to the same tool skip the round-trip.
	RememberTool bool
}

// Orchestrator owns the live session registry. One session per task.
type Orchestrator struct {
	repo     store.Repository
	pub      publish.Publisher
	backends map[string]Backend
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an orchestrator over the given backends.
func New(repo store.Repository, pub publish.Publisher, backends map[string]Backend, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:     repo,
		pub:      pub,
		backends: backends,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Backends returns the registered backend names.
func (o *Orchestrator) Backends() []string {
	names := make([]string, 0, len(o.backends))
	for name := range o.backends {
		names = append(names, name)
	}
	return names
}

// StartTask begins a fresh session for the task using its stored prompt.
// Fails with ErrSessionActive if a session is already live; the existing
// session is left untouched.
func (o *Orchestrator) StartTask(ctx context.Context, taskID string) error {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	return o.begin(ctx, task, task.Prompt)
}

// SendMessage starts a new turn on the task's existing conversation. A live
// session is stopped first; the new turn picks the conversation back up
// through the persisted resume token.
func (o *Orchestrator) SendMessage(ctx context.Context, taskID, text string) error {
	if err := o.Stop(ctx, taskID); err != nil {
		return fmt.Errorf("stop active session: %w", err)
	}
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	return o.begin(ctx, task, text)
}

// begin registers a session for the task and launches its turn loop.
func (o *Orchestrator) begin(ctx context.Context, task *domain.Task, prompt string) error {
	backend, ok := o.backends[task.Backend]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, task.Backend)
	}

	startIndex, err := o.repo.CountEntries(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := newSession(task.ID, startIndex, cancel)

	o.mu.Lock()
	if _, exists := o.sessions[task.ID]; exists {
		o.mu.Unlock()
		cancel()
		return ErrSessionActive
	}
	o.sessions[task.ID] = sess
	o.mu.Unlock()

	go o.runSession(sessCtx, sess, backend, task, prompt)
	return nil
}

// QueuePrompt adds a follow-up prompt to the live session's queue. The queue
// drains automatically when the current turn completes cleanly.
func (o *Orchestrator) QueuePrompt(ctx context.Context, taskID, text string) (*domain.QueuedPrompt, error) {
	sess, ok := o.lookup(taskID)
	if !ok {
		return nil, ErrNoSession
	}
	p := domain.QueuedPrompt{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	queue := sess.queuePrompt(p)
	o.pub.QueueUpdated(taskID, queue)
	return &p, nil
}

// CancelQueuedPrompt removes a not-yet-drained prompt from the queue.
func (o *Orchestrator) CancelQueuedPrompt(ctx context.Context, taskID, promptID string) error {
	sess, ok := o.lookup(taskID)
	if !ok {
		return ErrNoSession
	}
	queue, found := sess.cancelPrompt(promptID)
	if !found {
		return ErrNoSuchPrompt
	}
	o.pub.QueueUpdated(taskID, queue)
	return nil
}

// QueuedPrompts returns the live session's queued prompts, if any.
func (o *Orchestrator) QueuedPrompts(taskID string) []domain.QueuedPrompt {
	sess, ok := o.lookup(taskID)
	if !ok {
		return nil
	}
	return sess.queueSnapshot()
}

// PendingRequests returns the live session's unanswered requests, if any.
func (o *Orchestrator) PendingRequests(taskID string) []*PendingRequest {
	sess, ok := o.lookup(taskID)
	if !ok {
		return nil
	}
	return sess.pendingSnapshot()
}

// Stop interrupts the task's live session. Queued prompts are discarded,
// outstanding requests are denied, the engine process is torn down, and the
// log records the interruption. A task with no live session is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, taskID string) error {
	sess, ok := o.lookup(taskID)
	if !ok {
		return nil
	}
	if sess.markStopped() {
		return nil
	}

	o.pub.QueueUpdated(taskID, sess.clearQueue())
	sess.denyAllPending("interrupted by user")
	sess.cancel()

	e := &entry.Entry{
		ID:        "interrupt:" + uuid.NewString(),
		Type:      entry.TypeResult,
		Timestamp: time.Now().UTC(),
		Result:    &entry.TurnResult{IsError: true, Summary: "interrupted by user"},
	}
	o.persistNewEntry(ctx, sess, taskID, e)
	o.setStatus(ctx, taskID, domain.StatusInterrupted, "interrupted by user")
	o.removeSession(taskID, sess)
	return nil
}

// Respond answers a pending permission or question request.
func (o *Orchestrator) Respond(ctx context.Context, taskID string, input RespondInput) error {
	sess, ok := o.lookup(taskID)
	if !ok {
		return ErrNoSession
	}

	// Locate the request first so the allow-list write only happens for a
	// real answer.
	var target *PendingRequest
	for _, req := range sess.pendingSnapshot() {
		if req.ID == input.RequestID {
			target = req
			break
		}
	}
	if target == nil {
		return ErrNoSuchRequest
	}

	if input.RememberTool && input.Allow && target.ToolName != "" {
		if err := o.rememberTool(ctx, taskID, target.ToolName); err != nil {
			o.logger.Warn("failed to persist tool allow-list", "task_id", taskID, "tool", target.ToolName, "error", err)
		}
	}

	decision := engine.Decision{Allow: input.Allow, Message: input.Message, Answers: input.Answers}
	next, resolved := sess.resolveRequest(input.RequestID, decision)
	if !resolved {
		return ErrNoSuchRequest
	}

	if next != nil {
		o.publishRequest(taskID, next)
	} else if !sess.hasPending() && !sess.isStopped() {
		o.setStatus(ctx, taskID, domain.StatusRunning, "")
	}
	return nil
}

// RecoverStaleTasks reconciles tasks left running or waiting by an unclean
// shutdown. Called once at startup before any session exists; it publishes
// nothing because no client is connected yet.
func (o *Orchestrator) RecoverStaleTasks(ctx context.Context) error {
	stale, err := o.repo.ListTasksByStatus(ctx, domain.StatusRunning, domain.StatusWaiting)
	if err != nil {
		return fmt.Errorf("list stale tasks: %w", err)
	}
	for _, task := range stale {
		status := domain.StatusInterrupted
		lastErr := "interrupted by server restart"
		if err := o.repo.UpdateTask(ctx, task.ID, store.TaskUpdate{Status: &status, LastError: &lastErr}); err != nil {
			return fmt.Errorf("recover task %s: %w", task.ID, err)
		}
		o.logger.Info("recovered stale task", "task_id", task.ID, "previous_status", task.Status)
	}
	return nil
}

func (o *Orchestrator) lookup(taskID string) (*session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[taskID]
	return sess, ok
}

// removeSession unregisters sess only if it is still the task's current
// session. A stale goroutine winding down after a stop must never evict the
// successor registered in its place.
func (o *Orchestrator) removeSession(taskID string, sess *session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[taskID] == sess {
		delete(o.sessions, taskID)
	}
}

// rememberTool appends the tool to the task's persisted allow-list.
func (o *Orchestrator) rememberTool(ctx context.Context, taskID, toolName string) error {
	task, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.ToolAllowed(toolName) {
		return nil
	}
	allowed := append(task.AllowedTools, toolName)
	return o.repo.UpdateTask(ctx, taskID, store.TaskUpdate{AllowedTools: &allowed})
}

// setStatus persists and publishes a status transition. Persistence failures
// are logged and swallowed so a flaky disk cannot kill a live stream.
func (o *Orchestrator) setStatus(ctx context.Context, taskID string, status domain.TaskStatus, lastErr string) {
	if err := o.repo.UpdateTask(ctx, taskID, store.TaskUpdate{Status: &status, LastError: &lastErr}); err != nil {
		o.logger.Error("failed to persist task status", "task_id", taskID, "status", status, "error", err)
	}
	o.pub.StatusChanged(taskID, status, lastErr)
}

func (o *Orchestrator) publishRequest(taskID string, req *PendingRequest) {
	switch req.Kind {
	case KindQuestion:
		o.pub.QuestionRequested(taskID, req.ID, req.Questions)
	default:
		o.pub.PermissionRequested(taskID, req.ID, req.ToolName, req.Input, req.SessionAllow)
	}
}

// persistNewEntry assigns the next index, persists, and publishes an entry.
// Persistence failures are logged and swallowed.
func (o *Orchestrator) persistNewEntry(ctx context.Context, sess *session, taskID string, e *entry.Entry) {
	idx := sess.allocIndex(e.ID)
	data, err := json.Marshal(e)
	if err != nil {
		o.logger.Error("failed to encode entry", "task_id", taskID, "entry_id", e.ID, "error", err)
		return
	}
	if err := o.repo.AppendEntry(ctx, taskID, idx, e.ID, data); err != nil {
		o.logger.Error("failed to persist entry", "task_id", taskID, "entry_id", e.ID, "error", err)
	}
	o.pub.EntryUpserted(taskID, idx, e)
}
