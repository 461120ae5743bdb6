package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/engine"
	"github.com/agentboard/agentboard/internal/entry"
	"github.com/agentboard/agentboard/internal/normalize"
	"github.com/agentboard/agentboard/internal/store"
	"github.com/google/uuid"
)

// turnOutcome summarizes how one engine turn ended.
type turnOutcome struct {
	completed bool
	isError   bool
	errMsg    string
}

// runSession is the session goroutine: it runs turns until the queue is
// empty, a turn fails, or the session is stopped.
func (o *Orchestrator) runSession(ctx context.Context, sess *session, backend Backend, task *domain.Task, prompt string) {
	defer o.removeSession(task.ID, sess)

	for {
		outcome := o.runTurn(ctx, sess, backend, task, prompt)
		if sess.isStopped() {
			// Stop already wrote the interruption record and status.
			return
		}

		switch {
		case outcome.completed && !outcome.isError:
			// Clean completion drains the prompt queue before the
			// session ends.
			next, queue, ok := sess.popPrompt()
			if !ok {
				o.setStatus(ctx, task.ID, domain.StatusCompleted, "")
				return
			}
			o.pub.QueueUpdated(task.ID, queue)
			refreshed, err := o.repo.GetTask(ctx, task.ID)
			if err != nil {
				o.logger.Error("failed to reload task for queued prompt", "task_id", task.ID, "error", err)
				o.setStatus(ctx, task.ID, domain.StatusErrored, "failed to reload task")
				return
			}
			task = refreshed
			prompt = next.Text
		default:
			msg := outcome.errMsg
			if msg == "" {
				msg = "engine turn failed"
			}
			o.setStatus(ctx, task.ID, domain.StatusErrored, msg)
			return
		}
	}
}

// runTurn executes one engine turn: record the user prompt, stream raw data
// through the normalizer, persist and publish each resulting entry.
func (o *Orchestrator) runTurn(ctx context.Context, sess *session, backend Backend, task *domain.Task, prompt string) turnOutcome {
	o.setStatus(ctx, task.ID, domain.StatusRunning, "")

	userEntry := &entry.Entry{
		ID:        "prompt:" + uuid.NewString(),
		Type:      entry.TypeUserPrompt,
		Timestamp: time.Now().UTC(),
		Text:      prompt,
	}
	o.persistNewEntry(ctx, sess, task.ID, userEntry)

	opts := engine.TurnOptions{
		ResumeToken: task.ResumeToken,
		Mode:        task.Mode,
		WorkDir:     task.WorkDir,
		Authorize:   o.arbiter(ctx, sess, task.ID),
	}

	var outcome turnOutcome

	for raw, err := range backend.Engine.RunTurn(ctx, prompt, opts) {
		if err != nil {
			if sess.isStopped() {
				return outcome
			}
			o.logger.Error("engine stream failed", "task_id", task.ID, "backend", backend.Engine.Name(), "error", err)
			outcome.errMsg = err.Error()
			return outcome
		}

		events, err := backend.Normalizer.Normalize(raw, sess.nctx)
		if err != nil {
			// A single malformed datum is dropped, not fatal.
			o.logger.Warn("failed to normalize event", "task_id", task.ID, "error", err)
			continue
		}
		for _, ev := range events {
			o.applyEvent(ctx, sess, task, ev)
			sess.nctx.Observe(ev)
			if complete, ok := ev.(normalize.CompleteEvent); ok {
				outcome.completed = true
				outcome.isError = complete.IsError
				outcome.errMsg = complete.ErrorMessage
			}
		}
	}

	if !outcome.completed && !sess.isStopped() {
		outcome.errMsg = "engine stream ended without a result"
	}
	return outcome
}

// applyEvent persists and publishes one normalized event.
func (o *Orchestrator) applyEvent(ctx context.Context, sess *session, task *domain.Task, ev normalize.Event) {
	switch e := ev.(type) {
	case normalize.EntryEvent:
		o.persistNewEntry(ctx, sess, task.ID, e.Entry)

	case normalize.EntryUpdateEvent:
		o.persistEntryUpdate(ctx, sess, task.ID, e.Entry)

	case normalize.SessionIDEvent:
		if task.ResumeToken != "" {
			return
		}
		task.ResumeToken = e.ID
		token := e.ID
		if err := o.repo.UpdateTask(ctx, task.ID, store.TaskUpdate{ResumeToken: &token}); err != nil {
			o.logger.Error("failed to persist resume token", "task_id", task.ID, "error", err)
		}

	case normalize.OrphanToolResultEvent:
		// A result whose tool call this run never saw, typically after a
		// resume. Recorded as an unknown tool entry so nothing is lost.
		orphan := &entry.Entry{
			ID:        e.CallID,
			Type:      entry.TypeToolUse,
			Timestamp: time.Now().UTC(),
			Tool: &entry.ToolCall{
				Name:   entry.ToolUnknown,
				Output: &entry.GenericOutput{Raw: mustJSON(e.Content), IsError: e.IsError},
			},
		}
		o.persistNewEntry(ctx, sess, task.ID, orphan)

	case normalize.RateLimitEvent:
		notice := &entry.Entry{
			ID:        "ratelimit:" + uuid.NewString(),
			Type:      entry.TypeSystemStatus,
			Timestamp: time.Now().UTC(),
			Text:      e.Message,
		}
		o.persistNewEntry(ctx, sess, task.ID, notice)

	case normalize.ErrorEvent:
		o.logger.Warn("engine reported error", "task_id", task.ID, "message", e.Message)

	case normalize.PermissionNoticeEvent:
		// Informational only; the blocking request comes through the
		// authorization callback.
		o.logger.Debug("engine permission notice", "task_id", task.ID, "tool", e.ToolName)
	}
}

// persistEntryUpdate overwrites an already-introduced entry in place, keeping
// its original index.
func (o *Orchestrator) persistEntryUpdate(ctx context.Context, sess *session, taskID string, e *entry.Entry) {
	idx, ok := sess.indexOf(e.ID)
	if !ok {
		// Update for an entry introduced before this process started.
		o.persistNewEntry(ctx, sess, taskID, e)
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		o.logger.Error("failed to encode entry", "task_id", taskID, "entry_id", e.ID, "error", err)
		return
	}
	if err := o.repo.UpdateEntry(ctx, taskID, e.ID, data); err != nil {
		o.logger.Error("failed to persist entry update", "task_id", taskID, "entry_id", e.ID, "error", err)
	}
	o.pub.EntryUpserted(taskID, idx, e)
}

// arbiter builds the authorization callback for one turn. Allow-listed tools
// short-circuit; everything else parks as a pending request until the user
// answers or the session stops.
func (o *Orchestrator) arbiter(ctx context.Context, sess *session, taskID string) engine.AuthorizeFunc {
	return func(reqCtx context.Context, req engine.AuthRequest) (engine.Decision, error) {
		task, err := o.repo.GetTask(ctx, taskID)
		if err == nil && task.ToolAllowed(req.ToolName) {
			return engine.Decision{Allow: true}, nil
		}

		pending := &PendingRequest{
			ID:           uuid.NewString(),
			Kind:         KindPermission,
			ToolName:     req.ToolName,
			Input:        json.RawMessage(req.Input),
			SessionAllow: []string{req.ToolName},
			reply:        make(chan engine.Decision, 1),
		}
		if req.ToolName == normalize.AskUserToolName {
			pending.Kind = KindQuestion
			pending.SessionAllow = nil
			var ask entry.AskUserInput
			if err := json.Unmarshal(req.Input, &ask); err != nil {
				o.logger.Warn("failed to decode question input", "task_id", taskID, "error", err)
			}
			pending.Questions = ask.Questions
		}

		if sess.enqueueRequest(pending) {
			o.setStatus(ctx, taskID, domain.StatusWaiting, "")
			o.publishRequest(taskID, pending)
		}

		select {
		case decision := <-pending.reply:
			return decision, nil
		case <-reqCtx.Done():
			return drainReply(pending, reqCtx.Err())
		case <-ctx.Done():
			return drainReply(pending, ctx.Err())
		}
	}
}

// drainReply prefers an answer that raced with cancellation. Stop denies
// pending requests before cancelling, and that denial must reach the engine.
func drainReply(pending *PendingRequest, ctxErr error) (engine.Decision, error) {
	select {
	case decision := <-pending.reply:
		return decision, nil
	default:
		return engine.Decision{}, ctxErr
	}
}

func mustJSON(s string) json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return data
}
