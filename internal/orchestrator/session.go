package orchestrator

import (
	"context"
	"sync"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/engine"
	"github.com/agentboard/agentboard/internal/entry"
	"github.com/agentboard/agentboard/internal/normalize"
)

// RequestKind distinguishes the two blocking callback shapes.
type RequestKind string

const (
	// KindPermission asks the user to approve or deny one tool call.
	KindPermission RequestKind = "permission"
	// KindQuestion asks the user to answer the engine's questions.
	KindQuestion RequestKind = "question"
)

// PendingRequest is one unanswered engine callback. Requests resolve in FIFO
// order; only the head is shown to the user at a time.
type PendingRequest struct {
	ID        string           `json:"id"`
	Kind      RequestKind      `json:"kind"`
	ToolName  string           `json:"tool_name"`
	Input     any              `json:"input,omitempty"`
	Questions []entry.Question `json:"questions,omitempty"`
	// SessionAllow names the tools a remember-this-tool answer would add to
	// the task's allow-list. Empty for question requests.
	SessionAllow []string `json:"session_allow_options,omitempty"`

	reply chan engine.Decision
}

// session is the in-memory state of one live task session. One session per
// task; the orchestrator's map enforces that.
type session struct {
	taskID string
	cancel context.CancelFunc
	// nctx lives as long as the session: entry ids stay marked emitted
	// across the turns of a queued-prompt drain.
	nctx *normalize.Context

	mu          sync.Mutex
	stopped     bool
	pending     []*PendingRequest
	promptQueue []domain.QueuedPrompt
	nextIndex   int64
	entryIndex  map[string]int64
}

func newSession(taskID string, startIndex int64, cancel context.CancelFunc) *session {
	return &session{
		taskID:     taskID,
		cancel:     cancel,
		nctx:       normalize.NewContext(),
		nextIndex:  startIndex,
		entryIndex: make(map[string]int64),
	}
}

// allocIndex hands out the next entry index. Indices are strictly increasing
// for the lifetime of the session and never reused.
func (s *session) allocIndex(entryID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextIndex
	s.nextIndex++
	s.entryIndex[entryID] = idx
	return idx
}

// indexOf returns the index a previously introduced entry was assigned.
func (s *session) indexOf(entryID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.entryIndex[entryID]
	return idx, ok
}

// enqueueRequest appends a pending request and reports whether it became the
// head, meaning it should be announced to the user now.
func (s *session) enqueueRequest(req *PendingRequest) (isHead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, req)
	return len(s.pending) == 1
}

// resolveRequest answers the identified request and removes it from the
// queue. It returns the new head if the head changed and one remains.
func (s *session) resolveRequest(requestID string, decision engine.Decision) (next *PendingRequest, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, req := range s.pending {
		if req.ID != requestID {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		req.reply <- decision
		if i == 0 && len(s.pending) > 0 {
			return s.pending[0], true
		}
		return nil, true
	}
	return nil, false
}

// denyAllPending answers every outstanding request with a denial. Used when
// the session is being torn down.
func (s *session) denyAllPending(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.pending {
		req.reply <- engine.Decision{Allow: false, Message: reason}
	}
	s.pending = nil
}

func (s *session) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *session) pendingSnapshot() []*PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*PendingRequest, len(s.pending))
	copy(out, s.pending)
	return out
}

func (s *session) markStopped() (alreadyStopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return true
	}
	s.stopped = true
	return false
}

func (s *session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// queuePrompt appends a follow-up prompt and returns the updated queue.
func (s *session) queuePrompt(p domain.QueuedPrompt) []domain.QueuedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptQueue = append(s.promptQueue, p)
	return s.queueSnapshotLocked()
}

// cancelPrompt removes a queued prompt by id. It reports whether the prompt
// existed and returns the updated queue.
func (s *session) cancelPrompt(promptID string) ([]domain.QueuedPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.promptQueue {
		if p.ID == promptID {
			s.promptQueue = append(s.promptQueue[:i], s.promptQueue[i+1:]...)
			return s.queueSnapshotLocked(), true
		}
	}
	return nil, false
}

// clearQueue discards every queued prompt and returns the empty queue.
func (s *session) clearQueue() []domain.QueuedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptQueue = nil
	return []domain.QueuedPrompt{}
}

// popPrompt removes and returns the oldest queued prompt.
func (s *session) popPrompt() (domain.QueuedPrompt, []domain.QueuedPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.promptQueue) == 0 {
		return domain.QueuedPrompt{}, nil, false
	}
	p := s.promptQueue[0]
	s.promptQueue = s.promptQueue[1:]
	return p, s.queueSnapshotLocked(), true
}

func (s *session) queueSnapshot() []domain.QueuedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSnapshotLocked()
}

func (s *session) queueSnapshotLocked() []domain.QueuedPrompt {
	out := make([]domain.QueuedPrompt, len(s.promptQueue))
	copy(out, s.promptQueue)
	return out
}
