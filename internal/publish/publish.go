// Package publish fans session events out to connected UI clients.
package publish

import (
	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/entry"
)

// Publisher delivers the UI-facing event kinds. Implementations must be safe
// for concurrent use; delivery is best effort and never blocks the caller.
type Publisher interface {
	// StatusChanged announces a task status transition.
	StatusChanged(taskID string, status domain.TaskStatus, lastError string)

	// EntryUpserted announces a new or updated log entry at its index.
	EntryUpserted(taskID string, index int64, e *entry.Entry)

	// PermissionRequested announces a pending tool authorization.
	// sessionAllow names the tools a remember-this-tool answer would
	// pre-allow for the rest of the session.
	PermissionRequested(taskID, requestID, toolName string, input any, sessionAllow []string)

	// QuestionRequested announces a pending multi-question prompt.
	QuestionRequested(taskID, requestID string, questions []entry.Question)

	// QueueUpdated announces the current queued prompt list.
	QueueUpdated(taskID string, queue []domain.QueuedPrompt)
}

// uiMessage is the wire envelope every published event travels in.
type uiMessage struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Payload any    `json:"payload,omitempty"`
}

type statusPayload struct {
	Status    domain.TaskStatus `json:"status"`
	LastError string            `json:"last_error,omitempty"`
}

type entryPayload struct {
	Index int64        `json:"index"`
	Entry *entry.Entry `json:"entry"`
}

type permissionPayload struct {
	RequestID           string   `json:"request_id"`
	ToolName            string   `json:"tool_name"`
	Input               any      `json:"input,omitempty"`
	SessionAllowOptions []string `json:"session_allow_options,omitempty"`
}

type questionPayload struct {
	RequestID string           `json:"request_id"`
	Questions []entry.Question `json:"questions"`
}

type queuePayload struct {
	Queue []domain.QueuedPrompt `json:"queue"`
}

// NopPublisher discards every event. Useful for recovery paths and tests.
type NopPublisher struct{}

func (NopPublisher) StatusChanged(string, domain.TaskStatus, string)           {}
func (NopPublisher) EntryUpserted(string, int64, *entry.Entry)                 {}
func (NopPublisher) PermissionRequested(string, string, string, any, []string) {}
func (NopPublisher) QuestionRequested(string, string, []entry.Question)        {}
func (NopPublisher) QueueUpdated(string, []domain.QueuedPrompt)                {}
