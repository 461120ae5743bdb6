// Package domain contains core domain types for agentboard.
package domain

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	// StatusIdle means the task has never run or is between sessions.
	StatusIdle TaskStatus = "idle"
	// StatusRunning means an engine turn is in flight.
	StatusRunning TaskStatus = "running"
	// StatusWaiting means the engine is suspended on a permission or question.
	StatusWaiting TaskStatus = "waiting"
	// StatusCompleted means the last turn finished without error.
	StatusCompleted TaskStatus = "completed"
	// StatusErrored means the last turn failed.
	StatusErrored TaskStatus = "errored"
	// StatusInterrupted means the task was stopped by the user or reclaimed
	// after an unclean shutdown.
	StatusInterrupted TaskStatus = "interrupted"
)

// IsTerminal returns true if the status marks a finished session.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusErrored, StatusInterrupted:
		return true
	}
	return false
}

// InteractionMode controls how tool authorization is resolved for a task.
type InteractionMode string

const (
	// ModeAsk routes every unlisted tool call to the user.
	ModeAsk InteractionMode = "ask"
	// ModeAuto pre-approves all tool calls at the engine level.
	ModeAuto InteractionMode = "auto"
	// ModePlan restricts the engine to read-only planning tools.
	ModePlan InteractionMode = "plan"
)

// Valid reports whether the mode is one of the known interaction modes.
func (m InteractionMode) Valid() bool {
	switch m {
	case ModeAsk, ModeAuto, ModePlan:
		return true
	}
	return false
}

// Task is a unit of agent work: a prompt, an engine backend, and the
// accumulated session state needed to resume the conversation.
type Task struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Prompt    string          `json:"prompt"`
	Backend   string          `json:"backend"`
	WorkDir   string          `json:"work_dir"`
	Mode      InteractionMode `json:"mode"`
	Status    TaskStatus      `json:"status"`
	LastError string          `json:"last_error,omitempty"`
	// ResumeToken is the engine-reported session identifier, captured the
	// first time a session surfaces it. Empty until then.
	ResumeToken string `json:"resume_token,omitempty"`
	// AllowedTools is the session-scoped allow-list: tool names here are
	// authorized without a round-trip to the user.
	AllowedTools []string  `json:"allowed_tools,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToolAllowed returns true if the named tool is on the task's allow-list.
func (t *Task) ToolAllowed(name string) bool {
	for _, allowed := range t.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// QueuedPrompt is a follow-up prompt submitted while a session was busy.
// It is drained automatically when the current turn completes cleanly.
type QueuedPrompt struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
