// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentboard/agentboard/internal/domain"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TaskUpdate is a partial update of a task's mutable fields. Nil fields are
// left untouched.
type TaskUpdate struct {
	Status       *domain.TaskStatus
	LastError    *string
	ResumeToken  *string
	AllowedTools *[]string
	Mode         *domain.InteractionMode
}

// StoredEntry is one persisted log entry: the task-scoped index plus the
// serialized canonical entry.
type StoredEntry struct {
	Index   int64
	EntryID string
	Data    json.RawMessage
}

// Repository defines the interface for persisting tasks and their entry logs.
type Repository interface {
	// CreateTask inserts a new task record.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by id. Returns ErrNotFound if absent.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// ListTasks retrieves all tasks, newest first.
	ListTasks(ctx context.Context) ([]*domain.Task, error)

	// ListTasksByStatus retrieves tasks in any of the given statuses.
	ListTasksByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error)

	// UpdateTask applies a partial update to a task. Returns ErrNotFound
	// if the task does not exist.
	UpdateTask(ctx context.Context, taskID string, update TaskUpdate) error

	// AppendEntry persists a new log entry at the given index.
	AppendEntry(ctx context.Context, taskID string, index int64, entryID string, data json.RawMessage) error

	// UpdateEntry overwrites the serialized form of an existing entry,
	// keeping its index. Returns ErrNotFound if no such entry exists.
	UpdateEntry(ctx context.Context, taskID string, entryID string, data json.RawMessage) error

	// CountEntries returns the number of persisted entries for a task.
	CountEntries(ctx context.Context, taskID string) (int64, error)

	// ListEntries retrieves a task's entries in index order.
	ListEntries(ctx context.Context, taskID string) ([]StoredEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
