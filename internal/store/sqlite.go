package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		prompt TEXT NOT NULL,
		backend TEXT NOT NULL,
		work_dir TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT,
		resume_token TEXT,
		allowed_tools_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS entries (
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, idx)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_entry_id ON entries(task_id, entry_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
	INSERT INTO tasks (task_id, title, prompt, backend, work_dir, mode, status,
		last_error, resume_token, allowed_tools_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	allowedJSON, err := marshalAllowedTools(task.AllowedTools)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.Title, task.Prompt, task.Backend, task.WorkDir,
		string(task.Mode), string(task.Status),
		nullable(task.LastError), nullable(task.ResumeToken), allowedJSON,
		task.CreatedAt.Unix(), task.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := taskSelect + ` WHERE task_id = ?`
	row := s.db.QueryRowContext(ctx, query, taskID)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}
	return task, nil
}

// ListTasks retrieves all tasks, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	query := taskSelect + ` ORDER BY created_at DESC`
	return s.queryTasks(ctx, query)
}

// ListTasksByStatus retrieves tasks in any of the given statuses.
func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := taskSelect + ` WHERE status IN (` + placeholders + `) ORDER BY created_at DESC`

	args := make([]interface{}, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	return s.queryTasks(ctx, query, args...)
}

// UpdateTask applies a partial update to a task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().Unix()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullable(*update.LastError))
	}
	if update.ResumeToken != nil {
		sets = append(sets, "resume_token = ?")
		args = append(args, nullable(*update.ResumeToken))
	}
	if update.AllowedTools != nil {
		allowedJSON, err := marshalAllowedTools(*update.AllowedTools)
		if err != nil {
			return err
		}
		sets = append(sets, "allowed_tools_json = ?")
		args = append(args, allowedJSON)
	}
	if update.Mode != nil {
		sets = append(sets, "mode = ?")
		args = append(args, string(*update.Mode))
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE task_id = ?`
	args = append(args, taskID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEntry persists a new log entry at the given index.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors,
// since appends run on the hot streaming path.
func (s *SQLiteStore) AppendEntry(ctx context.Context, taskID string, index int64, entryID string, data json.RawMessage) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.appendEntryOnce(ctx, taskID, index, entryID, data)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
				slog.Debug("AppendEntry failed with SQLITE_BUSY, retrying",
					"task_id", taskID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("append entry for %s after %d attempts: %w", taskID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) appendEntryOnce(ctx context.Context, taskID string, index int64, entryID string, data json.RawMessage) error {
	query := `INSERT INTO entries (task_id, idx, entry_id, data, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, taskID, index, entryID, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// UpdateEntry overwrites the serialized form of an existing entry.
func (s *SQLiteStore) UpdateEntry(ctx context.Context, taskID string, entryID string, data json.RawMessage) error {
	query := `UPDATE entries SET data = ? WHERE task_id = ? AND entry_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(data), taskID, entryID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntries returns the number of persisted entries for a task.
func (s *SQLiteStore) CountEntries(ctx context.Context, taskID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE task_id = ?`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// ListEntries retrieves a task's entries in index order.
func (s *SQLiteStore) ListEntries(ctx context.Context, taskID string) ([]StoredEntry, error) {
	query := `SELECT idx, entry_id, data FROM entries WHERE task_id = ? ORDER BY idx ASC`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entries rows", "error", closeErr)
		}
	}()

	var entries []StoredEntry
	for rows.Next() {
		var e StoredEntry
		var data string
		if err := rows.Scan(&e.Index, &e.EntryID, &data); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e.Data = json.RawMessage(data)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const taskSelect = `
	SELECT task_id, title, prompt, backend, work_dir, mode, status,
	       last_error, resume_token, allowed_tools_json, created_at, updated_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var mode, status string
	var lastError, resumeToken, allowedJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID, &task.Title, &task.Prompt, &task.Backend, &task.WorkDir,
		&mode, &status, &lastError, &resumeToken, &allowedJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Mode = domain.InteractionMode(mode)
	task.Status = domain.TaskStatus(status)
	task.LastError = lastError.String
	task.ResumeToken = resumeToken.String
	task.CreatedAt = time.Unix(createdAt, 0)
	task.UpdatedAt = time.Unix(updatedAt, 0)

	if allowedJSON.Valid && allowedJSON.String != "" {
		if err := json.Unmarshal([]byte(allowedJSON.String), &task.AllowedTools); err != nil {
			return nil, fmt.Errorf("decode allowed tools: %w", err)
		}
	}
	return &task, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func marshalAllowedTools(tools []string) (interface{}, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("encode allowed tools: %w", err)
	}
	return string(data), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
