// Package engine runs agent turns against external agent CLIs and exposes
// their raw event streams. Each backend pairs with a normalizer in the
// normalize package; this package never interprets the data it yields beyond
// what it needs for approval plumbing.
package engine

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/entry"
)

// AuthRequest is one tool call the engine wants permission for.
type AuthRequest struct {
	ToolName string
	Input    json.RawMessage
}

// Decision is the host's answer to an authorization request.
type Decision struct {
	Allow bool
	// Message carries the denial reason shown to the engine.
	Message string
	// Answers is set when the request was the multi-question tool; it is
	// reshaped into the tool's expected echo-back format by the backend.
	Answers []entry.Answer
}

// AuthorizeFunc is the host callback the engine invokes before executing a
// tool. It blocks the turn until a decision exists; there is no timeout.
type AuthorizeFunc func(ctx context.Context, req AuthRequest) (Decision, error)

// TurnOptions parameterizes one engine turn.
type TurnOptions struct {
	// ResumeToken continues a prior conversation when non-empty.
	ResumeToken string
	// Mode is the task's interaction mode; each backend maps it to a
	// fixed engine-level permission policy.
	Mode domain.InteractionMode
	// WorkDir is the working directory the engine executes in.
	WorkDir string
	// Authorize is invoked for tool calls the engine does not already
	// consider pre-approved. Required unless Mode is ModeAuto.
	Authorize AuthorizeFunc
}

// Engine is one agent backend. RunTurn streams the backend's raw data in
// arrival order; the sequence ends when the turn is over or fails. A non-nil
// error item terminates the sequence.
type Engine interface {
	Name() string
	RunTurn(ctx context.Context, prompt string, opts TurnOptions) iter.Seq2[json.RawMessage, error]
}
