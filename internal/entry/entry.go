// Package entry defines the canonical, backend-independent unit of session
// output. Every raw engine datum that survives normalization becomes exactly
// one Entry, persisted under a strictly increasing per-task index and pushed
// to the UI as-is.
package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the closed set of entry variants.
type Type string

const (
	// TypeUserPrompt is a prompt submitted by the user.
	TypeUserPrompt Type = "user_prompt"
	// TypeAssistantMessage is assistant-authored text.
	TypeAssistantMessage Type = "assistant_message"
	// TypeToolUse is a tool invocation, later patched with its result.
	TypeToolUse Type = "tool_use"
	// TypeSystemStatus is an engine-side status note (e.g. compaction).
	TypeSystemStatus Type = "system_status"
	// TypeResult is the turn-level outcome with cost and usage.
	TypeResult Type = "result"
)

// Entry is one normalized, persisted, publishable unit of session output.
type Entry struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Model tags the originating model when the backend reports one.
	Model string `json:"model,omitempty"`
	// ParentToolID links entries produced inside a sub-agent to the
	// delegating tool call.
	ParentToolID string `json:"parent_tool_id,omitempty"`
	// Text carries the content for prompt, message, and status entries.
	Text string `json:"text,omitempty"`
	// Tool is set for TypeToolUse entries only.
	Tool *ToolCall `json:"tool,omitempty"`
	// Result is set for TypeResult entries only.
	Result *TurnResult `json:"result,omitempty"`
}

// TurnResult is the terminal outcome of one engine turn.
type TurnResult struct {
	IsError      bool    `json:"is_error"`
	Summary      string  `json:"summary,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
}

// Decode parses an entry from its canonical JSON form, restoring the typed
// tool input/output shapes. This is the inverse of json.Marshal on Entry.
func Decode(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}
