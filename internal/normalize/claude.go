package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/agentboard/agentboard/internal/entry"
)

// claudeNormalizer maps the claude CLI's stream-json data onto the canonical
// entry model. The raw stream interleaves system notices, assistant content
// blocks, user-side tool results, and a terminal result datum.
type claudeNormalizer struct{}

// NewClaude returns the normalizer for the claude backend.
func NewClaude() Normalizer {
	return claudeNormalizer{}
}

// Raw datum envelopes, one per declared kind. Only the fields normalization
// needs are decoded; everything else rides along untouched.

type claudeEnvelope struct {
	Type string `json:"type"`
}

type claudeSystemDatum struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type claudeMessageDatum struct {
	Message struct {
		ID      string            `json:"id"`
		Model   string            `json:"model"`
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
	ParentToolUseID string          `json:"parent_tool_use_id"`
	SessionID       string          `json:"session_id"`
	ToolUseResult   json.RawMessage `json:"toolUseResult"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type claudeResultDatum struct {
	Subtype    string  `json:"subtype"`
	IsError    bool    `json:"is_error"`
	DurationMS int64   `json:"duration_ms"`
	CostUSD    float64 `json:"total_cost_usd"`
	Result     string  `json:"result"`
	SessionID  string  `json:"session_id"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (claudeNormalizer) Normalize(raw json.RawMessage, ctx *Context) ([]Event, error) {
	var env claudeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("claude: decode envelope: %w", err)
	}

	switch env.Type {
	case "system":
		return normalizeClaudeSystem(raw, ctx)
	case "assistant":
		return normalizeClaudeAssistant(raw, ctx)
	case "user":
		return normalizeClaudeUser(raw, ctx)
	case "result":
		return normalizeClaudeResult(raw)
	case "rate_limit":
		var datum claudeSystemDatum
		if err := json.Unmarshal(raw, &datum); err != nil {
			return nil, fmt.Errorf("claude: decode rate_limit: %w", err)
		}
		return []Event{RateLimitEvent{Message: datum.Message}}, nil
	default:
		// Partial stream events and internal bookkeeping have no
		// normalized representation.
		return nil, nil
	}
}

func normalizeClaudeSystem(raw json.RawMessage, ctx *Context) ([]Event, error) {
	var datum claudeSystemDatum
	if err := json.Unmarshal(raw, &datum); err != nil {
		return nil, fmt.Errorf("claude: decode system: %w", err)
	}

	switch datum.Subtype {
	case "init":
		if datum.SessionID == "" || ctx.SessionIDSurfaced() {
			return nil, nil
		}
		return []Event{SessionIDEvent{ID: datum.SessionID}}, nil
	case "compact_boundary":
		e := &entry.Entry{
			ID:        "compact:" + datum.SessionID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10),
			Type:      entry.TypeSystemStatus,
			Timestamp: time.Now().UTC(),
			Text:      "Conversation history compacted",
		}
		return []Event{EntryEvent{Entry: e}}, nil
	default:
		return nil, nil
	}
}

func normalizeClaudeAssistant(raw json.RawMessage, ctx *Context) ([]Event, error) {
	var datum claudeMessageDatum
	if err := json.Unmarshal(raw, &datum); err != nil {
		return nil, fmt.Errorf("claude: decode assistant: %w", err)
	}

	var events []Event
	for i, rawBlock := range datum.Message.Content {
		var block claudeContentBlock
		if err := json.Unmarshal(rawBlock, &block); err != nil {
			return nil, fmt.Errorf("claude: decode content block: %w", err)
		}

		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			e := &entry.Entry{
				ID:           datum.Message.ID + ":" + strconv.Itoa(i),
				Type:         entry.TypeAssistantMessage,
				Timestamp:    time.Now().UTC(),
				Model:        datum.Message.Model,
				ParentToolID: datum.ParentToolUseID,
				Text:         block.Text,
			}
			events = append(events, introduceOrPatch(ctx, e))
		case "tool_use":
			e := &entry.Entry{
				ID:           block.ID,
				Type:         entry.TypeToolUse,
				Timestamp:    time.Now().UTC(),
				Model:        datum.Message.Model,
				ParentToolID: datum.ParentToolUseID,
				Tool:         MapToolUse(block.Name, block.Input),
			}
			events = append(events, introduceOrPatch(ctx, e))
		}
	}
	return events, nil
}

func normalizeClaudeUser(raw json.RawMessage, ctx *Context) ([]Event, error) {
	var datum claudeMessageDatum
	if err := json.Unmarshal(raw, &datum); err != nil {
		return nil, fmt.Errorf("claude: decode user: %w", err)
	}

	var events []Event
	for _, rawBlock := range datum.Message.Content {
		var block claudeContentBlock
		if err := json.Unmarshal(rawBlock, &block); err != nil {
			return nil, fmt.Errorf("claude: decode content block: %w", err)
		}
		if block.Type != "tool_result" {
			continue
		}

		content := flattenClaudeContent(block.Content)
		pending, ok := ctx.PendingToolUse(block.ToolUseID)
		if !ok {
			// Tool use never observed this run (resumed session).
			// Leave it untyped for the persistence layer to reconcile.
			events = append(events, OrphanToolResultEvent{
				CallID:  block.ToolUseID,
				Content: content,
				IsError: block.IsError,
			})
			continue
		}

		resultRaw := datum.ToolUseResult
		if len(resultRaw) == 0 {
			resultRaw = rawBlock
		}
		updated := *pending
		tool := *pending.Tool
		tool.Output = MapToolResult(tool.Name, resultRaw, content, block.IsError)
		updated.Tool = &tool
		events = append(events, EntryUpdateEvent{Entry: &updated})
	}
	return events, nil
}

func normalizeClaudeResult(raw json.RawMessage) ([]Event, error) {
	var datum claudeResultDatum
	if err := json.Unmarshal(raw, &datum); err != nil {
		return nil, fmt.Errorf("claude: decode result: %w", err)
	}

	e := &entry.Entry{
		ID:        "result:" + datum.SessionID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      entry.TypeResult,
		Timestamp: time.Now().UTC(),
		Result: &entry.TurnResult{
			IsError:      datum.IsError,
			Summary:      datum.Result,
			CostUSD:      datum.CostUSD,
			DurationMS:   datum.DurationMS,
			InputTokens:  datum.Usage.InputTokens,
			OutputTokens: datum.Usage.OutputTokens,
		},
	}
	complete := CompleteEvent{
		IsError:    datum.IsError,
		CostUSD:    datum.CostUSD,
		DurationMS: datum.DurationMS,
	}
	if datum.IsError {
		complete.ErrorMessage = datum.Result
		if complete.ErrorMessage == "" {
			complete.ErrorMessage = datum.Subtype
		}
	}
	return []Event{EntryEvent{Entry: e}, complete}, nil
}

// introduceOrPatch routes an entry to entry or entry-update depending on
// whether its id has been emitted before. A re-announced id must always
// patch, never introduce.
func introduceOrPatch(ctx *Context, e *entry.Entry) Event {
	if ctx.Emitted(e.ID) {
		return EntryUpdateEvent{Entry: e}
	}
	return EntryEvent{Entry: e}
}

// flattenClaudeContent renders a tool result's content, which may be a bare
// string or a list of text blocks, as plain text.
func flattenClaudeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var out string
	for _, block := range blocks {
		if block.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += block.Text
		}
	}
	return out
}
