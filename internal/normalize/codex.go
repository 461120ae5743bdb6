package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentboard/agentboard/internal/entry"
)

// codexNormalizer maps the codex CLI's thread-item stream onto the canonical
// entry model. Codex re-announces the same item id as its content grows
// (started, updated, completed), so this backend leans on the emitted-id set:
// the first sighting of an id introduces the entry, every later sighting
// patches it.
type codexNormalizer struct{}

// NewCodex returns the normalizer for the codex backend.
func NewCodex() Normalizer {
	return codexNormalizer{}
}

type codexEnvelope struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Message  string          `json:"message"`
	Item     json.RawMessage `json:"item"`
	Error    struct {
		Message string `json:"message"`
	} `json:"error"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type codexItem struct {
	ID               string          `json:"id"`
	ItemType         string          `json:"item_type"`
	Text             string          `json:"text"`
	Command          string          `json:"command"`
	AggregatedOutput string          `json:"aggregated_output"`
	ExitCode         *int            `json:"exit_code"`
	Server           string          `json:"server"`
	Tool             string          `json:"tool"`
	Arguments        json.RawMessage `json:"arguments"`
	Result           json.RawMessage `json:"result"`
	Query            string          `json:"query"`
	Status           string          `json:"status"`
	Changes          []struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"changes"`
	Items []struct {
		Text      string `json:"text"`
		Completed bool   `json:"completed"`
	} `json:"items"`
}

func (codexNormalizer) Normalize(raw json.RawMessage, ctx *Context) ([]Event, error) {
	var env codexEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("codex: decode envelope: %w", err)
	}

	switch env.Type {
	case "thread.started":
		if env.ThreadID == "" || ctx.SessionIDSurfaced() {
			return nil, nil
		}
		return []Event{SessionIDEvent{ID: env.ThreadID}}, nil
	case "item.started", "item.updated", "item.completed":
		return normalizeCodexItem(env, ctx)
	case "turn.completed":
		e := &entry.Entry{
			ID:        "result:" + strconv.FormatInt(time.Now().UnixNano(), 10),
			Type:      entry.TypeResult,
			Timestamp: time.Now().UTC(),
			Result: &entry.TurnResult{
				InputTokens:  env.Usage.InputTokens,
				OutputTokens: env.Usage.OutputTokens,
			},
		}
		return []Event{EntryEvent{Entry: e}, CompleteEvent{}}, nil
	case "turn.failed":
		msg := env.Error.Message
		e := &entry.Entry{
			ID:        "result:" + strconv.FormatInt(time.Now().UnixNano(), 10),
			Type:      entry.TypeResult,
			Timestamp: time.Now().UTC(),
			Result:    &entry.TurnResult{IsError: true, Summary: msg},
		}
		return []Event{EntryEvent{Entry: e}, CompleteEvent{IsError: true, ErrorMessage: msg}}, nil
	case "error":
		return []Event{ErrorEvent{Message: env.Message}}, nil
	case "approval.requested":
		var item codexItem
		if len(env.Item) > 0 {
			if err := json.Unmarshal(env.Item, &item); err != nil {
				return nil, fmt.Errorf("codex: decode approval item: %w", err)
			}
		}
		return []Event{PermissionNoticeEvent{ToolName: item.Tool, Message: item.Command}}, nil
	default:
		// turn.started and other thread bookkeeping have no normalized
		// representation.
		return nil, nil
	}
}

func normalizeCodexItem(env codexEnvelope, ctx *Context) ([]Event, error) {
	var item codexItem
	if err := json.Unmarshal(env.Item, &item); err != nil {
		return nil, fmt.Errorf("codex: decode item: %w", err)
	}
	completed := env.Type == "item.completed"

	switch item.ItemType {
	case "agent_message":
		if item.Text == "" {
			return nil, nil
		}
		e := &entry.Entry{
			ID:        item.ID,
			Type:      entry.TypeAssistantMessage,
			Timestamp: time.Now().UTC(),
			Text:      item.Text,
		}
		return []Event{introduceOrPatch(ctx, e)}, nil
	case "command_execution":
		call := &entry.ToolCall{
			Name:    entry.ToolBash,
			RawName: "command_execution",
			Input:   &entry.BashInput{Command: item.Command},
		}
		if completed {
			isError := item.ExitCode != nil && *item.ExitCode != 0
			call.Output = &entry.BashOutput{Content: item.AggregatedOutput, IsError: isError}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	case "file_change":
		paths := make([]string, 0, len(item.Changes))
		for _, change := range item.Changes {
			paths = append(paths, change.Path)
		}
		call := &entry.ToolCall{
			Name:    entry.ToolEdit,
			RawName: "file_change",
			Input:   &entry.EditInput{Path: strings.Join(paths, ", ")},
		}
		if completed {
			call.Output = &entry.EditOutput{}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	case "mcp_tool_call":
		call := &entry.ToolCall{
			Name:    entry.ToolGeneric,
			RawName: item.Server + "." + item.Tool,
			Input:   &entry.GenericInput{Raw: append(json.RawMessage(nil), item.Arguments...)},
		}
		if completed {
			call.Output = &entry.GenericOutput{
				Raw:     append(json.RawMessage(nil), item.Result...),
				IsError: item.Status == "failed",
			}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	case "web_search":
		call := &entry.ToolCall{
			Name:    entry.ToolWebSearch,
			RawName: "web_search",
			Input:   &entry.WebSearchInput{Query: item.Query},
		}
		if completed {
			call.Output = &entry.TextOutput{Content: item.Text}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	case "todo_list":
		todos := make([]entry.TodoItem, 0, len(item.Items))
		for _, todo := range item.Items {
			status := "pending"
			if todo.Completed {
				status = "completed"
			}
			todos = append(todos, entry.TodoItem{Content: todo.Text, Status: status})
		}
		call := &entry.ToolCall{
			Name:    entry.ToolTodoWrite,
			RawName: "todo_list",
			Input:   &entry.TodoWriteInput{Todos: todos},
		}
		if completed {
			call.Output = &entry.TodoOutput{After: todos}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	case "reasoning":
		// Interim reasoning text is not part of the durable log.
		return nil, nil
	default:
		call := &entry.ToolCall{
			Name:    entry.ToolUnknown,
			RawName: item.ItemType,
			Input:   &entry.GenericInput{Raw: append(json.RawMessage(nil), env.Item...)},
		}
		if completed {
			call.Output = &entry.GenericOutput{Raw: append(json.RawMessage(nil), item.Result...)}
		}
		return []Event{introduceOrPatch(ctx, toolEntry(item.ID, call))}, nil
	}
}

func toolEntry(id string, call *entry.ToolCall) *entry.Entry {
	return &entry.Entry{
		ID:        id,
		Type:      entry.TypeToolUse,
		Timestamp: time.Now().UTC(),
		Tool:      call,
	}
}
