package normalize

import (
	"encoding/json"
	"testing"

	"github.com/agentboard/agentboard/internal/entry"
)

func TestMapToolUseTolerantFieldNames(t *testing.T) {
	// Claude says file_path; other backends say path. Both must land.
	call := MapToolUse("Read", json.RawMessage(`{"file_path":"/tmp/a.go","limit":50}`))
	input := call.Input.(*entry.ReadInput)
	if input.Path != "/tmp/a.go" || input.Limit != 50 {
		t.Errorf("Unexpected read input: %+v", input)
	}

	call = MapToolUse("Edit", json.RawMessage(`{"path":"/tmp/b.go","old_text":"x","new_text":"y"}`))
	edit := call.Input.(*entry.EditInput)
	if edit.Path != "/tmp/b.go" || edit.OldText != "x" || edit.NewText != "y" {
		t.Errorf("Unexpected edit input: %+v", edit)
	}
}

func TestMapToolUseMCPPrefix(t *testing.T) {
	call := MapToolUse("mcp__github__create_issue", json.RawMessage(`{"title":"bug"}`))
	if call.Name != entry.ToolGeneric {
		t.Errorf("Expected generic for mcp tool, got %s", call.Name)
	}
	if call.RawName != "mcp__github__create_issue" {
		t.Errorf("Expected raw name preserved, got %s", call.RawName)
	}
	input := call.Input.(*entry.GenericInput)
	if string(input.Raw) != `{"title":"bug"}` {
		t.Errorf("Expected raw input passthrough, got %s", input.Raw)
	}
}

func TestMapToolUseUnknownName(t *testing.T) {
	call := MapToolUse("Mystery", json.RawMessage(`{}`))
	if call.Name != entry.ToolUnknown {
		t.Errorf("Expected unknown, got %s", call.Name)
	}
}

func TestMapToolUseQuestions(t *testing.T) {
	raw := json.RawMessage(`{"questions":[{"question":"Deploy?","options":[{"label":"yes"},{"label":"no"}],"multiSelect":false}]}`)
	call := MapToolUse(AskUserToolName, raw)
	if call.Name != entry.ToolAskUser {
		t.Fatalf("Expected ask_user, got %s", call.Name)
	}
	input := call.Input.(*entry.AskUserInput)
	if len(input.Questions) != 1 {
		t.Fatalf("Expected 1 question, got %d", len(input.Questions))
	}
	q := input.Questions[0]
	if q.Prompt != "Deploy?" || len(q.Options) != 2 || q.Options[0] != "yes" {
		t.Errorf("Unexpected question: %+v", q)
	}
}

func TestMapToolResultEditHunks(t *testing.T) {
	raw := json.RawMessage(`{"structuredPatch":[{"newStart":10,"lines":["-a","+b"]}]}`)
	output := MapToolResult(entry.ToolEdit, raw, "fallback", false)
	edit := output.(*entry.EditOutput)
	if len(edit.Hunks) != 1 {
		t.Fatalf("Expected 1 hunk, got %d", len(edit.Hunks))
	}
	if edit.Hunks[0].StartLine != 10 || edit.Hunks[0].Content != "-a\n+b" {
		t.Errorf("Unexpected hunk: %+v", edit.Hunks[0])
	}
}

func TestMapToolResultEditFallbackContent(t *testing.T) {
	output := MapToolResult(entry.ToolEdit, nil, "patched", false)
	edit := output.(*entry.EditOutput)
	if len(edit.Hunks) != 1 || edit.Hunks[0].Content != "patched" {
		t.Errorf("Expected single fallback hunk, got %+v", edit.Hunks)
	}
}

func TestMapToolResultGlobSplitsFiles(t *testing.T) {
	output := MapToolResult(entry.ToolGlob, nil, "a.go\nb.go\n", false)
	glob := output.(*entry.GlobOutput)
	if len(glob.Files) != 2 || glob.Files[1] != "b.go" {
		t.Errorf("Unexpected file list: %v", glob.Files)
	}
}

func TestMapToolResultTodoBeforeAfter(t *testing.T) {
	raw := json.RawMessage(`{"oldTodos":[{"content":"a","status":"pending"}],"newTodos":[{"content":"a","status":"completed"}]}`)
	output := MapToolResult(entry.ToolTodoWrite, raw, "", false)
	todo := output.(*entry.TodoOutput)
	if len(todo.Before) != 1 || len(todo.After) != 1 {
		t.Fatalf("Expected before and after lists, got %+v", todo)
	}
	if todo.After[0].Status != "completed" {
		t.Errorf("Expected completed status, got %s", todo.After[0].Status)
	}
}
