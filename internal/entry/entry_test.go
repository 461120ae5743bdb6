package entry

import (
	"encoding/json"
	"testing"
	"time"
)

func TestToolCallRoundTrip(t *testing.T) {
	e := &Entry{
		ID:        "toolu_01",
		Type:      TypeToolUse,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Tool: &ToolCall{
			Name:    ToolBash,
			RawName: "Bash",
			Input:   &BashInput{Command: "go build ./...", Description: "Build"},
			Output:  &BashOutput{Content: "ok", IsError: false},
		},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Failed to marshal entry: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}

	if got.ID != e.ID || got.Type != TypeToolUse {
		t.Errorf("Expected id=%s type=%s, got id=%s type=%s", e.ID, e.Type, got.ID, got.Type)
	}
	input, ok := got.Tool.Input.(*BashInput)
	if !ok {
		t.Fatalf("Expected *BashInput, got %T", got.Tool.Input)
	}
	if input.Command != "go build ./..." {
		t.Errorf("Expected command preserved, got %q", input.Command)
	}
	output, ok := got.Tool.Output.(*BashOutput)
	if !ok {
		t.Fatalf("Expected *BashOutput, got %T", got.Tool.Output)
	}
	if output.Content != "ok" || output.IsError {
		t.Errorf("Expected output ok/no-error, got %+v", output)
	}
}

func TestToolCallSharedTextOutput(t *testing.T) {
	// write has no dedicated output shape; it shares TextOutput.
	call := &ToolCall{
		Name:   ToolWrite,
		Input:  &WriteInput{Path: "/tmp/a.txt", Content: "hello"},
		Output: &TextOutput{Content: "File created"},
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("Failed to marshal tool call: %v", err)
	}

	var got ToolCall
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Failed to unmarshal tool call: %v", err)
	}
	if _, ok := got.Output.(*TextOutput); !ok {
		t.Fatalf("Expected *TextOutput for write, got %T", got.Output)
	}
}

func TestToolCallUnknownToolKeepsRaw(t *testing.T) {
	raw := []byte(`{"name":"unknown","raw_name":"mystery","input":{"raw":{"a":1}},"output":{"raw":"weird","is_error":true}}`)

	var got ToolCall
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Failed to unmarshal unknown tool call: %v", err)
	}
	input, ok := got.Input.(*GenericInput)
	if !ok {
		t.Fatalf("Expected *GenericInput, got %T", got.Input)
	}
	if string(input.Raw) != `{"a":1}` {
		t.Errorf("Expected raw input preserved, got %s", input.Raw)
	}
	output, ok := got.Output.(*GenericOutput)
	if !ok {
		t.Fatalf("Expected *GenericOutput, got %T", got.Output)
	}
	if !output.IsError {
		t.Error("Expected is_error preserved")
	}
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
