package normalize

import (
	"encoding/json"
	"testing"

	"github.com/agentboard/agentboard/internal/entry"
)

// feed normalizes each raw line in order, applying the context bookkeeping
// the way the orchestrator does.
func feed(t *testing.T, n Normalizer, ctx *Context, lines ...string) []Event {
	t.Helper()
	var all []Event
	for _, line := range lines {
		events, err := n.Normalize(json.RawMessage(line), ctx)
		if err != nil {
			t.Fatalf("Normalize failed on %s: %v", line, err)
		}
		for _, ev := range events {
			ctx.Observe(ev)
			all = append(all, ev)
		}
	}
	return all
}

func TestClaudeSessionIDSurfacedOnce(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
	)

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	sid, ok := events[0].(SessionIDEvent)
	if !ok {
		t.Fatalf("Expected SessionIDEvent, got %T", events[0])
	}
	if sid.ID != "sess-1" {
		t.Errorf("Expected session id sess-1, got %s", sid.ID)
	}
}

func TestClaudeToolUseResultCorrelation(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"assistant","message":{"id":"msg_1","model":"m","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"a.txt","is_error":false}]}}`,
	)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	intro, ok := events[0].(EntryEvent)
	if !ok {
		t.Fatalf("Expected EntryEvent first, got %T", events[0])
	}
	if intro.Entry.Type != entry.TypeToolUse || intro.Entry.ID != "toolu_1" {
		t.Errorf("Expected tool_use entry toolu_1, got %+v", intro.Entry)
	}
	if intro.Entry.Tool.Name != entry.ToolBash {
		t.Errorf("Expected canonical bash tool, got %s", intro.Entry.Tool.Name)
	}
	if intro.Entry.Tool.Output != nil {
		t.Error("Expected no output before the result arrives")
	}

	update, ok := events[1].(EntryUpdateEvent)
	if !ok {
		t.Fatalf("Expected EntryUpdateEvent second, got %T", events[1])
	}
	if update.Entry.ID != "toolu_1" {
		t.Errorf("Expected update to toolu_1, got %s", update.Entry.ID)
	}
	output, ok := update.Entry.Tool.Output.(*entry.BashOutput)
	if !ok {
		t.Fatalf("Expected *BashOutput, got %T", update.Entry.Tool.Output)
	}
	if output.Content != "a.txt" {
		t.Errorf("Expected result content a.txt, got %q", output.Content)
	}

	if _, pending := ctx.PendingToolUse("toolu_1"); pending {
		t.Error("Expected resolved tool use to leave the pending set")
	}
}

func TestClaudeOrphanToolResult(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_gone","content":"stale","is_error":true}]}}`,
	)

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	orphan, ok := events[0].(OrphanToolResultEvent)
	if !ok {
		t.Fatalf("Expected OrphanToolResultEvent, got %T", events[0])
	}
	if orphan.CallID != "toolu_gone" || orphan.Content != "stale" || !orphan.IsError {
		t.Errorf("Unexpected orphan payload: %+v", orphan)
	}
}

func TestClaudeAssistantTextBlocks(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"assistant","message":{"id":"msg_2","model":"m","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}}`,
	)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	first := events[0].(EntryEvent).Entry
	second := events[1].(EntryEvent).Entry
	if first.ID == second.ID {
		t.Errorf("Expected distinct block ids, both were %s", first.ID)
	}
	if first.Text != "first" || second.Text != "second" {
		t.Errorf("Expected block texts preserved, got %q and %q", first.Text, second.Text)
	}
}

func TestClaudeResultProducesEntryAndComplete(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"result","subtype":"success","is_error":false,"duration_ms":1200,"total_cost_usd":0.05,"result":"done","session_id":"sess-1","usage":{"input_tokens":10,"output_tokens":20}}`,
	)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	ee, ok := events[0].(EntryEvent)
	if !ok {
		t.Fatalf("Expected EntryEvent first, got %T", events[0])
	}
	if ee.Entry.Type != entry.TypeResult || ee.Entry.Result == nil {
		t.Fatalf("Expected result entry, got %+v", ee.Entry)
	}
	if ee.Entry.Result.CostUSD != 0.05 || ee.Entry.Result.OutputTokens != 20 {
		t.Errorf("Unexpected turn result: %+v", ee.Entry.Result)
	}

	complete, ok := events[1].(CompleteEvent)
	if !ok {
		t.Fatalf("Expected CompleteEvent second, got %T", events[1])
	}
	if complete.IsError {
		t.Error("Expected clean completion")
	}
}

func TestClaudeErrorResult(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"","session_id":"s"}`,
	)

	complete := events[len(events)-1].(CompleteEvent)
	if !complete.IsError {
		t.Fatal("Expected error completion")
	}
	if complete.ErrorMessage != "error_during_execution" {
		t.Errorf("Expected subtype fallback message, got %q", complete.ErrorMessage)
	}
}

func TestClaudeUnknownTypeIgnored(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx, `{"type":"stream_event","event":{}}`)
	if len(events) != 0 {
		t.Errorf("Expected no events for unknown type, got %d", len(events))
	}
}

func TestClaudeCompactBoundary(t *testing.T) {
	ctx := NewContext()
	events := feed(t, NewClaude(), ctx,
		`{"type":"system","subtype":"compact_boundary","session_id":"sess-1"}`,
	)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0].(EntryEvent).Entry
	if e.Type != entry.TypeSystemStatus || e.Text == "" {
		t.Errorf("Expected system status entry with text, got %+v", e)
	}
}
