package engine

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/agentboard/agentboard/internal/domain"
	"github.com/agentboard/agentboard/internal/entry"
)

func TestPermissionModeFor(t *testing.T) {
	if got := permissionModeFor(domain.ModeAuto); got != "bypassPermissions" {
		t.Errorf("Expected bypassPermissions for auto, got %s", got)
	}
	if got := permissionModeFor(domain.ModePlan); got != "plan" {
		t.Errorf("Expected plan, got %s", got)
	}
	if got := permissionModeFor(domain.ModeAsk); got != "default" {
		t.Errorf("Expected default for ask, got %s", got)
	}
}

func TestCodexModeArgs(t *testing.T) {
	if args := codexModeArgs(domain.ModeAuto); len(args) != 1 || args[0] != "--full-auto" {
		t.Errorf("Unexpected auto args: %v", args)
	}
	args := codexModeArgs(domain.ModeAsk)
	if len(args) != 2 || args[0] != "--ask-for-approval" || args[1] != "on-request" {
		t.Errorf("Unexpected ask args: %v", args)
	}
}

func TestHookDecisionJSONDeny(t *testing.T) {
	out := hookDecisionJSON(Decision{Allow: false, Message: "not now"})
	hook, ok := out["hookSpecificOutput"].(map[string]any)
	if !ok {
		t.Fatalf("Expected hookSpecificOutput object, got %v", out)
	}
	if hook["permissionDecision"] != "deny" {
		t.Errorf("Expected deny, got %v", hook["permissionDecision"])
	}
	if hook["permissionDecisionReason"] != "not now" {
		t.Errorf("Expected reason forwarded, got %v", hook["permissionDecisionReason"])
	}
}

func TestHookDecisionJSONAnswers(t *testing.T) {
	out := hookDecisionJSON(Decision{
		Allow:   true,
		Answers: []entry.Answer{{QuestionID: "q1", Selected: []string{"yes"}}},
	})
	hook := out["hookSpecificOutput"].(map[string]any)
	if hook["permissionDecision"] != "allow" {
		t.Errorf("Expected allow, got %v", hook["permissionDecision"])
	}
	updated, ok := hook["updatedInput"].(map[string]any)
	if !ok {
		t.Fatal("Expected updatedInput with answers")
	}
	data, err := json.Marshal(updated)
	if err != nil {
		t.Fatalf("Failed to marshal updated input: %v", err)
	}
	var echoed entry.AskUserOutput
	if err := json.Unmarshal(data, &echoed); err != nil {
		t.Fatalf("Failed to round-trip answers: %v", err)
	}
	if len(echoed.Answers) != 1 || echoed.Answers[0].Selected[0] != "yes" {
		t.Errorf("Unexpected echoed answers: %+v", echoed.Answers)
	}
}

func TestWriteHookSettings(t *testing.T) {
	path, err := writeHookSettings(t.TempDir(), "127.0.0.1:45678")
	if err != nil {
		t.Fatalf("writeHookSettings failed: %v", err)
	}
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read settings: %v", err)
	}

	var settings struct {
		Hooks struct {
			PreToolUse []struct {
				Hooks []struct {
					Type    string `json:"type"`
					Command string `json:"command"`
				} `json:"hooks"`
			} `json:"PreToolUse"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("Settings not valid JSON: %v", err)
	}
	if len(settings.Hooks.PreToolUse) != 1 || len(settings.Hooks.PreToolUse[0].Hooks) != 1 {
		t.Fatal("Expected a single PreToolUse hook")
	}
	hook := settings.Hooks.PreToolUse[0].Hooks[0]
	if hook.Type != "command" {
		t.Errorf("Expected command hook, got %s", hook.Type)
	}
	if want := "127.0.0.1:45678"; !strings.Contains(hook.Command, want) {
		t.Errorf("Expected listener address in command, got %s", hook.Command)
	}
}
