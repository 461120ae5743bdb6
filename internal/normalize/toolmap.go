package normalize

import (
	"encoding/json"
	"strings"

	"github.com/agentboard/agentboard/internal/entry"
)

// MapToolUse maps a backend tool invocation to its canonical tool call with
// typed input. Field extraction is tolerant: backends disagree on field names
// (file_path vs path, old_string vs old_text), and missing fields are left
// zero rather than failing. Unrecognized names pass input through verbatim.
func MapToolUse(rawName string, rawInput json.RawMessage) *entry.ToolCall {
	name := canonicalToolName(rawName)
	call := &entry.ToolCall{Name: name, RawName: rawName}

	fields := decodeFields(rawInput)
	switch name {
	case entry.ToolRead:
		call.Input = &entry.ReadInput{
			Path:   fields.str("file_path", "path"),
			Offset: fields.num("offset"),
			Limit:  fields.num("limit"),
		}
	case entry.ToolWrite:
		call.Input = &entry.WriteInput{
			Path:    fields.str("file_path", "path"),
			Content: fields.str("content", "file_text"),
		}
	case entry.ToolEdit:
		call.Input = &entry.EditInput{
			Path:       fields.str("file_path", "path"),
			OldText:    fields.str("old_string", "old_text"),
			NewText:    fields.str("new_string", "new_text"),
			ReplaceAll: fields.boolean("replace_all"),
		}
	case entry.ToolBash:
		call.Input = &entry.BashInput{
			Command:     fields.str("command", "cmd"),
			Description: fields.str("description"),
			TimeoutMS:   fields.num("timeout"),
		}
	case entry.ToolGlob:
		call.Input = &entry.GlobInput{
			Pattern: fields.str("pattern"),
			Path:    fields.str("path"),
		}
	case entry.ToolGrep:
		call.Input = &entry.GrepInput{
			Pattern: fields.str("pattern"),
			Path:    fields.str("path"),
			Glob:    fields.str("glob", "include"),
		}
	case entry.ToolTask:
		call.Input = &entry.TaskInput{
			Description: fields.str("description"),
			Prompt:      fields.str("prompt"),
			AgentType:   fields.str("subagent_type", "agent_type"),
		}
	case entry.ToolAskUser:
		call.Input = &entry.AskUserInput{Questions: fields.questions()}
	case entry.ToolTodoWrite:
		call.Input = &entry.TodoWriteInput{Todos: fields.todos("todos")}
	case entry.ToolExitPlan:
		call.Input = &entry.ExitPlanInput{Plan: fields.str("plan")}
	case entry.ToolSkill:
		call.Input = &entry.SkillInput{Command: fields.str("command", "skill")}
	case entry.ToolWebFetch:
		call.Input = &entry.WebFetchInput{
			URL:    fields.str("url"),
			Prompt: fields.str("prompt"),
		}
	case entry.ToolWebSearch:
		call.Input = &entry.WebSearchInput{Query: fields.str("query")}
	default:
		call.Input = &entry.GenericInput{Raw: append(json.RawMessage(nil), rawInput...)}
	}
	return call
}

// MapToolResult shapes a raw tool result for an in-flight call. The output
// type is fixed by the canonical tool name; rawResult is the backend's full
// result object (when available) and content its flattened text form.
func MapToolResult(name entry.ToolName, rawResult json.RawMessage, content string, isError bool) entry.ToolOutput {
	fields := decodeFields(rawResult)
	switch name {
	case entry.ToolRead:
		return &entry.ReadOutput{Content: content}
	case entry.ToolEdit:
		return &entry.EditOutput{Hunks: fields.hunks(content)}
	case entry.ToolBash:
		return &entry.BashOutput{Content: content, IsError: isError}
	case entry.ToolGlob:
		return &entry.GlobOutput{Files: splitFileList(content)}
	case entry.ToolTodoWrite:
		return &entry.TodoOutput{
			Before: fields.todos("oldTodos"),
			After:  fields.todos("newTodos"),
		}
	case entry.ToolAskUser:
		return &entry.AskUserOutput{Answers: fields.answers()}
	case entry.ToolWrite, entry.ToolGrep, entry.ToolTask, entry.ToolExitPlan,
		entry.ToolSkill, entry.ToolWebFetch, entry.ToolWebSearch:
		return &entry.TextOutput{Content: content}
	default:
		return &entry.GenericOutput{
			Raw:     append(json.RawMessage(nil), rawResult...),
			IsError: isError,
		}
	}
}

// AskUserToolName is the backend-raw name of the multi-question tool. The
// arbiter treats it specially: it becomes a question request, not a
// permission request.
const AskUserToolName = "AskUserQuestion"

func canonicalToolName(rawName string) entry.ToolName {
	if strings.HasPrefix(rawName, "mcp__") {
		return entry.ToolGeneric
	}
	switch rawName {
	case "Read", "read", "NotebookRead":
		return entry.ToolRead
	case "Write", "write", "create_file":
		return entry.ToolWrite
	case "Edit", "MultiEdit", "edit", "apply_patch", "NotebookEdit":
		return entry.ToolEdit
	case "Bash", "bash", "shell", "local_shell":
		return entry.ToolBash
	case "Glob", "glob":
		return entry.ToolGlob
	case "Grep", "grep":
		return entry.ToolGrep
	case "Task", "task", "agent":
		return entry.ToolTask
	case AskUserToolName, "ask_user":
		return entry.ToolAskUser
	case "TodoWrite", "todo_write", "update_plan":
		return entry.ToolTodoWrite
	case "ExitPlanMode", "exit_plan_mode":
		return entry.ToolExitPlan
	case "Skill", "skill":
		return entry.ToolSkill
	case "WebFetch", "web_fetch":
		return entry.ToolWebFetch
	case "WebSearch", "web_search":
		return entry.ToolWebSearch
	default:
		return entry.ToolUnknown
	}
}

// fieldMap is a tolerant view over a raw JSON object.
type fieldMap map[string]json.RawMessage

func decodeFields(raw json.RawMessage) fieldMap {
	if len(raw) == 0 {
		return nil
	}
	var m fieldMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func (m fieldMap) str(keys ...string) string {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
		}
	}
	return ""
}

func (m fieldMap) num(keys ...string) int {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				return n
			}
		}
	}
	return 0
}

func (m fieldMap) boolean(keys ...string) bool {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				return b
			}
		}
	}
	return false
}

func (m fieldMap) todos(key string) []entry.TodoItem {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var items []struct {
		Content   string `json:"content"`
		Text      string `json:"text"`
		Status    string `json:"status"`
		Completed bool   `json:"completed"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	todos := make([]entry.TodoItem, 0, len(items))
	for _, item := range items {
		todo := entry.TodoItem{Content: item.Content, Status: item.Status}
		if todo.Content == "" {
			todo.Content = item.Text
		}
		if todo.Status == "" {
			if item.Completed {
				todo.Status = "completed"
			} else {
				todo.Status = "pending"
			}
		}
		todos = append(todos, todo)
	}
	return todos
}

func (m fieldMap) questions() []entry.Question {
	raw, ok := m["questions"]
	if !ok {
		return nil
	}
	var items []struct {
		ID          string `json:"id"`
		Question    string `json:"question"`
		Prompt      string `json:"prompt"`
		MultiSelect bool   `json:"multiSelect"`
		Options     []struct {
			Label string `json:"label"`
		} `json:"options"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	questions := make([]entry.Question, 0, len(items))
	for _, item := range items {
		q := entry.Question{ID: item.ID, Prompt: item.Question, MultiSelect: item.MultiSelect}
		if q.Prompt == "" {
			q.Prompt = item.Prompt
		}
		for _, opt := range item.Options {
			q.Options = append(q.Options, opt.Label)
		}
		questions = append(questions, q)
	}
	return questions
}

func (m fieldMap) answers() []entry.Answer {
	raw, ok := m["answers"]
	if !ok {
		return nil
	}
	var items []struct {
		QuestionID string   `json:"question_id"`
		Selected   []string `json:"selected"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	answers := make([]entry.Answer, 0, len(items))
	for _, item := range items {
		answers = append(answers, entry.Answer{QuestionID: item.QuestionID, Selected: item.Selected})
	}
	return answers
}

// hunks reads structured patch data when the backend provides it and falls
// back to a single hunk of the flattened content otherwise.
func (m fieldMap) hunks(content string) []entry.Hunk {
	raw, ok := m["structuredPatch"]
	if ok {
		var patches []struct {
			NewStart int      `json:"newStart"`
			Lines    []string `json:"lines"`
		}
		if err := json.Unmarshal(raw, &patches); err == nil && len(patches) > 0 {
			hunks := make([]entry.Hunk, 0, len(patches))
			for _, p := range patches {
				hunks = append(hunks, entry.Hunk{
					StartLine: p.NewStart,
					Content:   strings.Join(p.Lines, "\n"),
				})
			}
			return hunks
		}
	}
	if content == "" {
		return nil
	}
	return []entry.Hunk{{StartLine: 1, Content: content}}
}

func splitFileList(content string) []string {
	if content == "" {
		return nil
	}
	var files []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}
