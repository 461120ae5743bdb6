package entry

import (
	"encoding/json"
	"fmt"
)

// ToolName is the canonical, backend-independent identifier for a tool.
type ToolName string

const (
	ToolRead      ToolName = "read"
	ToolWrite     ToolName = "write"
	ToolEdit      ToolName = "edit"
	ToolBash      ToolName = "bash"
	ToolGlob      ToolName = "glob"
	ToolGrep      ToolName = "grep"
	ToolTask      ToolName = "task"
	ToolAskUser   ToolName = "ask_user"
	ToolTodoWrite ToolName = "todo_write"
	ToolExitPlan  ToolName = "exit_plan"
	ToolSkill     ToolName = "skill"
	ToolWebFetch  ToolName = "web_fetch"
	ToolWebSearch ToolName = "web_search"
	// ToolGeneric covers MCP-style tools addressed by their full raw name.
	ToolGeneric ToolName = "generic"
	// ToolUnknown is the fallback for names no mapper recognizes.
	ToolUnknown ToolName = "unknown"
)

// ToolCall is the tool portion of a tool_use entry: canonical name, the
// backend's raw name, typed input, and, once the matching result datum
// arrives, the typed output.
type ToolCall struct {
	Name    ToolName
	RawName string
	Input   ToolInput
	Output  ToolOutput
}

// ToolInput is the typed input of a canonical tool. The concrete type is
// fixed by the tool name.
type ToolInput interface{ toolInput() }

// ToolOutput is the typed result of a canonical tool. The concrete type is
// fixed by the tool name; multiple names may share a shape.
type ToolOutput interface{ toolOutput() }

type ReadInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type WriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

type EditInput struct {
	Path       string `json:"path"`
	OldText    string `json:"old_text,omitempty"`
	NewText    string `json:"new_text,omitempty"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

type BashInput struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	TimeoutMS   int    `json:"timeout_ms,omitempty"`
}

type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

type TaskInput struct {
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	AgentType   string `json:"agent_type,omitempty"`
}

// Question is one choice the ask_user tool puts to the user.
type Question struct {
	ID          string   `json:"id,omitempty"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

type AskUserInput struct {
	Questions []Question `json:"questions"`
}

// TodoItem is one todo-list entry with its tracked status.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending | in_progress | completed
}

type TodoWriteInput struct {
	Todos []TodoItem `json:"todos"`
}

type ExitPlanInput struct {
	Plan string `json:"plan,omitempty"`
}

type SkillInput struct {
	Command string `json:"command"`
}

type WebFetchInput struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt,omitempty"`
}

type WebSearchInput struct {
	Query string `json:"query"`
}

// GenericInput carries the raw input object verbatim for MCP-style and
// unrecognized tools.
type GenericInput struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (ReadInput) toolInput()      {}
func (WriteInput) toolInput()     {}
func (EditInput) toolInput()      {}
func (BashInput) toolInput()      {}
func (GlobInput) toolInput()      {}
func (GrepInput) toolInput()      {}
func (TaskInput) toolInput()      {}
func (AskUserInput) toolInput()   {}
func (TodoWriteInput) toolInput() {}
func (ExitPlanInput) toolInput()  {}
func (SkillInput) toolInput()     {}
func (WebFetchInput) toolInput()  {}
func (WebSearchInput) toolInput() {}
func (GenericInput) toolInput()   {}

type ReadOutput struct {
	Content string `json:"content"`
}

// Hunk is one contiguous changed region reported by the edit tool.
type Hunk struct {
	StartLine int    `json:"start_line"`
	Content   string `json:"content"`
}

type EditOutput struct {
	Hunks []Hunk `json:"hunks,omitempty"`
}

type BashOutput struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

type GlobOutput struct {
	Files []string `json:"files,omitempty"`
}

type TodoOutput struct {
	Before []TodoItem `json:"before,omitempty"`
	After  []TodoItem `json:"after,omitempty"`
}

// Answer is the user's selection for one ask_user question.
type Answer struct {
	QuestionID string   `json:"question_id,omitempty"`
	Selected   []string `json:"selected"`
}

type AskUserOutput struct {
	Answers []Answer `json:"answers"`
}

// TextOutput is the shared shape for tools whose result is plain text:
// write, grep, task, exit_plan, skill, web_fetch, and web_search.
type TextOutput struct {
	Content string `json:"content"`
}

// GenericOutput carries an unrecognized tool's result verbatim.
type GenericOutput struct {
	Raw     json.RawMessage `json:"raw,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

func (ReadOutput) toolOutput()    {}
func (EditOutput) toolOutput()    {}
func (BashOutput) toolOutput()    {}
func (GlobOutput) toolOutput()    {}
func (TodoOutput) toolOutput()    {}
func (AskUserOutput) toolOutput() {}
func (TextOutput) toolOutput()    {}
func (GenericOutput) toolOutput() {}

type toolCallJSON struct {
	Name    ToolName        `json:"name"`
	RawName string          `json:"raw_name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// MarshalJSON encodes the call with its typed input/output inlined.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	out := toolCallJSON{Name: c.Name, RawName: c.RawName}
	if c.Input != nil {
		data, err := json.Marshal(c.Input)
		if err != nil {
			return nil, fmt.Errorf("marshal tool input: %w", err)
		}
		out.Input = data
	}
	if c.Output != nil {
		data, err := json.Marshal(c.Output)
		if err != nil {
			return nil, fmt.Errorf("marshal tool output: %w", err)
		}
		out.Output = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the typed input/output shapes from the canonical
// form. The shapes are fixed by the tool name.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var raw toolCallJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal tool call: %w", err)
	}
	c.Name = raw.Name
	c.RawName = raw.RawName
	if len(raw.Input) > 0 {
		input, err := decodeInput(raw.Name, raw.Input)
		if err != nil {
			return err
		}
		c.Input = input
	}
	if len(raw.Output) > 0 {
		output, err := decodeOutput(raw.Name, raw.Output)
		if err != nil {
			return err
		}
		c.Output = output
	}
	return nil
}

func decodeInput(name ToolName, data json.RawMessage) (ToolInput, error) {
	var (
		input ToolInput
		err   error
	)
	switch name {
	case ToolRead:
		input, err = decodeAs[ReadInput](data)
	case ToolWrite:
		input, err = decodeAs[WriteInput](data)
	case ToolEdit:
		input, err = decodeAs[EditInput](data)
	case ToolBash:
		input, err = decodeAs[BashInput](data)
	case ToolGlob:
		input, err = decodeAs[GlobInput](data)
	case ToolGrep:
		input, err = decodeAs[GrepInput](data)
	case ToolTask:
		input, err = decodeAs[TaskInput](data)
	case ToolAskUser:
		input, err = decodeAs[AskUserInput](data)
	case ToolTodoWrite:
		input, err = decodeAs[TodoWriteInput](data)
	case ToolExitPlan:
		input, err = decodeAs[ExitPlanInput](data)
	case ToolSkill:
		input, err = decodeAs[SkillInput](data)
	case ToolWebFetch:
		input, err = decodeAs[WebFetchInput](data)
	case ToolWebSearch:
		input, err = decodeAs[WebSearchInput](data)
	case ToolGeneric, ToolUnknown:
		input, err = decodeAs[GenericInput](data)
	default:
		input, err = decodeAs[GenericInput](data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s input: %w", name, err)
	}
	return input, nil
}

func decodeOutput(name ToolName, data json.RawMessage) (ToolOutput, error) {
	var (
		output ToolOutput
		err    error
	)
	switch name {
	case ToolRead:
		output, err = decodeAs[ReadOutput](data)
	case ToolEdit:
		output, err = decodeAs[EditOutput](data)
	case ToolBash:
		output, err = decodeAs[BashOutput](data)
	case ToolGlob:
		output, err = decodeAs[GlobOutput](data)
	case ToolTodoWrite:
		output, err = decodeAs[TodoOutput](data)
	case ToolAskUser:
		output, err = decodeAs[AskUserOutput](data)
	case ToolWrite, ToolGrep, ToolTask, ToolExitPlan, ToolSkill, ToolWebFetch, ToolWebSearch:
		output, err = decodeAs[TextOutput](data)
	case ToolGeneric, ToolUnknown:
		output, err = decodeAs[GenericOutput](data)
	default:
		output, err = decodeAs[GenericOutput](data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", name, err)
	}
	return output, nil
}

func decodeAs[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
