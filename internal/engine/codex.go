package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os/exec"

	"github.com/agentboard/agentboard/internal/domain"
)

// CodexEngine drives the codex CLI in experimental JSON mode. Unlike claude,
// codex carries approvals in-band: an approval.requested event arrives on
// stdout and the decision is written back on stdin. Authorization therefore
// blocks the read loop, which is exactly the suspension semantics the
// orchestrator expects.
type CodexEngine struct {
	bin    string
	logger *slog.Logger
}

// NewCodex creates the codex backend. bin defaults to "codex".
func NewCodex(bin string, logger *slog.Logger) *CodexEngine {
	if bin == "" {
		bin = "codex"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CodexEngine{bin: bin, logger: logger}
}

// Name implements Engine.
func (e *CodexEngine) Name() string { return "codex" }

func codexModeArgs(mode domain.InteractionMode) []string {
	switch mode {
	case domain.ModeAuto:
		return []string{"--full-auto"}
	case domain.ModePlan:
		return []string{"--ask-for-approval", "never", "--sandbox", "read-only"}
	default:
		return []string{"--ask-for-approval", "on-request"}
	}
}

type codexApprovalEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Item struct {
		Tool      string          `json:"tool"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"item"`
}

// RunTurn implements Engine.
func (e *CodexEngine) RunTurn(ctx context.Context, prompt string, opts TurnOptions) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		args := []string{"exec", "--experimental-json"}
		if opts.ResumeToken != "" {
			args = append(args, "resume", opts.ResumeToken)
		}
		args = append(args, codexModeArgs(opts.Mode)...)
		args = append(args, prompt)

		cmd := exec.CommandContext(ctx, e.bin, args...)
		cmd.Dir = opts.WorkDir
		cmd.Stderr = io.Discard

		stdin, err := cmd.StdinPipe()
		if err != nil {
			yield(nil, fmt.Errorf("codex: stdin pipe: %w", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("codex: stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("codex: start %s: %w", e.bin, err))
			return
		}
		defer func() {
			if closeErr := stdin.Close(); closeErr != nil {
				e.logger.Debug("failed to close codex stdin", "error", closeErr)
			}
		}()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		stopped := false
		for scanner.Scan() {
			line := append(json.RawMessage(nil), scanner.Bytes()...)
			if len(line) == 0 {
				continue
			}

			// Approval requests suspend the stream until decided.
			var approval codexApprovalEvent
			if err := json.Unmarshal(line, &approval); err == nil && approval.Type == "approval.requested" {
				if err := e.answerApproval(ctx, stdin, approval, opts.Authorize); err != nil {
					yield(nil, err)
					return
				}
			}

			if !yield(line, nil) {
				stopped = true
				break
			}
		}

		waitErr := cmd.Wait()
		if stopped || ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("codex: read stream: %w", err))
			return
		}
		if waitErr != nil {
			yield(nil, fmt.Errorf("codex: %s exited: %w", e.bin, waitErr))
		}
	}
}

func (e *CodexEngine) answerApproval(ctx context.Context, stdin io.Writer, approval codexApprovalEvent, authorize AuthorizeFunc) error {
	decision := Decision{Allow: true}
	if authorize != nil {
		input := approval.Item.Arguments
		if len(input) == 0 && approval.Item.Command != "" {
			input, _ = json.Marshal(map[string]string{"command": approval.Item.Command})
		}
		toolName := approval.Item.Tool
		if toolName == "" {
			toolName = "command_execution"
		}
		var err error
		decision, err = authorize(ctx, AuthRequest{ToolName: toolName, Input: input})
		if err != nil {
			return fmt.Errorf("codex: authorization callback: %w", err)
		}
	}

	verdict := "denied"
	if decision.Allow {
		verdict = "approved"
	}
	reply, err := json.Marshal(map[string]string{"id": approval.ID, "decision": verdict})
	if err != nil {
		return fmt.Errorf("codex: marshal approval reply: %w", err)
	}
	if _, err := stdin.Write(append(reply, '\n')); err != nil {
		return fmt.Errorf("codex: write approval reply: %w", err)
	}
	return nil
}
