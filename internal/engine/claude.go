package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/agentboard/agentboard/internal/domain"
)

// ClaudeEngine drives the claude CLI in stream-json mode. Tool authorization
// flows back into the host through a per-turn HTTP hook listener: the CLI's
// PreToolUse hook posts the pending tool call and blocks until the listener
// answers with a decision.
type ClaudeEngine struct {
	bin    string
	logger *slog.Logger
}

// NewClaude creates the claude backend. bin defaults to "claude".
func NewClaude(bin string, logger *slog.Logger) *ClaudeEngine {
	if bin == "" {
		bin = "claude"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeEngine{bin: bin, logger: logger}
}

// Name implements Engine.
func (e *ClaudeEngine) Name() string { return "claude" }

// permissionModeFor maps the task's interaction mode to the CLI's fixed
// permission policy.
func permissionModeFor(mode domain.InteractionMode) string {
	switch mode {
	case domain.ModeAuto:
		return "bypassPermissions"
	case domain.ModePlan:
		return "plan"
	default:
		return "default"
	}
}

// RunTurn implements Engine.
func (e *ClaudeEngine) RunTurn(ctx context.Context, prompt string, opts TurnOptions) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		args := []string{
			"-p", prompt,
			"--output-format", "stream-json",
			"--verbose",
			"--permission-mode", permissionModeFor(opts.Mode),
		}
		if opts.ResumeToken != "" {
			args = append(args, "--resume", opts.ResumeToken)
		}

		var hook *hookListener
		if opts.Mode != domain.ModeAuto && opts.Authorize != nil {
			var err error
			hook, err = newHookListener(ctx, opts.Authorize, e.logger)
			if err != nil {
				yield(nil, fmt.Errorf("claude: start hook listener: %w", err))
				return
			}
			defer hook.Close()

			settingsPath, err := writeHookSettings(opts.WorkDir, hook.Addr())
			if err != nil {
				yield(nil, fmt.Errorf("claude: write hook settings: %w", err))
				return
			}
			defer os.Remove(settingsPath)
			args = append(args, "--settings", settingsPath)
		}

		cmd := exec.CommandContext(ctx, e.bin, args...)
		cmd.Dir = opts.WorkDir
		cmd.Stderr = io.Discard

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("claude: stdout pipe: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("claude: start %s: %w", e.bin, err))
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		stopped := false
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			if !yield(append(json.RawMessage(nil), line...), nil) {
				stopped = true
				break
			}
		}

		waitErr := cmd.Wait()
		if stopped || ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("claude: read stream: %w", err))
			return
		}
		if waitErr != nil {
			yield(nil, fmt.Errorf("claude: %s exited: %w", e.bin, waitErr))
		}
	}
}

// hookListener is the per-turn HTTP endpoint the claude CLI's PreToolUse
// hook posts to. Each request parks on the host's authorization callback.
type hookListener struct {
	server   *http.Server
	listener net.Listener
}

type hookPayload struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

func newHookListener(ctx context.Context, authorize AuthorizeFunc, logger *slog.Logger) (*hookListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload hookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		// This call blocks until the user answers. The CLI's hook waits
		// on the response, which suspends the whole turn.
		decision, err := authorize(r.Context(), AuthRequest{
			ToolName: payload.ToolName,
			Input:    payload.ToolInput,
		})
		if err != nil {
			logger.Warn("authorization callback failed", "tool", payload.ToolName, "error", err)
			http.Error(w, "authorization failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hookDecisionJSON(decision)); err != nil {
			logger.Debug("failed to write hook decision", "error", err)
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debug("hook listener stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	return &hookListener{server: srv, listener: ln}, nil
}

func (h *hookListener) Addr() string {
	return h.listener.Addr().String()
}

func (h *hookListener) Close() {
	_ = h.server.Close()
}

// hookDecisionJSON shapes the decision the way the CLI's PreToolUse hook
// expects it. Question-tool answers are echoed back in the tool's own input
// format so the CLI can resume with the selection applied.
func hookDecisionJSON(decision Decision) map[string]any {
	behavior := "deny"
	if decision.Allow {
		behavior = "allow"
	}
	out := map[string]any{
		"hookEventName":            "PreToolUse",
		"permissionDecision":       behavior,
		"permissionDecisionReason": decision.Message,
	}
	if len(decision.Answers) > 0 {
		answers := make([]map[string]any, 0, len(decision.Answers))
		for _, a := range decision.Answers {
			answers = append(answers, map[string]any{
				"question_id": a.QuestionID,
				"selected":    a.Selected,
			})
		}
		out["updatedInput"] = map[string]any{"answers": answers}
	}
	return map[string]any{"hookSpecificOutput": out}
}

// writeHookSettings writes a temporary settings file wiring the PreToolUse
// hook to the listener address.
func writeHookSettings(workDir, addr string) (string, error) {
	settings := map[string]any{
		"hooks": map[string]any{
			"PreToolUse": []map[string]any{
				{
					"hooks": []map[string]any{
						{
							"type":    "command",
							"command": fmt.Sprintf("curl -sS -X POST http://%s/hook -H 'Content-Type: application/json' -d @-", addr),
						},
					},
				},
			},
		},
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "agentboard-hooks-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
