package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"agent-workflow-engine/internal/domain/ports/service"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool runs a command under /bin/sh in its own process group so an
// abort can signal the whole tree, including any children the command
// spawns.
type ShellTool struct {
	registry service.AbortRegistry
	timeout  time.Duration
}

func NewShellTool(registry service.AbortRegistry, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	return &ShellTool{registry: registry, timeout: timeout}
}

func (s *ShellTool) Name() string { return "shell" }

type shellArgs struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
}

type shellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (s *ShellTool) Execute(ctx context.Context, runID string, args json.RawMessage) (json.RawMessage, error) {
	var in shellArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	if in.Command == "" {
		return nil, errors.New("shell: empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	cmd.Dir = in.Dir
	// Own process group, so group signals do not hit the worker itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.registry.RegisterProcess(runID, cmd)
	defer s.registry.UnregisterProcess(runID, cmd)

	err := cmd.Wait()

	res := shellResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			// Aborted mid-run: surface the cancellation, not the kill signal.
			return nil, ctx.Err()
		} else if !res.TimedOut {
			return nil, err
		}
	}
	return json.Marshal(res)
}
