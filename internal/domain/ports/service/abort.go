package service

import (
	"context"
	"os/exec"
)

// AbortRegistry holds per-run cancellation state: one cancellation context
// plus the set of OS child processes spawned on behalf of the run.
//
// Cancellation is cooperative: the run context must be threaded through
// every cancellable operation, and child processes must honor termination
// signals.
type AbortRegistry interface {
	// CreateForRun replaces any prior state for the run and returns the
	// cancellation context to thread through all of its operations.
	CreateForRun(parent context.Context, runID string) context.Context

	// RegisterProcess tracks a spawned command so abort can kill it. The
	// caller unregisters after the process exits.
	RegisterProcess(runID string, cmd *exec.Cmd)
	UnregisterProcess(runID string, cmd *exec.Cmd)

	// Abort cancels the run context, terminates each tracked process group
	// and schedules a kill fallback per process after a short grace period.
	Abort(runID string)

	// ForceAbort cancels if not already cancelled, drops pending grace
	// timers and kills all tracked process groups immediately.
	ForceAbort(runID string)

	IsAborted(runID string) bool

	// Cleanup drops all state for the run. Must be called exactly once when
	// the run reaches a terminal state.
	Cleanup(runID string)
}
