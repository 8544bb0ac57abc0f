package abort

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"agent-workflow-engine/internal/domain/ports/service"
	"agent-workflow-engine/internal/infra/metrics"
)

// termGrace is how long a process group gets after SIGTERM before it is
// SIGKILLed.
const termGrace = 200 * time.Millisecond

var _ service.AbortRegistry = (*Registry)(nil)

// Registry tracks one cancellable context plus any spawned OS processes per
// run. Abort cancels the context and escalates SIGTERM -> SIGKILL on the
// tracked process groups; ForceAbort skips the grace period.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*runState
	log  *zerolog.Logger
}

type runState struct {
	ctx        context.Context
	cancel     context.CancelFunc
	aborted    bool
	procs      map[*exec.Cmd]struct{}
	killTimers []*time.Timer
}

func NewRegistry(log *zerolog.Logger) *Registry {
	return &Registry{
		runs: make(map[string]*runState),
		log:  log,
	}
}

// CreateForRun returns a context that Abort and Cleanup cancel. Calling it
// again for the same run replaces the previous entry.
func (r *Registry) CreateForRun(parent context.Context, runID string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	if prev, ok := r.runs[runID]; ok {
		prev.cancel()
	}
	r.runs[runID] = &runState{
		ctx:    ctx,
		cancel: cancel,
		procs:  make(map[*exec.Cmd]struct{}),
	}
	r.mu.Unlock()

	return ctx
}

func (r *Registry) RegisterProcess(runID string, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return
	}
	if st.aborted {
		// Late registration after an abort: kill right away.
		killGroup(cmd, syscall.SIGKILL)
		return
	}
	st.procs[cmd] = struct{}{}
}

func (r *Registry) UnregisterProcess(runID string, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.runs[runID]; ok {
		delete(st.procs, cmd)
	}
}

// Abort cancels the run's context, SIGTERMs every tracked process group and
// arms a SIGKILL timer per process. Unknown run IDs are a no-op.
func (r *Registry) Abort(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runs[runID]
	if !ok || st.aborted {
		return
	}
	st.aborted = true
	st.cancel()
	metrics.IncAbort("abort")
	r.log.Info().Str("run_id", runID).Int("procs", len(st.procs)).Msg("aborting run")

	for cmd := range st.procs {
		cmd := cmd
		killGroup(cmd, syscall.SIGTERM)
		t := time.AfterFunc(termGrace, func() {
			killGroup(cmd, syscall.SIGKILL)
		})
		st.killTimers = append(st.killTimers, t)
	}
}

// ForceAbort is Abort without the grace period: pending SIGKILL timers are
// fired immediately and every tracked process group is SIGKILLed, whether or
// not a plain Abort ran first.
func (r *Registry) ForceAbort(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runs[runID]
	if !ok {
		return
	}
	st.aborted = true
	st.cancel()
	metrics.IncAbort("force")
	r.log.Info().Str("run_id", runID).Int("procs", len(st.procs)).Msg("force aborting run")

	for _, t := range st.killTimers {
		t.Stop()
	}
	st.killTimers = nil
	for cmd := range st.procs {
		killGroup(cmd, syscall.SIGKILL)
	}
}

func (r *Registry) IsAborted(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	return ok && st.aborted
}

// Cleanup cancels the context, stops timers and drops the run's entry. Safe
// to call more than once.
func (r *Registry) Cleanup(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.runs[runID]
	if !ok {
		return
	}
	st.cancel()
	for _, t := range st.killTimers {
		t.Stop()
	}
	delete(r.runs, runID)
}

// killGroup signals the whole process group when the command was started
// with Setpgid, falling back to the single process otherwise.
func killGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}
