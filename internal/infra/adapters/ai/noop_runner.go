package ai

import (
	"context"
	"time"

	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
)

var _ adapter.AgentRunner = (*NoopRunner)(nil)

// NoopRunner answers every invocation with a canned reply. Used when no
// provider key is configured so the engine stays runnable locally.
type NoopRunner struct {
	Reply string
}

func NewNoopRunner() *NoopRunner {
	return &NoopRunner{Reply: "noop agent reply"}
}

func (n *NoopRunner) Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan adapter.StepEvent, error) {
	out := make(chan adapter.StepEvent, 8)
	go func() {
		defer close(out)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			out <- adapter.StepEvent{Type: adapter.StepError, Delta: ctx.Err().Error()}
			return
		}
		out <- adapter.StepEvent{Type: adapter.StepTextStart}
		out <- adapter.StepEvent{Type: adapter.StepTextDelta, Delta: n.Reply}
		out <- adapter.StepEvent{Type: adapter.StepTextEnd}
		out <- adapter.StepEvent{Type: adapter.StepUsage, Usage: &adapter.Usage{}}
	}()
	return out, nil
}
