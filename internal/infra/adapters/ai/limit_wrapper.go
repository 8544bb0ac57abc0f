package ai

import (
	"context"

	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
)

var _ adapter.AgentRunner = (*limitedRunner)(nil)

// limitedRunner caps concurrent provider invocations with a semaphore. The
// slot is held for the whole stream, not just the request, since providers
// meter concurrent streams.
type limitedRunner struct {
	inner adapter.AgentRunner
	sem   chan struct{}
}

func NewLimitedRunner(inner adapter.AgentRunner, maxConcurrent int) adapter.AgentRunner {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedRunner{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedRunner) Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan adapter.StepEvent, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inner, err := l.inner.Run(ctx, step, messages)
	if err != nil {
		<-l.sem
		return nil, err
	}

	out := make(chan adapter.StepEvent, 16)
	go func() {
		defer func() {
			<-l.sem
			close(out)
		}()
		for ev := range inner {
			out <- ev
		}
	}()
	return out, nil
}
