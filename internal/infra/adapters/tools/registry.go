package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"agent-workflow-engine/internal/domain"
	"agent-workflow-engine/internal/domain/ports/adapter"
)

// Tool is one invocable function. Implementations must honor ctx
// cancellation; long-running tools that spawn processes register them with
// the abort registry via the runID.
type Tool interface {
	Name() string
	Execute(ctx context.Context, runID string, args json.RawMessage) (json.RawMessage, error)
}

var _ adapter.ToolExecutor = (*Registry)(nil)

// Registry dispatches tool calls by name.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Execute(ctx context.Context, runID, name string, args json.RawMessage) (json.RawMessage, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, domain.ErrUnknownTool)
	}
	return t.Execute(ctx, runID, args)
}
