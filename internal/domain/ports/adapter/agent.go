package adapter

import (
	"context"
	"encoding/json"

	"agent-workflow-engine/internal/domain/model"
)

type StepEventType string

const (
	StepReasoningStart StepEventType = "reasoning-start"
	StepReasoningDelta StepEventType = "reasoning-delta"
	StepReasoningEnd   StepEventType = "reasoning-end"
	StepTextStart      StepEventType = "text-start"
	StepTextDelta      StepEventType = "text-delta"
	StepTextEnd        StepEventType = "text-end"
	StepToolCall       StepEventType = "tool-call"
	StepUsage          StepEventType = "usage"
	StepError          StepEventType = "error"
)

// Usage for a single agent invocation, as reported by the provider or
// estimated when the provider omits it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StepEvent is one item of an agent invocation's event stream. Delta carries
// text for the delta types and the error message for StepError.
type StepEvent struct {
	Type     StepEventType
	Delta    string
	ToolCall *model.ToolCall
	Usage    *Usage
}

// AgentRunner is the port for LLM-backed agent execution. Run returns a
// channel of step events that is closed when the invocation finishes;
// failures are reported in-band as a StepError event. Cancelling ctx stops
// the underlying stream.
type AgentRunner interface {
	Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan StepEvent, error)
}

// ToolExecutor resolves and invokes a tool by name. runID lets executors
// register spawned processes with the abort registry. The result must be
// JSON-serializable; it is wrapped in a tool-role message by the engine.
type ToolExecutor interface {
	Execute(ctx context.Context, runID, name string, args json.RawMessage) (json.RawMessage, error)
}
