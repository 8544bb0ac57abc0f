package model

import "encoding/json"

// ToolDecl declares a tool an agent is allowed to call. Parameters is a JSON
// schema blob passed through to the provider untouched.
type ToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type StepKind string

const (
	StepAgent    StepKind = "agent"
	StepFunction StepKind = "function"
)

// WorkflowStep is one step of a workflow: either an LLM-backed agent or a
// plain registered function. Exactly one of Agent/Function is set,
// discriminated by Kind.
type WorkflowStep struct {
	Kind     StepKind      `json:"kind"`
	Agent    *AgentStep    `json:"agent,omitempty"`
	Function *FunctionStep `json:"function,omitempty"`
}

type AgentStep struct {
	Name         string     `json:"name"`
	Model        string     `json:"model,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	Tools        []ToolDecl `json:"tools,omitempty"`
}

type FunctionStep struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Workflow is the authored definition a turn executes against. The engine
// does not interpret agent instructions; it only drives the steps.
type Workflow struct {
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`
}

// DeclaredTools returns the set of tool names any agent step declares.
// Tool calls for names outside this set fail the turn.
func (w Workflow) DeclaredTools() map[string]bool {
	out := make(map[string]bool)
	for _, s := range w.Steps {
		if s.Kind == StepAgent && s.Agent != nil {
			for _, t := range s.Agent.Tools {
				out[t.Name] = true
			}
		}
	}
	return out
}
