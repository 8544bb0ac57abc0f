package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
	"agent-workflow-engine/internal/infra/metrics"
)

var _ adapter.AgentRunner = (*GeminiRunner)(nil)

type GeminiRunner struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

func NewGeminiRunner(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiRunner, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiRunner{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiRunner) Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan adapter.StepEvent, error) {
	cfg := &genai.GenerateContentConfig{}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	if step.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: step.Instructions}},
		}
	}
	if len(step.Tools) > 0 {
		tool := &genai.Tool{}
		for _, t := range step.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if len(t.Parameters) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(t.Parameters, &schema); err == nil {
					decl.ParametersJsonSchema = schema
				}
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, decl)
		}
		cfg.Tools = []*genai.Tool{tool}
	}

	contents := toGeminiHistory(messages)
	mdl := modelOrDefault(step.Model, g.defaultModel)

	out := make(chan adapter.StepEvent, 16)
	go func() {
		defer close(out)
		start := time.Now()

		var (
			text     strings.Builder
			textOpen bool
			usage    adapter.Usage
		)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, mdl, contents, cfg) {
			if err != nil {
				metrics.ObserveAgentUsage("gemini", mdl, 0, 0, int(time.Since(start).Milliseconds()), false)
				out <- adapter.StepEvent{Type: adapter.StepError, Delta: err.Error()}
				return
			}
			if resp.UsageMetadata != nil {
				usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					if !textOpen {
						textOpen = true
						out <- adapter.StepEvent{Type: adapter.StepTextStart}
					}
					text.WriteString(part.Text)
					out <- adapter.StepEvent{Type: adapter.StepTextDelta, Delta: part.Text}
				}
				if fc := part.FunctionCall; fc != nil {
					args, _ := json.Marshal(fc.Args)
					id := fc.ID
					if id == "" {
						// Gemini does not assign call IDs; synthesize one.
						id = "call_" + model.NewID(time.Now())
					}
					out <- adapter.StepEvent{Type: adapter.StepToolCall, ToolCall: &model.ToolCall{
						ID:        id,
						Name:      fc.Name,
						Arguments: args,
					}}
				}
			}
		}
		if textOpen {
			out <- adapter.StepEvent{Type: adapter.StepTextEnd}
		}
		if usage.TotalTokens == 0 {
			usage.PromptTokens, usage.CompletionTokens = estimateTokens(messages, text.String())
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		metrics.ObserveAgentUsage("gemini", mdl, usage.PromptTokens, usage.CompletionTokens, int(time.Since(start).Milliseconds()), true)
		out <- adapter.StepEvent{Type: adapter.StepUsage, Usage: &usage}
	}()
	return out, nil
}

func toGeminiHistory(msgs []model.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch m.Role {
		case model.RoleAssistant:
			role = genai.RoleModel
		case model.RoleSystem, model.RoleUser, model.RoleTool:
			// No separate system/tool role in history; pass as user content.
			role = genai.RoleUser
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Text()}},
		})
	}
	return out
}

func modelOrDefault(m, def string) string {
	if strings.TrimSpace(m) != "" {
		return m
	}
	return def
}
