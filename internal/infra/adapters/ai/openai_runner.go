package ai

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"agent-workflow-engine/internal/domain/model"
	"agent-workflow-engine/internal/domain/ports/adapter"
	"agent-workflow-engine/internal/infra/metrics"
)

var _ adapter.AgentRunner = (*OpenAIRunner)(nil)

// OpenAIRunner streams Chat Completions. Text deltas are forwarded as they
// arrive; tool calls and usage are taken from the accumulated completion at
// the end of the stream.
type OpenAIRunner struct {
	client       openai.Client
	defaultModel string
	maxOut       int
}

func NewOpenAIRunner(apiKey, defaultModel string, maxOut int) (*OpenAIRunner, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIRunner{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		maxOut:       maxOut,
	}, nil
}

func (o *OpenAIRunner) Run(ctx context.Context, step model.AgentStep, messages []model.Message) (<-chan adapter.StepEvent, error) {
	params := openai.ChatCompletionNewParams{
		Model:    modelOrDefault(step.Model, o.defaultModel),
		Messages: toOpenAIMessages(step, messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if o.maxOut > 0 {
		params.MaxTokens = openai.Int(int64(o.maxOut))
	}
	for _, t := range step.Tools {
		def := shared.FunctionDefinitionParam{Name: t.Name}
		if t.Description != "" {
			def.Description = openai.String(t.Description)
		}
		if len(t.Parameters) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(t.Parameters, &schema); err == nil {
				def.Parameters = schema
			}
		}
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(def))
	}

	out := make(chan adapter.StepEvent, 16)
	go func() {
		defer close(out)
		start := time.Now()

		mdl := string(params.Model)
		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		textOpen := false
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !textOpen {
					textOpen = true
					out <- adapter.StepEvent{Type: adapter.StepTextStart}
				}
				out <- adapter.StepEvent{Type: adapter.StepTextDelta, Delta: delta}
			}
		}
		if err := stream.Err(); err != nil {
			metrics.ObserveAgentUsage("openai", mdl, 0, 0, int(time.Since(start).Milliseconds()), false)
			out <- adapter.StepEvent{Type: adapter.StepError, Delta: err.Error()}
			return
		}
		if textOpen {
			out <- adapter.StepEvent{Type: adapter.StepTextEnd}
		}

		var text string
		if len(acc.Choices) > 0 {
			msg := acc.Choices[0].Message
			text = msg.Content
			for _, tc := range msg.ToolCalls {
				out <- adapter.StepEvent{Type: adapter.StepToolCall, ToolCall: &model.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				}}
			}
		}

		usage := adapter.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		}
		if usage.TotalTokens == 0 {
			usage.PromptTokens, usage.CompletionTokens = estimateTokens(messages, text)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		metrics.ObserveAgentUsage("openai", mdl, usage.PromptTokens, usage.CompletionTokens, int(time.Since(start).Milliseconds()), true)
		out <- adapter.StepEvent{Type: adapter.StepUsage, Usage: &usage}
	}()
	return out, nil
}

func toOpenAIMessages(step model.AgentStep, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if step.Instructions != "" {
		out = append(out, openai.SystemMessage(step.Instructions))
	}
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case model.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		case model.RoleAssistant:
			if calls := m.ToolCalls(); len(calls) > 0 {
				asst := openai.ChatCompletionAssistantMessageParam{}
				if txt := m.Text(); txt != "" {
					asst.Content.OfString = openai.String(txt)
				}
				for _, tc := range calls {
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: string(tc.Arguments),
							},
						},
					})
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			} else {
				out = append(out, openai.AssistantMessage(m.Text()))
			}
		}
	}
	return out
}
