// Package langchain adapts any langchaingo llms.Model (Ollama, Mistral,
// Bedrock and friends) to model.Model.
package langchain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
)

// Options configures the adapter.
type Options struct {
	// Name is reported through Info and used when a request carries no model id.
	Name        string
	Provider    string
	Temperature float64
	MaxTokens   int
}

// Model wraps an llms.Model.
type Model struct {
	llm  llms.Model
	opts Options
}

var _ model.Model = (*Model)(nil)

// NewModel wraps llm.
func NewModel(llm llms.Model, optFns ...func(o *Options)) *Model {
	opts := Options{
		Provider:  "langchaingo",
		MaxTokens: 2000,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{llm: llm, opts: opts}
}

// Unwrap returns the underlying llms.Model.
func (m *Model) Unwrap() llms.Model { return m.llm }

// Complete implements model.Model.
func (m *Model) Complete(ctx context.Context, req model.Request) (model.Decision, error) {
	messages := buildMessages(req.Instructions, req.Prompt)

	callOpts := []llms.CallOption{llms.WithMaxTokens(m.opts.MaxTokens)}
	if m.opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(m.opts.Temperature))
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = m.opts.Name
	}

	if modelID != "" {
		callOpts = append(callOpts, llms.WithModel(modelID))
	}

	if len(req.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(buildTools(req.Tools)))
	}

	resp, err := m.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return model.Decision{}, model.Classify(err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return model.Decision{}, model.NewError(model.KindMalformedResponse, "response has no choices", nil)
	}

	choice := resp.Choices[0]
	decision := model.Decision{Text: choice.Content}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			return model.Decision{}, model.NewError(model.KindMalformedResponse, fmt.Sprintf("tool call %s has no function", tc.ID), nil)
		}

		args, err := decodeArguments(tc.FunctionCall.Arguments)
		if err != nil {
			return model.Decision{}, model.NewError(model.KindMalformedResponse, fmt.Sprintf("tool call %s: arguments are not a JSON object", tc.ID), err)
		}

		decision.ToolRequests = append(decision.ToolRequests, model.ToolRequest{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: args,
		})
	}

	if info := choice.GenerationInfo; info != nil {
		in, out := intFrom(info, "PromptTokens", "InputTokens"), intFrom(info, "CompletionTokens", "OutputTokens")
		if in > 0 || out > 0 {
			decision.Usage = &model.TokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
		}
	}

	return decision, nil
}

func buildMessages(instructions string, p prompt.Prompt) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(p.Blocks)+1)

	if instructions != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, instructions))
	}

	for _, b := range p.Blocks {
		switch b.Role {
		case prompt.RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, b.Text))
		case prompt.RoleAssistant:
			if len(b.ToolCalls) == 0 {
				messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, b.Text))
				continue
			}

			parts := make([]llms.ContentPart, 0, len(b.ToolCalls))

			for _, c := range b.ToolCalls {
				args, _ := json.Marshal(c.Arguments)
				parts = append(parts, llms.ToolCall{
					ID:   c.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      c.Name,
						Arguments: string(args),
					},
				})
			}

			messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})
		case prompt.RoleTool:
			if b.ToolResult == nil {
				continue
			}

			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: b.ToolResult.CallID,
					Name:       b.ToolResult.Name,
					Content:    b.ToolResult.Content(),
				}},
			})
		}
	}

	return messages
}

func buildTools(tools []model.ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, len(tools))

	for i, t := range tools {
		out[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}

	return out
}

func decodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}

	return args, nil
}

// intFrom returns the first positive integer found under keys. Providers
// disagree on both the key names and the numeric type.
func intFrom(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			if v > 0 {
				return v
			}
		case int32:
			if v > 0 {
				return int(v)
			}
		case int64:
			if v > 0 {
				return int(v)
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		case string:
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}

	return 0
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Name,
		Provider:      m.opts.Provider,
		SupportsTools: true,
	}
}
