// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API with tool calling. Any OpenAI compatible endpoint
// (OpenRouter, local gateways) works through BaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
)

// OpenRouterBaseURL is the OpenAI compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1/"

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	// RequestOptions are appended to the client options, e.g. a custom HTTP client.
	RequestOptions []option.RequestOption
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 2000,
	}
}

// NewModel creates a new OpenAI model using the official client. SDK level
// retries are disabled; the agent loop's retry policy is the only one.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	clientOpts = append(clientOpts, opts.RequestOptions...)

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

// Complete implements model.Model.
func (m *Model) Complete(ctx context.Context, req model.Request) (model.Decision, error) {
	params, err := m.buildParams(req)
	if err != nil {
		return model.Decision{}, model.NewError(model.KindMalformedRequest, "building request", err)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Decision{}, classify(err)
	}

	if len(resp.Choices) == 0 {
		return model.Decision{}, model.NewError(model.KindMalformedResponse, "no choices returned", nil)
	}

	msg := resp.Choices[0].Message
	decision := model.Decision{
		Text: msg.Content,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for _, tc := range msg.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return model.Decision{}, model.NewError(model.KindMalformedResponse, fmt.Sprintf("tool call %s: arguments are not a JSON object", tc.ID), err)
		}

		decision.ToolRequests = append(decision.ToolRequests, model.ToolRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return decision, nil
}

// buildMessages converts the projected prompt into OpenAI chat messages.
func buildMessages(req model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, b := range req.Prompt.Blocks {
		switch b.Role {
		case prompt.RoleUser:
			messages = append(messages, openai.UserMessage(b.Text))
		case prompt.RoleAssistant:
			if len(b.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(b.Text))
				continue
			}

			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(b.ToolCalls))

			for _, c := range b.ToolCalls {
				args, err := json.Marshal(c.Arguments)
				if err != nil {
					return nil, fmt.Errorf("encoding arguments of call %s: %w", c.ID, err)
				}

				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   c.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: string(args),
					},
				})
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}})
		case prompt.RoleTool:
			if b.ToolResult != nil {
				messages = append(messages, openai.ToolMessage(b.ToolResult.Content(), b.ToolResult.CallID))
			}
		}
	}

	return messages, nil
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) (openai.ChatCompletionNewParams, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = m.opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               modelID,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) == 0 {
		return params, nil
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}

	params.Tools = tools

	return params, nil
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

// classify maps SDK errors onto the model error taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e := model.FromStatus(apiErr.StatusCode, apiErr.Message, err)
		if apiErr.Code == "insufficient_quota" {
			e.Kind = model.KindQuotaExhausted
		}
		return e
	}

	return model.Classify(err)
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
