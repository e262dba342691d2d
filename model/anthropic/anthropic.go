// Package anthropic provides a model.Model backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/contextloop/model"
	"github.com/hupe1980/contextloop/prompt"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   2000,
	}
}

// NewModel creates a new Anthropic model using the official client. SDK level
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

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Complete implements model.Model.
func (m *Model) Complete(ctx context.Context, req model.Request) (model.Decision, error) {
	messages, err := buildMessages(req.Prompt)
	if err != nil {
		return model.Decision{}, model.NewError(model.KindMalformedRequest, "building request", err)
	}

	modelID := m.opts.Model
	if req.ModelID != "" {
		modelID = anthropic.Model(req.ModelID)
	}

	params := anthropic.MessageNewParams{
		Model:       modelID,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.Decision{}, classify(err)
	}

	decision := model.Decision{
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			decision.Text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()

			args, err := decodeInput(tu.Input)
			if err != nil {
				return model.Decision{}, model.NewError(model.KindMalformedResponse, fmt.Sprintf("tool use %s: input is not a JSON object", tu.ID), err)
			}

			decision.ToolRequests = append(decision.ToolRequests, model.ToolRequest{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	return decision, nil
}

// buildMessages converts the projected prompt to Anthropic messages. Tool
// results travel in user turns, and consecutive blocks of the same role are
// merged because the API expects alternating turns.
func buildMessages(p prompt.Prompt) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam

	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}

		if role == anthropic.MessageParamRoleUser {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
			return
		}

		messages = append(messages, anthropic.NewAssistantMessage(blocks...))
	}

	for _, b := range p.Blocks {
		switch b.Role {
		case prompt.RoleUser:
			push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(b.Text))
		case prompt.RoleAssistant:
			if len(b.ToolCalls) == 0 {
				push(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(b.Text))
				continue
			}

			for _, c := range b.ToolCalls {
				push(anthropic.MessageParamRoleAssistant, anthropic.NewToolUseBlock(c.ID, c.Arguments, c.Name))
			}
		case prompt.RoleTool:
			if b.ToolResult == nil {
				continue
			}

			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(b.ToolResult.CallID, b.ToolResult.Content(), b.ToolResult.Error != ""))
		default:
			return nil, fmt.Errorf("unsupported role %q", b.Role)
		}
	}

	return messages, nil
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}

			switch required := params["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}

		u := anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if u.OfTool != nil && tool.Function.Description != "" {
			u.OfTool.Description = anthropic.String(tool.Function.Description)
		}

		out[i] = u
	}

	return out
}

func decodeInput(input any) (map[string]any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	args := map[string]any{}
	if string(data) == "null" || len(data) == 0 {
		return args, nil
	}

	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}

	return args, nil
}

// classify maps SDK errors onto the model error taxonomy.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.FromStatus(apiErr.StatusCode, "", err)
	}

	return model.Classify(err)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
