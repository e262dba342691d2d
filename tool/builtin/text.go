package builtin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/contextloop/core"
	"github.com/hupe1980/contextloop/tool"
)

func pure(o *tool.FunctionToolOptions) { o.Capability = tool.CapabilityPure }

func category(c string) func(o *tool.FunctionToolOptions) {
	return func(o *tool.FunctionToolOptions) { o.Category = c }
}

func newCurrentTimeTool(now func() time.Time) tool.Tool {
	return tool.NewFunctionTool(
		"get_current_time",
		"Returns the current UTC date and time",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return now().UTC().Format("2006-01-02 15:04:05 UTC"), nil
		},
		category("utility"),
	)
}

func newEchoTool() tool.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":   map[string]any{"type": "string", "description": "Text to repeat"},
			"repeat": map[string]any{"type": "integer", "minimum": 1, "maximum": 10, "default": 1, "description": "How many times to repeat the text"},
		},
		"required":             []string{"text"},
		"additionalProperties": false,
	}

	return tool.NewFunctionTool(
		"echo",
		"Repeats the given text, useful for testing",
		schema,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			repeat := intArg(args, "repeat", 1)

			parts := make([]string, repeat)
			for i := range parts {
				parts[i] = text
			}

			return strings.Join(parts, " | "), nil
		},
		pure,
		category("text"),
	)
}

type countWordsArgs struct {
	Text string `json:"text" description:"Text to analyse"`
}

func newCountWordsTool() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"count_words",
		"Counts words, characters and lines in a text",
		countWordsArgs{},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			text, _ := args["text"].(string)

			return map[string]any{
				"word_count":                len(strings.Fields(text)),
				"character_count":           len([]rune(text)),
				"character_count_no_spaces": len([]rune(strings.ReplaceAll(text, " ", ""))),
				"line_count":                strings.Count(text, "\n") + 1,
			}, nil
		},
		pure,
		category("text"),
	)
}

func newFormatJSONTool() tool.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"json_string": map[string]any{"type": "string", "description": "JSON document to format"},
			"indent":      map[string]any{"type": "integer", "minimum": 0, "maximum": 8, "default": 2, "description": "Spaces per indentation level"},
		},
		"required": []string{"json_string"},
	}

	return tool.NewFunctionTool(
		"format_json",
		"Pretty prints a JSON document",
		schema,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			src, _ := args["json_string"].(string)
			indent := intArg(args, "indent", 2)

			var buf bytes.Buffer
			if err := json.Indent(&buf, []byte(src), "", strings.Repeat(" ", indent)); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}

			return buf.String(), nil
		},
		pure,
		category("text"),
	)
}

func newGenerateUUIDTool() tool.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"version": map[string]any{"type": "integer", "enum": []any{1, 4}, "default": 4, "description": "UUID version"},
		},
	}

	return tool.NewFunctionTool(
		"generate_uuid",
		"Generates a unique UUID (version 1 or 4)",
		schema,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			if intArg(args, "version", 4) == 1 {
				id, err := uuid.NewUUID()
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			}

			return uuid.NewString(), nil
		},
		category("utility"),
	)
}

// intArg reads an integer argument that may arrive as any JSON number type.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}

	return def
}
