package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
	D string `json:"d,omitempty" enum:"x, y"`
	e string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleArgs{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	assert.NotContains(t, props, "e")
	assert.Equal(t, []any{"x", "y"}, props["d"].(map[string]any)["enum"])

	// Required only includes non-pointer, non-omitempty exported fields.
	assert.ElementsMatch(t, []string{"a"}, schema["required"])
}

func TestSchema_Validate(t *testing.T) {
	s, err := CompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer", "minimum": 1},
			"mode": map[string]any{"type": "string", "enum": []any{"a", "b"}},
		},
		"required":             []string{"x"},
		"additionalProperties": false,
	})
	require.NoError(t, err)

	assert.NoError(t, s.Validate(map[string]any{"x": 5}))
	assert.NoError(t, s.Validate(map[string]any{"x": 5.0, "mode": "a"}))

	for name, args := range map[string]map[string]any{
		"missing":  {},
		"type":     {"x": "five"},
		"minimum":  {"x": 0},
		"enum":     {"x": 1, "mode": "c"},
		"unknown":  {"x": 1, "extra": true},
		"fraction": {"x": 1.5},
	} {
		err := s.Validate(args)

		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), name)
	}
}

func TestCompileSchema_NilAcceptsObjects(t *testing.T) {
	s, err := CompileSchema(nil)
	require.NoError(t, err)
	assert.NoError(t, s.Validate(map[string]any{"anything": 1}))
	assert.NoError(t, s.Validate(nil))
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 42})
	assert.Error(t, err)
}
