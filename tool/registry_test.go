package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextloop/core"
)

type sumArgs struct {
	A float64 `json:"a" description:"First addend"`
	B float64 `json:"b" description:"Second addend"`
}

func newSumTool() *FunctionTool {
	return NewFunctionToolFromStruct("sum", "Add numbers", sumArgs{}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	}, func(o *FunctionToolOptions) { o.Capability = CapabilityPure })
}

func emptyThread() core.Thread { return core.NewThread("t1", time.Unix(0, 0)) }

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newSumTool()))

	spec, err := reg.Resolve("sum")
	require.NoError(t, err)
	assert.Equal(t, CapabilityPure, spec.Capability)
	assert.Equal(t, "Add numbers", spec.Description)

	err = reg.Register(newSumTool())
	assert.ErrorContains(t, err, "already registered")

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.NotErrorIs(t, err, ErrInvalidArguments)
}

func TestRegistry_RegisterRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	bad := NewFunctionTool("bad", "", map[string]any{"type": 7}, nil)

	assert.Error(t, reg.Register(bad))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_DefaultsToEffectful(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewFunctionTool("noop", "", nil, func(*core.ToolContext, map[string]any) (any, error) { return nil, nil }))

	spec, err := reg.Resolve("noop")
	require.NoError(t, err)
	assert.Equal(t, CapabilityEffectful, spec.Capability)
	assert.Empty(t, spec.Category)
}

func TestRegistry_Category(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewFunctionTool("tagged", "", nil, func(*core.ToolContext, map[string]any) (any, error) { return nil, nil },
		func(o *FunctionToolOptions) { o.Category = "math" }))

	spec, err := reg.Resolve("tagged")
	require.NoError(t, err)
	assert.Equal(t, "math", spec.Category)
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newSumTool())
	spec, _ := reg.Resolve("sum")

	res, err := reg.Invoke(context.Background(), emptyThread(), spec, core.ToolCall{ID: "c1", Name: "sum", Arguments: map[string]any{"a": 2.0, "b": 3.0}})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.CallID)
	assert.Equal(t, 5.0, res.Output)
	assert.False(t, res.IsError())
}

func TestRegistry_InvokeInvalidArgumentsDoesNotExecute(t *testing.T) {
	var called bool

	reg := NewRegistry()
	reg.MustRegister(NewFunctionToolFromStruct("sum", "", sumArgs{}, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return nil, nil
	}))
	spec, _ := reg.Resolve("sum")

	_, err := reg.Invoke(context.Background(), emptyThread(), spec, core.ToolCall{ID: "c1", Name: "sum", Arguments: map[string]any{"a": "two"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArguments)
	assert.False(t, called)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.KindInvalidArgs, te.Code)
}

func TestRegistry_InvokeExecutionFailuresAreData(t *testing.T) {
	reg := NewRegistry(func(o *RegistryOptions) { o.DefaultTimeout = 50 * time.Millisecond })
	reg.MustRegister(
		NewFunctionTool("fail", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("boom")
		}),
		NewFunctionTool("panic", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			panic("kaboom")
		}),
		NewFunctionTool("slow", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
			<-tc.Context().Done()
			return nil, tc.Context().Err()
		}),
		NewFunctionTool("stuck", "", nil, func(*core.ToolContext, map[string]any) (any, error) {
			time.Sleep(time.Second)
			return "late", nil
		}, func(o *FunctionToolOptions) { o.Timeout = 10 * time.Millisecond }),
	)

	for name, want := range map[string]string{
		"fail":  "boom",
		"panic": "kaboom",
		"slow":  "deadline exceeded",
		"stuck": "deadline exceeded",
	} {
		t.Run(name, func(t *testing.T) {
			spec, err := reg.Resolve(name)
			require.NoError(t, err)

			res, err := reg.Invoke(context.Background(), emptyThread(), spec, core.ToolCall{ID: "c-" + name, Name: name})
			require.NoError(t, err)
			assert.True(t, res.IsError())
			assert.Equal(t, core.KindToolExecution, res.ErrorKind)
			assert.Contains(t, res.Error, want)
			assert.Equal(t, "c-"+name, res.CallID)
		})
	}
}

func TestRegistry_ExecuteFoldsEveryFailure(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newSumTool())

	unknown := reg.Execute(context.Background(), emptyThread(), core.ToolCall{ID: "c1", Name: "nope"})
	assert.Equal(t, core.KindUnknownTool, unknown.ErrorKind)
	assert.Equal(t, "c1", unknown.CallID)
	assert.Equal(t, "nope", unknown.Name)

	invalid := reg.Execute(context.Background(), emptyThread(), core.ToolCall{ID: "c2", Name: "sum", Arguments: map[string]any{"a": 1}})
	assert.Equal(t, core.KindInvalidArgs, invalid.ErrorKind)

	ok := reg.Execute(context.Background(), emptyThread(), core.ToolCall{ID: "c3", Name: "sum", Arguments: map[string]any{"a": 1.0, "b": 2.0}})
	assert.False(t, ok.IsError())
	assert.Equal(t, 3.0, ok.Output)
}

func TestRegistry_ToolSeesThreadSnapshot(t *testing.T) {
	th := emptyThread().Append(core.NewUserMessage("hello"))

	reg := NewRegistry()
	reg.MustRegister(NewFunctionTool("peek", "", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		assert.NoError(t, tc.Validate())
		return map[string]any{"thread": tc.ThreadID(), "events": tc.History().Len(), "call": tc.CallID()}, nil
	}))

	res := reg.Execute(context.Background(), th, core.ToolCall{ID: "c9", Name: "peek"})
	assert.Equal(t, map[string]any{"thread": "t1", "events": 1, "call": "c9"}, res.Output)
}

func TestRegistry_Specs(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		NewFunctionTool("zeta", "", nil, nil),
		NewFunctionTool("alpha", "", nil, nil),
	)

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "zeta", specs[1].Name)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "object", defs[0].Function.Parameters["type"])
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(newSumTool())

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			res := reg.Execute(context.Background(), emptyThread(), core.ToolCall{ID: "c", Name: "sum", Arguments: map[string]any{"a": float64(i), "b": 1.0}})
			assert.Equal(t, float64(i)+1, res.Output)
		}(i)
	}

	wg.Wait()
}

func TestToolError_Format(t *testing.T) {
	err := NewToolError("sum", "bad", core.KindInvalidArgs)
	assert.Equal(t, "tool error [invalid_arguments] in sum: bad", err.Error())
	assert.Equal(t, "tool error in sum: bad", (&ToolError{Tool: "sum", Message: "bad"}).Error())
}
