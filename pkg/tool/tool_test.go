package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Returns its message argument.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"count":   map[string]any{"type": "integer", "minimum": 1},
			},
			"required":             []any{"message"},
			"additionalProperties": false,
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["message"], nil
		},
	}
}

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"message":"hi","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegistryRejectsInvalidArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	ctx := context.Background()

	cases := []struct {
		name string
		args string
	}{
		{"missing required", `{"count":1}`},
		{"wrong type", `{"message":42}`},
		{"constraint violation", `{"message":"hi","count":0}`},
		{"unexpected property", `{"message":"hi","extra":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Call(ctx, "echo", json.RawMessage(tc.args))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid arguments")
		})
	}
}

func TestRegistryMalformedArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	_, err := r.Call(context.Background(), "echo", json.RawMessage(`{"message":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON object")
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestRegistryNoSchemaToolAcceptsAnything(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "ping",
		Handler: func(context.Context, map[string]any) (any, error) {
			return "pong", nil
		},
	}))

	out, err := r.Call(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	out, err = r.Call(context.Background(), "ping", json.RawMessage(`{"whatever":1}`))
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(&Tool{Handler: func(context.Context, map[string]any) (any, error) { return nil, nil }}))
	assert.Error(t, r.Register(&Tool{Name: "nohandler"}))

	require.NoError(t, r.Register(echoTool()))
	assert.Error(t, r.Register(echoTool()), "duplicate name must fail")
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&Tool{
			Name:    name,
			Handler: func(context.Context, map[string]any) (any, error) { return nil, nil },
		}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())

	tools := r.List()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].Name)
}
