package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&tool.Tool{
		Name:        "count_items",
		Description: "Counts items for a topic.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic_id": map[string]any{"type": "string"},
			},
			"required": []any{"topic_id"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"topic_id": args["topic_id"], "count": 7}, nil
		},
	}))
	require.NoError(t, reg.Register(&tool.Tool{
		Name:        "always_fails",
		Description: "Fails every time.",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream exploded")
		},
	}))
	require.NoError(t, reg.Register(&tool.Tool{
		Name:        "rate_limited",
		Description: "Reports an upstream rate limit.",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, &models.RetryLater{Delay: time.Minute, Reason: "x.com 429"}
		},
	}))
	return reg
}

func TestReactToolCallThenFinal(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "count_items", `{"topic_id":"t1"}`),
		llm.Text(`{"summary":"7 items found"}`),
	)
	exec := &ReactExecutor{
		LLM:          client,
		Tools:        testRegistry(t),
		SystemPrompt: "you count things",
	}

	task := models.NewTask("analyst:analyze", map[string]any{"topic_id": "t1"})
	res, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "7 items found", data["summary"])

	// Second call must carry the assistant tool-call turn and the tool
	// observation.
	calls := client.Calls()
	require.Len(t, calls, 2)
	msgs := calls[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Contains(t, msgs[3].Content, `"count":7`)
}

func TestReactToolErrorBecomesObservation(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "always_fails", `{}`),
		llm.Text("gave up gracefully"),
	)
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t)}

	res, err := exec.Execute(context.Background(), models.NewTask("analyst:analyze", nil))
	require.NoError(t, err)
	assert.Equal(t, "gave up gracefully", res.Data)

	msgs := client.Calls()[1].Messages
	assert.Contains(t, msgs[3].Content, "Error: upstream exploded")
}

func TestReactUnknownToolBecomesObservation(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "no_such_tool", `{}`),
		llm.Text("ok"),
	)
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t)}

	_, err := exec.Execute(context.Background(), models.NewTask("analyst:analyze", nil))
	require.NoError(t, err)
	assert.Contains(t, client.Calls()[1].Messages[3].Content, "unknown tool")
}

func TestReactRetryLaterEscapes(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "rate_limited", `{}`),
	)
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t)}

	_, err := exec.Execute(context.Background(), models.NewTask("crawler:crawl", nil))
	var retry *models.RetryLater
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, time.Minute, retry.Delay)
}

func TestReactUnsetMaxStepsUsesDefault(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "count_items", `{"topic_id":"t1"}`),
		llm.Text("done"),
	)
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t)}

	// The zero value means "no limit configured", not a zero-step budget.
	_, err := exec.Execute(context.Background(), models.NewTask("analyst:analyze", nil))
	require.NoError(t, err)
}

func TestReactStepLimit(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.Call("c1", "count_items", `{"topic_id":"t1"}`),
		llm.Call("c2", "count_items", `{"topic_id":"t1"}`),
	)
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t), MaxSteps: 2}

	_, err := exec.Execute(context.Background(), models.NewTask("analyst:analyze", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step limit exceeded")
}

func TestReactLLMErrorPropagates(t *testing.T) {
	client := llm.NewScriptedClient().Fail(errors.New("503 from grok"))
	exec := &ReactExecutor{LLM: client, Tools: testRegistry(t)}

	_, err := exec.Execute(context.Background(), models.NewTask("analyst:analyze", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503 from grok")
}
