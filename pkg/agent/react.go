package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trendwatch/trendwatch/pkg/llm"
	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/tool"
)

// DefaultMaxSteps bounds the ReAct loop when no limit is configured.
const DefaultMaxSteps = 10

// ReactExecutor drives an LLM through a bounded tool-calling loop. The tool
// handlers are the source of truth for side effects; the loop itself only
// talks to the model and dispatches calls.
type ReactExecutor struct {
	LLM          llm.Client
	Tools        *tool.Registry
	SystemPrompt string
	MaxSteps     int
}

// Execute runs the loop for one task. Tool errors are fed back to the model
// as observations; a RetryLater raised by a tool escapes the loop so the
// runtime can defer the whole task.
func (e *ReactExecutor) Execute(ctx context.Context, task *models.Task) (*models.Result, error) {
	maxSteps := e.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: e.SystemPrompt},
		{Role: llm.RoleUser, Content: taskDescription(task)},
	}
	defs := toolDefinitions(e.Tools)

	for step := 0; step < maxSteps; step++ {
		resp, err := e.LLM.Chat(ctx, llm.Request{Messages: messages, Tools: defs})
		if err != nil {
			return nil, fmt.Errorf("llm call at step %d: %w", step+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			return parseFinal(resp.Content), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			obs, err := e.observe(ctx, call)
			if err != nil {
				return nil, err
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    obs,
				ToolCallID: call.ID,
			})
		}
	}
	return nil, fmt.Errorf("step limit exceeded after %d steps", maxSteps)
}

// observe dispatches one tool call and renders the observation string.
// RetryLater passes through as an error; every other handler error becomes
// an observation the model can react to.
func (e *ReactExecutor) observe(ctx context.Context, call llm.ToolCall) (string, error) {
	out, err := e.Tools.Call(ctx, call.Name, call.Arguments)
	if err != nil {
		var retry *models.RetryLater
		if errors.As(err, &retry) {
			return "", retry
		}
		return "Error: " + err.Error(), nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "Error: unserializable tool result: " + err.Error(), nil
	}
	return string(b), nil
}

// taskDescription renders the task for the opening user message.
func taskDescription(task *models.Task) string {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("Task %s (id %s)\nPayload: %s", task.Label, task.ID, payload)
}

// toolDefinitions exports the registry as LLM function schemas.
func toolDefinitions(reg *tool.Registry) []llm.ToolDefinition {
	tools := reg.List()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}
