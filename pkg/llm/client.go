// Package llm provides the chat-completion client agents reason with. The
// production implementation talks to Grok through its OpenAI-compatible API;
// tests use the scripted client in script.go.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a model request to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is one chat-completion call.
type Request struct {
	Messages []Message
	Tools    []ToolDefinition
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the model's reply: free text, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client is the chat-completion contract agents depend on.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
