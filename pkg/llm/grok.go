package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the slice of the go-openai client Grok uses; tests
// substitute a stub.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// GrokOptions configures the Grok-backed client.
type GrokOptions struct {
	APIKey string
	// BaseURL points at the OpenAI-compatible endpoint,
	// e.g. https://api.x.ai/v1.
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Grok implements Client against Grok's OpenAI-compatible chat API.
type Grok struct {
	chat        ChatCompleter
	model       string
	temperature float32
	maxTokens   int
}

// NewGrok builds a Grok client from options.
func NewGrok(opts GrokOptions) (*Grok, error) {
	if opts.APIKey == "" {
		return nil, errors.New("grok api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("grok model is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Grok{
		chat:        openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Chat sends one completion request and maps the first choice back.
func (g *Grok) Chat(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("messages are required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		messages = append(messages, msg)
	}

	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	resp, err := g.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("grok chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("grok returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &Response{
		Content: choice.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out, nil
}

func encodeTools(defs []ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		fn := &openai.FunctionDefinition{
			Name:        def.Name,
			Description: def.Description,
		}
		if def.Parameters != nil {
			params, err := json.Marshal(def.Parameters)
			if err != nil {
				return nil, fmt.Errorf("encoding schema for tool %s: %w", def.Name, err)
			}
			fn.Parameters = json.RawMessage(params)
		}
		tools = append(tools, openai.Tool{Type: openai.ToolTypeFunction, Function: fn})
	}
	return tools, nil
}
