package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays a fixed sequence of responses and records every
// request it sees. It stands in for Grok in agent and executor tests where
// the conversation shape is known ahead of time.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
	next      int
}

// NewScriptedClient creates a client that replays the given responses in
// order. A nil entry in a response slot paired with Fail makes that step
// return an error instead.
func NewScriptedClient(responses ...*Response) *ScriptedClient {
	c := &ScriptedClient{}
	for _, r := range responses {
		c.responses = append(c.responses, r)
		c.errs = append(c.errs, nil)
	}
	return c
}

// Fail appends a step that returns err instead of a response.
func (c *ScriptedClient) Fail(err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, nil)
	c.errs = append(c.errs, err)
	return c
}

// Chat pops the next scripted step.
func (c *ScriptedClient) Chat(_ context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if c.next >= len(c.responses) {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", c.next)
	}
	resp, err := c.responses[c.next], c.errs[c.next]
	c.next++
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Calls returns the requests seen so far.
func (c *ScriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// Text is a convenience constructor for a plain assistant reply.
func Text(content string) *Response {
	return &Response{Content: content}
}

// Call is a convenience constructor for a single-tool-call reply.
func Call(id, name, arguments string) *Response {
	return &Response{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: []byte(arguments)}}}
}
