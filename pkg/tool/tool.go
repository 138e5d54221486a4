// Package tool defines the agent-facing tool abstraction: a named action
// with a JSON-Schema parameter contract and a handler. Schemas are compiled
// at registration so argument validation on the hot path is a single call.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes a tool invocation with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool describes one action an agent can take during a reasoning loop.
type Tool struct {
	// Name is the identifier the model calls the tool by.
	Name string

	// Description tells the model when to reach for this tool.
	Description string

	// Parameters is a JSON Schema (draft 2020-12) object describing the
	// arguments. Nil means the tool takes no arguments.
	Parameters map[string]any

	// Handler runs the tool. Arguments have passed schema validation.
	Handler Handler
}

// Registry holds a set of tools and validates invocations against their
// schemas.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its parameter schema. Registering a
// duplicate name or an invalid schema is a programming error and fails.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}

	var schema *jsonschema.Schema
	if t.Parameters != nil {
		// Round-trip through JSON so the compiler sees plain decoded values
		// (float64 numbers), not whatever Go literals the schema was built
		// from.
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return fmt.Errorf("encoding schema for tool %s: %w", t.Name, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decoding schema for tool %s: %w", t.Name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			return fmt.Errorf("adding schema resource for tool %s: %w", t.Name, err)
		}
		schema, err = c.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("compiling schema for tool %s: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	r.tools[t.Name] = t
	if schema != nil {
		r.compiled[t.Name] = schema
	}
	return nil
}

// MustRegister is Register for static tool sets assembled at startup.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the named tool, or nil when unknown.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names lists registered tool names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the registered tools in stable name order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Call validates rawArgs against the tool's schema and runs its handler.
// Unknown tools and schema violations return errors without invoking the
// handler; the caller decides whether that becomes an observation or a
// task failure.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (any, error) {
	r.mu.RLock()
	t := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()

	if t == nil {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("tool %s: arguments are not a JSON object: %w", name, err)
		}
	}
	if schema != nil {
		// Validate the decoded form; map[string]any from encoding/json is
		// what the validator expects.
		var instance any = args
		if err := schema.Validate(instance); err != nil {
			return nil, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
		}
	}
	return t.Handler(ctx, args)
}
