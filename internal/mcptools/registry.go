package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type entry struct {
	desc    Descriptor
	schema  *jsonschema.Schema
	handler Handler
}

// Router holds the six registered tools and dispatches tools/call by
// name, validating arguments against each tool's JSON Schema before the
// handler ever sees them.
type Router struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	ordering []string
}

// NewRouter builds an empty Router.
func NewRouter() *Router {
	return &Router{tools: make(map[string]*entry)}
}

// Register compiles desc.InputSchema and adds the tool. It panics on a
// malformed schema, since schemas are static and checked once at
// startup wiring, not at request time.
func (r *Router) Register(desc Descriptor, handler Handler) {
	raw, err := json.Marshal(desc.InputSchema)
	if err != nil {
		panic(fmt.Sprintf("mcptools: marshalling schema for %s: %v", desc.Name, err))
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "mem://agoramesh/tools/" + desc.Name + ".json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("mcptools: loading schema for %s: %v", desc.Name, err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("mcptools: compiling schema for %s: %v", desc.Name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		panic(fmt.Sprintf("mcptools: tool %s already registered", desc.Name))
	}
	r.tools[desc.Name] = &entry{desc: desc, schema: schema, handler: handler}
	r.ordering = append(r.ordering, desc.Name)
}

// List returns every registered tool's descriptor in registration order.
func (r *Router) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.ordering))
	for _, name := range r.ordering {
		out = append(out, r.tools[name].desc)
	}
	return out
}

// Call validates args against the named tool's schema and invokes its
// handler. It never returns a Go error for a tool-level failure; that is
// folded into the returned content with isError set, per spec.md §4.12.
func (r *Router) Call(ctx context.Context, caller CallerContext, name string, args json.RawMessage) (content []ContentBlock, isError bool) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorContent(fmt.Sprintf("unknown tool %q", name)), true
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return errorContent("arguments are not valid JSON: " + err.Error()), true
	}
	if err := e.schema.Validate(decoded); err != nil {
		return errorContent("invalid arguments: " + err.Error()), true
	}

	result, err := e.handler(ctx, caller, args)
	if err != nil {
		return errorContent(err.Error()), true
	}
	return []ContentBlock{{Type: "text", Text: result.Text}}, false
}

func errorContent(msg string) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: "Error: " + msg}}
}
