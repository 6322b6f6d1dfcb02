package mcptools

import (
	"context"
	"encoding/json"

	"github.com/agoramesh/bridge/internal/dispatch"
)

// ContentBlock is a single block of a tools/call result, per the MCP
// content[] shape.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is what a Handler returns to the router; Router.Call wraps
// its Text in a single text block of the wire content[] shape.
type CallResult struct {
	Text string
}

// Descriptor is the tools/list entry for one tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallerContext carries the identity of whoever invoked the tool, needed
// by hire_agent to dispatch a task under the caller's own quota/trust
// tier rather than a shared service identity.
type CallerContext struct {
	Identity dispatch.Identity
}

// Handler executes one tool call given raw JSON arguments.
type Handler func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error)
