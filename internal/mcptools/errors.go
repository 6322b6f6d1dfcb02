// Package mcptools implements ToolRouter (spec.md §4.12): the six
// marketplace tools exposed over MCP, each wired to a collaborator
// (NodeProxy, TaskDispatcher, TaskRegistry) rather than holding logic of
// its own.
package mcptools

import "fmt"

// CallError is returned by a Handler when the call failed. Unlike a
// protocol-level JSON-RPC error, it always renders as a successful
// tools/call response with isError:true per spec.md §4.12 ("errors
// return {isError:true, ...} rather than raising").
type CallError struct {
	Message string
}

func (e *CallError) Error() string { return e.Message }

func callErrorf(format string, args ...any) *CallError {
	return &CallError{Message: fmt.Sprintf(format, args...)}
}
