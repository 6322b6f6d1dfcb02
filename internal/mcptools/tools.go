package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/discovery"
	"github.com/agoramesh/bridge/internal/taskregistry"
)

// NewDefaultRouter builds the Router wired to the six tools named in
// spec.md §4.12, backed by the given collaborators.
func NewDefaultRouter(proxy *discovery.Proxy, dispatcher *dispatch.Dispatcher, registry *taskregistry.Registry) *Router {
	r := NewRouter()

	r.Register(Descriptor{
		Name:        "search_agents",
		Description: "Search the marketplace for agents matching a query, optionally filtered by minimum trust score.",
		InputSchema: schemaObject(map[string]any{
			"query":     schemaString(),
			"min_trust": schemaNumber(0, 1),
			"limit":     schemaInteger(1, 50),
		}, "query"),
	}, searchAgentsHandler(proxy))

	r.Register(Descriptor{
		Name:        "list_agents",
		Description: "List agents currently registered with the marketplace, newest first.",
		InputSchema: schemaObject(map[string]any{
			"limit": schemaInteger(1, 50),
		}),
	}, listAgentsHandler(proxy))

	r.Register(Descriptor{
		Name:        "get_agent",
		Description: "Fetch an agent's profile by its decentralized identifier.",
		InputSchema: schemaObject(map[string]any{
			"did": schemaString(),
		}, "did"),
	}, getAgentHandler(proxy))

	r.Register(Descriptor{
		Name:        "check_trust",
		Description: "Fetch the marketplace's network-wide trust score for a DID.",
		InputSchema: schemaObject(map[string]any{
			"did": schemaString(),
		}, "did"),
	}, checkTrustHandler(proxy))

	r.Register(Descriptor{
		Name:        "hire_agent",
		Description: "Submit a task to an agent and wait for its result.",
		InputSchema: schemaObject(map[string]any{
			"agent_did": schemaString(),
			"prompt":    schemaString(),
			"task_type": schemaString(),
			"timeout":   schemaInteger(1, 300),
		}, "agent_did", "prompt"),
	}, hireAgentHandler(dispatcher))

	r.Register(Descriptor{
		Name:        "check_task",
		Description: "Look up a previously submitted task by id.",
		InputSchema: schemaObject(map[string]any{
			"task_id": schemaString(),
		}, "task_id"),
	}, checkTaskHandler(registry))

	return r
}

func schemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
	}
	if len(props) > 0 {
		s["properties"] = props
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func schemaString() map[string]any { return map[string]any{"type": "string"} }

func schemaNumber(min, max float64) map[string]any {
	return map[string]any{"type": "number", "minimum": min, "maximum": max}
}

func schemaInteger(min, max int) map[string]any {
	return map[string]any{"type": "integer", "minimum": min, "maximum": max}
}

func upstreamErrorText(err error) string {
	if be := bridgeerr.As(err); be != nil {
		return fmt.Sprintf("%s: %s", be.Code, be.Message)
	}
	return err.Error()
}

func searchAgentsArgs(args json.RawMessage) (query string, minTrust float64, limit int, err error) {
	var v struct {
		Query    string  `json:"query"`
		MinTrust float64 `json:"min_trust"`
		Limit    int     `json:"limit"`
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return "", 0, 0, err
	}
	if v.Limit == 0 {
		v.Limit = 20
	}
	return v.Query, v.MinTrust, v.Limit, nil
}

func renderAgents(agents []discovery.Agent) string {
	if len(agents) == 0 {
		return "No agents found."
	}
	var b strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s (%s) trust=%.2f skills=%s\n", a.Name, a.DID, a.Trust, strings.Join(a.Skills, ","))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func searchAgentsHandler(proxy *discovery.Proxy) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		query, minTrust, limit, err := searchAgentsArgs(args)
		if err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		agents, err := proxy.SearchAgents(ctx, query, minTrust, limit)
		if err != nil {
			return CallResult{}, callErrorf("%s", upstreamErrorText(err))
		}
		return CallResult{Text: renderAgents(agents)}, nil
	}
}

func listAgentsHandler(proxy *discovery.Proxy) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		var v struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		if v.Limit == 0 {
			v.Limit = 20
		}
		agents, err := proxy.SearchAgents(ctx, "*", 0, v.Limit)
		if err != nil {
			return CallResult{}, callErrorf("%s", upstreamErrorText(err))
		}
		return CallResult{Text: renderAgents(agents)}, nil
	}
}

func getAgentHandler(proxy *discovery.Proxy) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		var v struct {
			DID string `json:"did"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		agent, err := proxy.GetAgent(ctx, v.DID)
		if err != nil {
			return CallResult{}, callErrorf("%s", upstreamErrorText(err))
		}
		text := fmt.Sprintf("%s (%s)\n%s\nskills: %s\ntrust: %.2f",
			agent.Name, agent.DID, agent.Description, strings.Join(agent.Skills, ", "), agent.Trust)
		return CallResult{Text: text}, nil
	}
}

func checkTrustHandler(proxy *discovery.Proxy) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		var v struct {
			DID string `json:"did"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		profile, err := proxy.GetTrust(ctx, v.DID)
		if err != nil {
			return CallResult{}, callErrorf("%s", upstreamErrorText(err))
		}
		return CallResult{Text: fmt.Sprintf("%s trust score: %.2f", profile.DID, profile.Score)}, nil
	}
}

func hireAgentHandler(dispatcher *dispatch.Dispatcher) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		var v struct {
			AgentDID string `json:"agent_did"`
			Prompt   string `json:"prompt"`
			TaskType string `json:"task_type"`
			Timeout  int    `json:"timeout"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		if err := discovery.ValidateDID(v.AgentDID); err != nil {
			return CallResult{}, callErrorf("invalid agent_did: %v", err)
		}

		taskType := taskregistry.Type(v.TaskType)
		if taskType == "" {
			taskType = taskregistry.TypePrompt
		}

		result, err := dispatcher.Submit(ctx, caller.Identity, taskregistry.Request{
			Type:       taskType,
			Prompt:     v.Prompt,
			TimeoutSec: v.Timeout,
		}, dispatch.Sync)
		if err != nil {
			return CallResult{}, callErrorf("%s", upstreamErrorText(err))
		}
		return CallResult{Text: renderTaskRecord(result.Record)}, nil
	}
}

func checkTaskHandler(registry *taskregistry.Registry) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		var v struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(args, &v); err != nil {
			return CallResult{}, callErrorf("decoding arguments: %v", err)
		}
		rec, ok := registry.Get(v.TaskID)
		if !ok {
			return CallResult{}, callErrorf("task %s not found", v.TaskID)
		}
		return CallResult{Text: renderTaskRecord(rec)}, nil
	}
}

// renderTaskRecord is deterministic for a given terminal record, per
// spec.md §4.12's check_task idempotency requirement.
func renderTaskRecord(rec taskregistry.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s: %s\n", rec.TaskID, rec.Status)
	if rec.Output != "" {
		fmt.Fprintf(&b, "output:\n%s\n", rec.Output)
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", rec.Error)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
