package mcptools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/agoramesh/bridge/internal/discovery"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/quota"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
	"github.com/agoramesh/bridge/internal/worker"
)

type fixedLimits struct{ limit int }

func (f fixedLimits) ForName(string) int { return f.limit }

func newTestRouter(t *testing.T, upstream http.Handler) (*Router, *taskregistry.Registry) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	ws, err := os.MkdirTemp("", "mcptools-test-*")
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(ws) })

	reg := taskregistry.New(0)
	q := quota.New(fixedLimits{limit: 100})
	ts := trust.New(0)
	pool := worker.New(2, 10, []string{"/bin/echo"}, ws, []string{"PATH=/usr/bin:/bin"})
	d := dispatch.New(reg, q, ts, pool, func(taskregistry.Type, string) (worker.Spec, error) {
		return worker.Spec{Command: "/bin/echo", Args: []string{"hired"}}, nil
	})
	proxy := discovery.New(srv.URL)

	return NewDefaultRouter(proxy, d, reg), reg
}

func TestTools_SearchAgentsRendersListing(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]discovery.Agent{{DID: "did:key:abc", Name: "Scribe", Trust: 0.9, Skills: []string{"writing"}}})
	}))

	content, isError := r.Call(context.Background(), CallerContext{}, "search_agents", json.RawMessage(`{"query":"writer"}`))
	if isError {
		t.Fatalf("unexpected error content: %+v", content)
	}
	if !strings.Contains(content[0].Text, "Scribe") {
		t.Fatalf("expected rendered agent name, got %q", content[0].Text)
	}
}

func TestTools_ListAgentsUsesWildcardQuery(t *testing.T) {
	var gotQuery string
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotQuery = req.URL.Query().Get("q")
		json.NewEncoder(w).Encode([]discovery.Agent{})
	}))

	r.Call(context.Background(), CallerContext{}, "list_agents", json.RawMessage(`{}`))
	if gotQuery != "*" {
		t.Fatalf("expected wildcard query, got %q", gotQuery)
	}
}

func TestTools_GetAgentMapsNotFound(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	content, isError := r.Call(context.Background(), CallerContext{}, "get_agent", json.RawMessage(`{"did":"did:key:abc"}`))
	if !isError {
		t.Fatal("expected a not-found upstream error to surface as isError")
	}
	if !strings.Contains(content[0].Text, "NotFound") {
		t.Fatalf("expected the upstream error code in the text, got %q", content[0].Text)
	}
}

func TestTools_CheckTrustRendersScore(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(discovery.TrustProfile{DID: "did:key:abc", Score: 0.75})
	}))

	content, isError := r.Call(context.Background(), CallerContext{}, "check_trust", json.RawMessage(`{"did":"did:key:abc"}`))
	if isError {
		t.Fatalf("unexpected error: %+v", content)
	}
	if !strings.Contains(content[0].Text, "0.75") {
		t.Fatalf("expected the trust score in the text, got %q", content[0].Text)
	}
}

func TestTools_HireAgentSubmitsAndWaitsForTerminal(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]discovery.Agent{})
	}))

	content, isError := r.Call(context.Background(), CallerContext{}, "hire_agent", json.RawMessage(`{"agent_did":"did:key:abc","prompt":"do the thing"}`))
	if isError {
		t.Fatalf("unexpected error content: %+v", content)
	}
	if !strings.Contains(content[0].Text, "completed") {
		t.Fatalf("expected a completed task record, got %q", content[0].Text)
	}
}

func TestTools_HireAgentRejectsInvalidDID(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	content, isError := r.Call(context.Background(), CallerContext{}, "hire_agent", json.RawMessage(`{"agent_did":"not-a-did","prompt":"x"}`))
	if !isError {
		t.Fatalf("expected invalid agent_did to be rejected, got %+v", content)
	}
}

func TestTools_CheckTaskIsIdempotent(t *testing.T) {
	r, reg := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	rec, _ := reg.Create("caller", taskregistry.Request{Prompt: "hi"})
	reg.Transition(rec.TaskID, taskregistry.StatusRunning, taskregistry.TransitionFields{})
	reg.Transition(rec.TaskID, taskregistry.StatusCompleted, taskregistry.TransitionFields{Output: "done"})

	first, _ := r.Call(context.Background(), CallerContext{}, "check_task", json.RawMessage(`{"task_id":"`+rec.TaskID+`"}`))
	second, _ := r.Call(context.Background(), CallerContext{}, "check_task", json.RawMessage(`{"task_id":"`+rec.TaskID+`"}`))
	if first[0].Text != second[0].Text {
		t.Fatalf("expected identical repeated output, got %q vs %q", first[0].Text, second[0].Text)
	}
}

func TestTools_CheckTaskUnknownIDIsError(t *testing.T) {
	r, _ := newTestRouter(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	content, isError := r.Call(context.Background(), CallerContext{}, "check_task", json.RawMessage(`{"task_id":"nonexistent"}`))
	if !isError {
		t.Fatalf("expected an error for an unknown task id, got %+v", content)
	}
}
