package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/config"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/quota"
	"github.com/agoramesh/bridge/internal/replay"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
	"github.com/agoramesh/bridge/internal/worker"
)

type fixedLimits struct{ limit int }

func (f fixedLimits) ForName(string) int { return f.limit }

func newTestServer(t *testing.T, requireAuth bool) *Server {
	t.Helper()
	ws, err := os.MkdirTemp("", "httpapi-test-*")
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(ws) })

	reg := taskregistry.New(0)
	q := quota.New(fixedLimits{limit: 100})
	ts := trust.New(0)
	pool := worker.New(2, 10, []string{"/bin/echo"}, ws, []string{"PATH=/usr/bin:/bin"})
	d := dispatch.New(reg, q, ts, pool, func(taskregistry.Type, string) (worker.Spec, error) {
		return worker.Spec{Command: "/bin/echo", Args: []string{"ok"}}, nil
	})

	authn := auth.New(requireAuth, "test-admin-token", replay.New(), auth.NoopMicropaymentVerifier{})

	return &Server{
		Config: config.Config{
			MaxBodyBytes: 1 << 20,
			CORSOrigin:   "https://example.com",
			AgentCard:    config.AgentCard{ID: "agoramesh-test", Name: "Test Agent"},
		},
		Authn:      authn,
		Dispatcher: d,
		Registry:   reg,
		Trust:      ts,
		LLMsTxt:    "quickstart",
	}
}

func TestRoutes_Health(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRoutes_AgentCard(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest("GET", "/.well-known/agent.json", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var card config.AgentCard
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("failed to decode agent card: %v", err)
	}
	if card.ID != "agoramesh-test" {
		t.Fatalf("unexpected agent card: %+v", card)
	}
}

func TestRoutes_SubmitTaskRequiresAuthWhenConfigured(t *testing.T) {
	s := newTestServer(t, true)
	body, _ := json.Marshal(taskRequestBody{Prompt: "hello"})
	req := httptest.NewRequest("POST", "/task", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without credentials, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRoutes_SubmitTaskAsyncReturns202(t *testing.T) {
	s := newTestServer(t, false)
	body, _ := json.Marshal(taskRequestBody{Prompt: "hello"})
	req := httptest.NewRequest("POST", "/task", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "FreeTier test-caller")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 202 {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp taskResponseBody
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TaskID == "" {
		t.Fatal("expected a generated taskId in the response")
	}
}

func TestRoutes_SubmitTaskSyncReturns200WithResult(t *testing.T) {
	s := newTestServer(t, false)
	body, _ := json.Marshal(taskRequestBody{Prompt: "hello", TimeoutSec: 5})
	req := httptest.NewRequest("POST", "/task?wait=true", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "FreeTier test-caller")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp taskResponseBody
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "completed" {
		t.Fatalf("expected completed, got %q", resp.Status)
	}
}

func TestRoutes_GetTaskRejectsNonOwner(t *testing.T) {
	s := newTestServer(t, false)
	submitBody, _ := json.Marshal(taskRequestBody{Prompt: "hello"})
	submitReq := httptest.NewRequest("POST", "/task", bytes.NewReader(submitBody))
	submitReq.Header.Set("Content-Type", "application/json")
	submitReq.Header.Set("Authorization", "FreeTier alice")
	submitRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(submitRec, submitReq)

	var submitted taskResponseBody
	json.Unmarshal(submitRec.Body.Bytes(), &submitted)

	getReq := httptest.NewRequest("GET", "/task/"+submitted.TaskID, nil)
	getReq.Header.Set("Authorization", "FreeTier mallory")
	getRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(getRec, getReq)
	if getRec.Code != 401 {
		t.Fatalf("expected 401 for non-owner poll, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestRoutes_GetTaskAllowsAdminBypass(t *testing.T) {
	s := newTestServer(t, false)
	submitBody, _ := json.Marshal(taskRequestBody{Prompt: "hello"})
	submitReq := httptest.NewRequest("POST", "/task", bytes.NewReader(submitBody))
	submitReq.Header.Set("Content-Type", "application/json")
	submitReq.Header.Set("Authorization", "FreeTier alice")
	submitRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(submitRec, submitReq)

	var submitted taskResponseBody
	json.Unmarshal(submitRec.Body.Bytes(), &submitted)

	getReq := httptest.NewRequest("GET", "/task/"+submitted.TaskID, nil)
	getReq.Header.Set("Authorization", "Bearer test-admin-token")
	getRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(getRec, getReq)
	if getRec.Code != 200 {
		t.Fatalf("expected 200 for admin poll of someone else's task, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

type fakeMicropaymentVerifier struct{ subject string }

func (f fakeMicropaymentVerifier) Verify(_ context.Context, _ string) (string, error) {
	return f.subject, nil
}

// TestRoutes_GetTaskRejectsPayingNonOwner proves a micropayment-verified
// identity cannot read someone else's task just because it is
// ClassPaid: only the static admin bearer identity bypasses ownership.
func TestRoutes_GetTaskRejectsPayingNonOwner(t *testing.T) {
	s := newTestServer(t, false)
	s.Authn.Micropayment = fakeMicropaymentVerifier{subject: "mallory-wallet"}

	submitBody, _ := json.Marshal(taskRequestBody{Prompt: "hello"})
	submitReq := httptest.NewRequest("POST", "/task", bytes.NewReader(submitBody))
	submitReq.Header.Set("Content-Type", "application/json")
	submitReq.Header.Set("Authorization", "FreeTier alice")
	submitRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(submitRec, submitReq)

	var submitted taskResponseBody
	json.Unmarshal(submitRec.Body.Bytes(), &submitted)

	getReq := httptest.NewRequest("GET", "/task/"+submitted.TaskID, nil)
	getReq.Header.Set("Authorization", "X-Payment opaque-token")
	getRec := httptest.NewRecorder()
	s.Routes().ServeHTTP(getRec, getReq)
	if getRec.Code != 401 {
		t.Fatalf("expected 401: a paying identity is not automatically an admin, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestRoutes_UnknownPathIs404WithJSONShape(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest("GET", "/nonexistent", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body, got: %s", rec.Body.String())
	}
	if body["code"] == nil {
		t.Fatalf("expected a code field in the 404 body, got %v", body)
	}
}
