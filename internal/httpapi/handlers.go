package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/taskregistry"
)

// Health is the unauthenticated liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AgentCard serves the configured agent card verbatim.
func (s *Server) AgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config.AgentCard)
}

// LLMsTxtHandler serves the machine-readable quickstart rendered at startup.
func (s *Server) LLMsTxtHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.LLMsTxt))
}

type taskRequestBody struct {
	TaskID     string `json:"taskId,omitempty"`
	Type       string `json:"type"`
	Prompt     string `json:"prompt"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

type taskResponseBody struct {
	TaskID            string  `json:"taskId"`
	Status            string  `json:"status"`
	Output            string  `json:"output,omitempty"`
	Error             string  `json:"error,omitempty"`
	CreatedAt         string  `json:"createdAt"`
	StartedAt         *string `json:"startedAt,omitempty"`
	FinishedAt        *string `json:"finishedAt,omitempty"`
	DurationSec       float64 `json:"durationSec,omitempty"`
	ContinuationToken string  `json:"continuationToken,omitempty"`
}

func toResponseBody(rec taskregistry.Record) taskResponseBody {
	out := taskResponseBody{
		TaskID:      rec.TaskID,
		Status:      string(rec.Status),
		Output:      rec.Output,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt.Format(http.TimeFormat),
		DurationSec: rec.DurationSec,
	}
	if rec.StartedAt != nil {
		v := rec.StartedAt.Format(http.TimeFormat)
		out.StartedAt = &v
	}
	if rec.FinishedAt != nil {
		v := rec.FinishedAt.Format(http.TimeFormat)
		out.FinishedAt = &v
	}
	return out
}

// SubmitTask handles POST /task?wait={true|false} (spec.md §4.9).
func (s *Server) SubmitTask(w http.ResponseWriter, r *http.Request) {
	id, ok := GetIdentity(r.Context())
	if !ok {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeAuthRequired, "authentication required"))
		return
	}

	var body taskRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, bridgeerr.New(bridgeerr.CodeValidation, "request body too large").ToBody())
			return
		}
		writeError(w, r, bridgeerr.New(bridgeerr.CodeValidation, "malformed JSON body"))
		return
	}
	if body.Prompt == "" {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeValidation, "prompt is required"))
		return
	}

	mode := dispatch.Async
	if r.URL.Query().Get("wait") == "true" {
		mode = dispatch.Sync
	}

	req := taskregistry.Request{
		TaskID:     body.TaskID,
		Type:       taskregistry.Type(body.Type),
		Prompt:     body.Prompt,
		TimeoutSec: body.TimeoutSec,
	}

	result, err := s.Dispatcher.Submit(r.Context(), s.identityFor(id), req, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if mode == dispatch.Sync {
		status = http.StatusOK
	}
	writeJSON(w, status, toResponseBody(result.Record))
}

// continuationTokenGrace pads an issued continuation token's lifetime
// past one follow window, so a client that immediately re-polls with the
// token it just received isn't racing the token's own expiry.
const continuationTokenGrace = 10 * time.Second

// GetTask handles GET /task/{taskId}; owner or admin only. This does not
// consume quota (spec.md §4.4: "task poll of an already-owned task").
// ?follow=true turns a poll of a non-terminal task into a bounded
// long-poll that returns as soon as the task reaches a terminal state or
// the follow window elapses, whichever comes first.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := GetIdentity(r.Context())
	if !ok {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeAuthRequired, "authentication required"))
		return
	}

	taskID := chi.URLParam(r, "taskId")
	rec, found := s.Registry.Get(taskID)
	if !found {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeNotFound, "task not found"))
		return
	}
	if !id.MatchesOwner(rec.OwnerIdentity) && !id.IsAdmin() {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeAuthInvalid, "not the task owner"))
		return
	}

	if r.URL.Query().Get("follow") == "true" && !rec.Status.IsTerminal() {
		rec = s.followTask(r.Context(), taskID, rec)
	}

	resp := toResponseBody(rec)
	if !rec.Status.IsTerminal() && s.Continuation != nil {
		if tok, err := s.Continuation.Issue(taskID, rec.OwnerIdentity, s.Config.FollowTimeout+continuationTokenGrace); err == nil {
			resp.ContinuationToken = tok
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// followTask attaches a one-shot subscriber and waits for the task's
// terminal transition, bounded by Config.FollowTimeout. Letting the
// window elapse is not an error: the caller just polls again, optionally
// presenting the continuation token GetTask returns alongside a
// still-running record.
func (s *Server) followTask(ctx context.Context, taskID string, current taskregistry.Record) taskregistry.Record {
	waiter := make(chan taskregistry.Record, 1)
	if !s.Registry.Attach(taskID, waiter) {
		return current
	}

	timeout := s.Config.FollowTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case final := <-waiter:
		return final
	case <-waitCtx.Done():
		latest, _ := s.Registry.Get(taskID)
		return latest
	}
}

// CancelTask handles DELETE /task/{taskId}; owner or admin only.
func (s *Server) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := GetIdentity(r.Context())
	if !ok {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeAuthRequired, "authentication required"))
		return
	}

	taskID := chi.URLParam(r, "taskId")
	if err := s.Dispatcher.Cancel(taskID, id.Key(), id.IsAdmin()); err != nil {
		writeError(w, r, err)
		return
	}
	rec, _ := s.Registry.Get(taskID)
	writeJSON(w, http.StatusOK, toResponseBody(rec))
}

// GetTrust handles GET /trust/{did}: local trust profile plus an optional
// network trust lookup against the discovery node.
func (s *Server) GetTrust(w http.ResponseWriter, r *http.Request) {
	did := chi.URLParam(r, "did")
	profile, tier := s.Trust.Get("did:" + did)

	resp := map[string]any{
		"did":         did,
		"tier":        string(tier),
		"completions": profile.Completions,
		"failures":    profile.Failures,
	}

	if s.Discovery != nil {
		ctx, cancel := context.WithTimeout(r.Context(), discoveryTimeout)
		defer cancel()
		if network, err := s.Discovery.GetTrust(ctx, did); err == nil {
			resp["network"] = network
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchAgents handles GET /agents, proxying to the discovery node
// (spec.md §4.9: "discovery proxy").
func (s *Server) SearchAgents(w http.ResponseWriter, r *http.Request) {
	if s.Discovery == nil {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeUpstreamError, "discovery node not configured"))
		return
	}
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	minTrust, _ := strconv.ParseFloat(r.URL.Query().Get("min_trust"), 64)

	ctx, cancel := context.WithTimeout(r.Context(), discoveryTimeout)
	defer cancel()

	agents, err := s.Discovery.SearchAgents(ctx, q, minTrust, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// GetAgent handles GET /agents/{did}, proxying to the discovery node.
func (s *Server) GetAgent(w http.ResponseWriter, r *http.Request) {
	if s.Discovery == nil {
		writeError(w, r, bridgeerr.New(bridgeerr.CodeUpstreamError, "discovery node not configured"))
		return
	}
	did := chi.URLParam(r, "did")
	ctx, cancel := context.WithTimeout(r.Context(), discoveryTimeout)
	defer cancel()

	agent, err := s.Discovery.GetAgent(ctx, did)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
