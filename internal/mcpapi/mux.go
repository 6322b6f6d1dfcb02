package mcpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/mcptools"
	"github.com/agoramesh/bridge/internal/trust"
)

const sessionHeader = "Mcp-Session-Id"

// corsMaxAge is the OPTIONS preflight cache window (spec.md §6: "OPTIONS
// preflight returns CORS headers and Access-Control-Max-Age: 86400").
const corsMaxAge = "86400"

// Server serves the McpSessionMux surface: POST/GET/DELETE /mcp plus the
// public /.well-known/mcp.json discovery document.
type Server struct {
	Sessions *SessionManager
	Tools    *mcptools.Router

	// Authn is the same Authenticator HttpFront and WsFront run requests
	// through, so a DID/FreeTier/Bearer/X-Payment credential means the
	// same thing no matter which front end it arrives on.
	Authn *auth.Authenticator
	Trust *trust.Store

	// CORSOrigin is echoed on every response and on the OPTIONS
	// preflight; empty disables CORS headers entirely.
	CORSOrigin string

	MaxBody   int64
	PublicURL string
}

// New constructs a Server from its collaborators.
func New(sessions *SessionManager, tools *mcptools.Router, authn *auth.Authenticator, trustStore *trust.Store, corsOrigin string, maxBody int64, publicURL string) *Server {
	return &Server{
		Sessions:   sessions,
		Tools:      tools,
		Authn:      authn,
		Trust:      trustStore,
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		PublicURL:  publicURL,
	}
}

func (s *Server) applyCORS(w http.ResponseWriter) {
	if s.CORSOrigin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", s.CORSOrigin)
}

func (s *Server) handlePreflight(w http.ResponseWriter) {
	s.applyCORS(w)
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+sessionHeader)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Max-Age", corsMaxAge)
	w.WriteHeader(http.StatusNoContent)
}

// identityFor runs the shared Authenticator against the request, the same
// way internal/httpapi/middleware.go's AuthMiddleware and
// internal/wsapi/server.go's ServeHTTP do, so DID signatures, FreeTier
// tags, the admin bearer token and micropayment tokens are all verified
// identically no matter which front end a caller reaches the gateway
// through.
func (s *Server) identityFor(r *http.Request) (auth.CallerIdentity, error) {
	return s.Authn.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Method, r.URL.Path)
}

// dispatchIdentity maps a verified CallerIdentity to the minimal view
// TaskDispatcher needs, resolving the caller's trust tier the same way
// internal/httpapi/server.go's identityFor does.
func (s *Server) dispatchIdentity(id auth.CallerIdentity) dispatch.Identity {
	var tier string
	if s.Trust != nil {
		_, t := s.Trust.Get(id.Key())
		tier = string(t)
	}
	return dispatch.Identity{Key: id.Key(), Paid: id.IsPaid(), Tier: tier}
}

// Handle dispatches the three verbs McpSessionMux supports on /mcp, plus
// the CORS preflight.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.handlePreflight(w)
		return
	}
	s.applyCORS(w)

	id, err := s.identityFor(r)
	if err != nil {
		writeRPCError(w, http.StatusUnauthorized, nil, rpcInvalidRequest, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, id)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, id auth.CallerIdentity) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBody+1))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, rpcInvalidRequest, "failed reading body")
		return
	}
	if int64(len(body)) > s.MaxBody {
		writeRPCError(w, http.StatusRequestEntityTooLarge, nil, rpcInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, rpcParseError, "malformed JSON-RPC request")
		return
	}

	sess, isNew, err := s.sessionFor(r, id)
	if err != nil {
		writeRPCError(w, http.StatusServiceUnavailable, req.ID, rpcInternalError, err.Error())
		return
	}
	if isNew {
		w.Header().Set(sessionHeader, sess.ID)
	}

	resp := s.dispatch(r, id, sess, req)
	writeJSONRPC(w, http.StatusOK, resp)
}

// sessionFor looks up the session named by the Mcp-Session-Id header, or
// creates one when the header is absent (spec.md §4.11).
func (s *Server) sessionFor(r *http.Request, id auth.CallerIdentity) (*Session, bool, error) {
	if sessID := r.Header.Get(sessionHeader); sessID != "" {
		if sess, ok := s.Sessions.Get(sessID); ok {
			return sess, false, nil
		}
	}
	sess, err := s.Sessions.Create(id.Key())
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *Server) dispatch(r *http.Request, id auth.CallerIdentity, sess *Session, req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "agoramesh-bridge", "version": "1"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.Tools.List()})
	case "tools/call":
		return s.callTool(r, id, req)
	default:
		return errorResponse(req.ID, rpcMethodNotFound, "unknown method "+req.Method)
	}
}

func (s *Server) callTool(r *http.Request, id auth.CallerIdentity, req JSONRPCRequest) JSONRPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, rpcInvalidParams, "malformed tools/call params")
	}

	caller := mcptools.CallerContext{Identity: s.dispatchIdentity(id)}
	content, isError := s.Tools.Call(r.Context(), caller, params.Name, params.Arguments)
	return resultResponse(req.ID, map[string]any{"content": content, "isError": isError})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		writeRPCError(w, http.StatusBadRequest, nil, rpcInvalidRequest, "missing "+sessionHeader)
		return
	}
	if _, ok := s.Sessions.Get(id); !ok {
		writeRPCError(w, http.StatusNotFound, nil, rpcInvalidRequest, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		writeRPCError(w, http.StatusBadRequest, nil, rpcInvalidRequest, "missing "+sessionHeader)
		return
	}
	s.Sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// Discovery serves the public /.well-known/mcp.json document.
func (s *Server) Discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"mcpUrl": s.PublicURL})
}

func writeJSONRPC(w http.ResponseWriter, status int, resp JSONRPCResponse) {
	writeJSON(w, status, resp)
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	writeJSON(w, status, errorResponse(id, code, message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("mcpapi: failed writing JSON response")
	}
}
