// Package wsapi implements WsFront (spec.md L10): a single WebSocket
// endpoint that submits and cancels tasks over JSON envelopes.
//
// Grounded on spec.md §9's "subscriber fan-out" design note
// (single-producer multi-consumer broadcast generalized here to a
// single-producer single-consumer channel per socket) and the
// teacher's absence of any WebSocket dependency it actually imports —
// gorilla/websocket is adopted instead, directly used elsewhere in the
// retrieval pack (Generativebots-ocx-backend-go-svc), since the
// teacher's own nhooyr.io/websocket dependency is indirect-only and
// never imported by any kept file.
package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/bridgeerr"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
)

// Envelope is the wire shape for every WebSocket message (spec.md §4.10).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type taskPayload struct {
	TaskID     string `json:"taskId,omitempty"`
	Type       string `json:"type,omitempty"`
	Prompt     string `json:"prompt"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
}

type cancelPayload struct {
	TaskID string `json:"taskId"`
}

// Server upgrades connections and serves them for their lifetime.
type Server struct {
	Authn      *auth.Authenticator
	Dispatcher *dispatch.Dispatcher
	Trust      *trust.Store
	AllowedOrigins []string

	upgrader websocket.Upgrader
}

// New constructs a Server wired to its collaborators.
func New(authn *auth.Authenticator, d *dispatch.Dispatcher, ts *trust.Store, allowedOrigins []string) *Server {
	s := &Server{Authn: authn, Dispatcher: d, Trust: ts, AllowedOrigins: allowedOrigins}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection after validating the handshake
// Authorization header, pinning the resulting CallerIdentity for the
// socket's lifetime (spec.md §4.10).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := s.Authn.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Method, r.URL.Path)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &connection{
		conn:     conn,
		identity: id,
		srv:      s,
		outbound: make(chan Envelope, 16),
	}
	go c.writePump()
	c.readPump()
}

type connection struct {
	conn     *websocket.Conn
	identity auth.CallerIdentity
	srv      *Server
	outbound chan Envelope
}

// writePump drains the per-connection outbound channel; it is the sole
// writer to the socket, matching spec.md §9's single-producer,
// single-consumer generalization of the teacher's fan-out.
func (c *connection) writePump() {
	for env := range c.outbound {
		if err := c.conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func (c *connection) send(typ string, payload any) {
	raw, _ := json.Marshal(payload)
	// readPump closes outbound when the client goes away; a late send
	// (e.g. a task's result) is dropped instead of panicking.
	defer func() { recover() }()
	select {
	case c.outbound <- Envelope{Type: typ, Payload: raw}:
	default:
		// Outbound backlog full; drop rather than block the read pump
		// forever on a slow or dead client.
	}
}

func (c *connection) readPump() {
	defer close(c.outbound)
	defer c.conn.Close()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case "task":
			c.handleTask(env.Payload)
		case "cancel":
			c.handleCancel(env.Payload)
		default:
			c.send("error", bridgeerr.New(bridgeerr.CodeValidation, "unknown envelope type").ToBody())
		}
	}
}

func (c *connection) handleTask(raw json.RawMessage) {
	var p taskPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Prompt == "" {
		c.send("error", bridgeerr.New(bridgeerr.CodeValidation, "malformed task payload").ToBody())
		return
	}

	_, tier := c.srv.Trust.Get(c.identity.Key())
	ident := dispatch.Identity{Key: c.identity.Key(), Paid: c.identity.IsPaid(), Tier: string(tier)}
	req := taskregistry.Request{TaskID: p.TaskID, Type: taskregistry.Type(p.Type), Prompt: p.Prompt, TimeoutSec: p.TimeoutSec}

	ctx, cancel := context.WithTimeout(context.Background(), 65*time.Second)
	defer cancel()

	result, err := c.srv.Dispatcher.Submit(ctx, ident, req, dispatch.Async)
	if err != nil {
		c.send("error", errBody(err))
		return
	}
	c.send("status", result.Record)
	c.srv.Dispatcher.Registry.Attach(result.Record.TaskID, c.terminalRelay())
}

// terminalRelay returns a channel whose single delivery (the terminal
// TaskRecord) is forwarded to the socket as a "result" envelope.
func (c *connection) terminalRelay() chan taskregistry.Record {
	ch := make(chan taskregistry.Record, 1)
	go func() {
		rec, ok := <-ch
		if ok {
			c.send("result", rec)
		}
	}()
	return ch
}

func (c *connection) handleCancel(raw json.RawMessage) {
	var p cancelPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TaskID == "" {
		c.send("error", bridgeerr.New(bridgeerr.CodeValidation, "malformed cancel payload").ToBody())
		return
	}
	if err := c.srv.Dispatcher.Cancel(p.TaskID, c.identity.Key(), c.identity.IsAdmin()); err != nil {
		// Unauthorized submissions are rejected with an error message
		// without closing the socket (spec.md §4.10).
		c.send("error", errBody(err))
		return
	}
	c.send("status", map[string]string{"taskId": p.TaskID, "status": "cancelled"})
}

func errBody(err error) any {
	if be := bridgeerr.As(err); be != nil {
		return be.ToBody()
	}
	return bridgeerr.New(bridgeerr.CodeInternal, err.Error()).ToBody()
}
