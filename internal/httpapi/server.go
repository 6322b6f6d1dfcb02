// Package httpapi implements HttpFront (spec.md L9): the seven-endpoint
// REST surface in front of TaskDispatcher, TaskRegistry, TrustStore and
// NodeProxy.
//
// Generalized from the teacher's sync-CRUD route tree
// (internal/httpapi/router.go) into this domain's endpoint set; the
// writeJSON/writeError helpers and the chi middleware stack are kept
// directly from the teacher.
package httpapi

import (
	"time"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/config"
	"github.com/agoramesh/bridge/internal/dispatch"
	"github.com/agoramesh/bridge/internal/discovery"
	"github.com/agoramesh/bridge/internal/taskregistry"
	"github.com/agoramesh/bridge/internal/trust"
)

// Server holds the dependencies HTTP handlers need.
type Server struct {
	Config     config.Config
	Authn      *auth.Authenticator
	Dispatcher *dispatch.Dispatcher
	Registry   *taskregistry.Registry
	Trust      *trust.Store
	Discovery  *discovery.Proxy

	// Continuation is optional; when set, GetTask issues and accepts
	// follow=true long-poll continuation tokens (internal/auth/bearer.go).
	Continuation *auth.ContinuationIssuer

	LLMsTxt string // rendered once at startup
}

func (s *Server) identityFor(id auth.CallerIdentity) dispatch.Identity {
	_, tier := s.Trust.Get(id.Key())
	return dispatch.Identity{Key: id.Key(), Paid: id.IsPaid(), Tier: string(tier)}
}

const discoveryTimeout = 5 * time.Second
