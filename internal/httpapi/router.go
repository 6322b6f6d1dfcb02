package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/bridgeerr"
)

var notFoundErr = bridgeerr.New(bridgeerr.CodeNotFound, "not found")

// Routes builds the chi router exposing HttpFront's seven endpoints plus
// the unauthenticated discovery/health surface (spec.md §4.9).
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyBytes(s.Config.MaxBodyBytes))
	r.Use(CORS(s.Config.CORSOrigin))

	r.Get("/health", s.Health)
	r.Get("/.well-known/agent.json", s.AgentCard)
	r.Get("/llms.txt", s.LLMsTxtHandler)
	r.Get("/trust/{did}", s.GetTrust)
	r.Get("/agents", s.SearchAgents)
	r.Get("/agents/{did}", s.GetAgent)

	r.Group(func(r chi.Router) {
		r.Use(RequireJSONContentType)
		r.Use(AuthMiddleware(s.Authn))

		r.Post("/task", s.SubmitTask)
		r.Get("/task/{taskId}", s.GetTask)
		r.Delete("/task/{taskId}", s.CancelTask)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, notFoundErr)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
