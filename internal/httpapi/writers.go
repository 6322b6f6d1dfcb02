package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agoramesh/bridge/internal/bridgeerr"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError renders err as the {code, message, details?} shape spec.md
// §4.9 requires, using bridgeerr's HTTP status mapping. A non-bridgeerr
// error is treated as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	be := bridgeerr.As(err)
	if be == nil {
		be = bridgeerr.New(bridgeerr.CodeInternal, err.Error())
	}
	log.Ctx(r.Context()).Warn().Str("code", string(be.Code)).Str("path", r.URL.Path).Msg(be.Message)
	writeJSON(w, be.HTTPStatus(), be.ToBody())
}
