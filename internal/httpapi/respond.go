package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/logger"
)

// Request bodies are small JSON documents, but a suggest or build request
// carries a full polyline6 geometry, so the limit is generous.
const maxBodyBytes = 8 << 20

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Detail errorDetail `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON fills dst from the request body. On failure it writes the
// bad_request envelope itself and reports false so handlers can just return.
func decodeJSON(w http.ResponseWriter, r *http.Request, log *zerolog.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(r, w, log, apperr.BadRequest("malformed JSON body"))
		return false
	}
	return true
}

// writeError maps the error taxonomy onto the HTTP envelope. Anything
// outside the taxonomy is masked as a plain 500 so internals never leak.
func writeError(r *http.Request, w http.ResponseWriter, log *zerolog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	code, known := apperr.CodeOf(err)
	msg := apperr.MessageOf(err)
	if !known {
		code = "internal"
		msg = "internal server error"
	}

	l := logger.FromContext(r.Context(), log)
	if status >= 500 {
		l.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Str("path", r.URL.Path).Int("status", status).Str("code", string(code)).Msg("request rejected")
	}

	writeJSON(w, status, errorBody{Detail: errorDetail{Code: string(code), Message: msg}})
}
