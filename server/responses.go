package server

import (
	"encoding/json"
	"net/http"

	"github.com/oidcdemo/provider/provider"
)

// oauthErrorBody is the JSON shape of a direct OAuth error response.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	State            string `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// noStore marks a response uncacheable. Token and userinfo responses carry
// credentials and must never land in a shared cache.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func statusForOAuthError(code string) int {
	switch code {
	case provider.ErrorInvalidClient, provider.ErrorInvalidToken:
		return http.StatusUnauthorized
	case provider.ErrorServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeOAuthError(w http.ResponseWriter, oe *provider.OAuthError) {
	noStore(w)
	writeJSON(w, statusForOAuthError(oe.Code), oauthErrorBody{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
		State:            oe.State,
	})
}

// writeServerError reports an unexpected internal failure. The detail stays
// in the log; the wire carries only the generic code.
func (s *Server) writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("internal error", "method", r.Method, "path", r.URL.Path, "error", err)
	writeOAuthError(w, provider.NewOAuthError(provider.ErrorServerError, ""))
}
