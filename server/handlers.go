package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oidcdemo/provider/provider"
)

func authorizeRequestFromValues(v url.Values) *provider.AuthorizeRequest {
	return &provider.AuthorizeRequest{
		ResponseType:        v.Get("response_type"),
		ClientID:            v.Get("client_id"),
		RedirectURI:         v.Get("redirect_uri"),
		Scope:               v.Get("scope"),
		State:               v.Get("state"),
		Nonce:               v.Get("nonce"),
		CodeChallenge:       v.Get("code_challenge"),
		CodeChallengeMethod: v.Get("code_challenge_method"),
		Prompt:              v.Get("prompt"),
		MaxAge:              v.Get("max_age"),
	}
}

// handleAuthorize is the entry point of the authorization code flow. The
// flow's decision is translated onto the wire here: redirects go back to the
// user agent, login and consent decisions become redirects to the provider's
// own pages, and direct errors become JSON.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	req := authorizeRequestFromValues(r.URL.Query())

	decision, err := s.flow.Authorize(r.Context(), req, s.sessionID(r))
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	switch decision.Kind {
	case provider.DecisionRedirect:
		http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
	case provider.DecisionLogin:
		// The full original request is carried along so login can resume it.
		resume := s.issuer + r.URL.RequestURI()
		http.Redirect(w, r, s.login+"?redirect_url="+url.QueryEscape(resume), http.StatusFound)
	case provider.DecisionConsent:
		http.Redirect(w, r, s.consent+"?"+r.URL.RawQuery, http.StatusFound)
	case provider.DecisionError:
		writeOAuthError(w, decision.OAuthErr)
	default:
		s.writeServerError(w, r, fmt.Errorf("unknown decision kind %d", decision.Kind))
	}
}

type consentRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Consent             string `json:"consent"`
}

type consentResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirectUrl"`
}

// handleConsent finalizes the flow after the consent page posts the user's
// choice. The response carries the redirect target as JSON so the page's
// script can navigate; denial still produces a redirect URL, back to the
// client with error=access_denied.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var body consentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeOAuthError(w, provider.NewOAuthError(provider.ErrorInvalidRequest, "Invalid JSON body"))
		return
	}
	req := &provider.AuthorizeRequest{
		ResponseType:        body.ResponseType,
		ClientID:            body.ClientID,
		RedirectURI:         body.RedirectURI,
		Scope:               body.Scope,
		State:               body.State,
		Nonce:               body.Nonce,
		CodeChallenge:       body.CodeChallenge,
		CodeChallengeMethod: body.CodeChallengeMethod,
	}
	granted := body.Consent == "granted"

	decision, err := s.flow.Consent(r.Context(), req, s.sessionID(r), granted)
	if err != nil {
		s.writeServerError(w, r, err)
		return
	}

	switch decision.Kind {
	case provider.DecisionRedirect:
		noStore(w)
		writeJSON(w, http.StatusOK, consentResponse{Success: granted, RedirectURL: decision.RedirectURL})
	case provider.DecisionError:
		writeOAuthError(w, decision.OAuthErr)
	default:
		s.writeServerError(w, r, fmt.Errorf("unknown decision kind %d", decision.Kind))
	}
}

// handleToken redeems an authorization code for tokens. Per RFC 6749 the
// request is form-encoded and the response must not be cached.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, provider.NewOAuthError(provider.ErrorInvalidRequest, "Invalid form body"))
		return
	}
	req := &provider.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	}

	resp, err := s.flow.Exchange(r.Context(), req)
	if err != nil {
		if oe := provider.AsOAuthError(err); oe != nil {
			writeOAuthError(w, oe)
			return
		}
		s.writeServerError(w, r, err)
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, resp)
}

// handleUserInfo serves the member's claims for a bearer access token.
// Failures carry a WWW-Authenticate challenge per RFC 6750 section 3.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeOAuthError(w, provider.NewOAuthError(provider.ErrorInvalidToken, "Missing access token"))
		return
	}

	claims, err := s.flow.UserInfo(r.Context(), raw)
	if err != nil {
		if oe := provider.AsOAuthError(err); oe != nil {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf("Bearer error=%q, error_description=%q", oe.Code, oe.Description))
			writeOAuthError(w, oe)
			return
		}
		s.writeServerError(w, r, err)
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, claims)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return h[len(prefix):]
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURL string `json:"redirectUrl"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type messageError struct {
	Error string `json:"error"`
}

// handleLogin authenticates credentials and establishes the session cookie.
// The error message is the same for a wrong password and an unknown email.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, messageError{Error: "Invalid JSON body"})
		return
	}
	if body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, messageError{Error: "Email and password are required"})
		return
	}

	sessionID, _, err := s.flow.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, provider.ErrAuthenticationFailed) {
			writeJSON(w, http.StatusUnauthorized, messageError{Error: "Invalid email or password"})
			return
		}
		s.writeServerError(w, r, err)
		return
	}

	s.setSessionCookie(w, sessionID)
	writeJSON(w, http.StatusOK, loginResponse{Success: true, RedirectURL: body.RedirectURL})
}

// handleLogout drops the session server-side and expires the cookie. Logout
// always reports success: a missing or already-deleted session is not an
// error the user agent can act on.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID := s.sessionID(r); sessionID != "" {
		if err := s.flow.Logout(r.Context(), sessionID); err != nil {
			s.logger.Error("logout failed", "error", err)
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
