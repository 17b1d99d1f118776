package server

import (
	"net/http"

	"github.com/oidcdemo/provider/provider"
)

// discoveryDocument is the OIDC discovery metadata (OIDC Discovery 1.0
// section 3). Only the fields this provider implements are advertised.
type discoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserInfoEndpoint                 string   `json:"userinfo_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
}

// cachePublic marks a response cacheable for an hour. Discovery and JWKS
// content only changes on key rotation or redeploy.
func cachePublic(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := discoveryDocument{
		Issuer:                           s.issuer,
		AuthorizationEndpoint:            s.issuer + "/api/auth/authorize",
		TokenEndpoint:                    s.issuer + "/api/auth/token",
		UserInfoEndpoint:                 s.issuer + "/api/auth/userinfo",
		JWKSURI:                          s.issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  provider.SupportedScopes(),
		TokenEndpointAuthMethods:         []string{"client_secret_post", "none"},
		ClaimsSupported: []string{
			"sub", "name", "given_name", "family_name", "picture",
			"given_name#ja-Kana-JP", "given_name#ja-Hani-JP",
			"family_name#ja-Kana-JP", "family_name#ja-Hani-JP",
			"email", "email_verified", "phone_number", "phone_number_verified",
		},
		CodeChallengeMethodsSupported: []string{provider.PKCEMethodS256},
		GrantTypesSupported:           []string{"authorization_code"},
	}
	cachePublic(w)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	cachePublic(w)
	writeJSON(w, http.StatusOK, s.keys.JWKSet())
}
