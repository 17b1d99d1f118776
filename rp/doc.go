// Package rp is a minimal relying-party client for the provider: it drives
// the 3-legged authorization code flow with PKCE against any spec-compliant
// OIDC identity provider, discovering endpoints and keys from the issuer's
// well-known configuration.
//
// A Config describes the registered client. Each login attempt gets its own
// Request carrying the one-time state, nonce and PKCE verifier; the Request
// is kept server-side (or in the user agent's session) between the redirect
// to the provider and the callback.
package rp
