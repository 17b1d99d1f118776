// provider is the core of a demonstration OpenID Connect identity provider
// implementing the authorization code flow with PKCE.
//
// The package is organized around a small set of collaborators constructed at
// startup and wired together into a Flow:
//
//   - ValidateScope and Authenticator validate OAuth scope strings and login
//     credentials.
//   - KeyMaterial supplies the RSA signing key pair, a stable key id, and the
//     public JWK set.
//   - Codec signs and verifies access tokens and ID tokens as RS256 JWTs.
//   - Store manages the short-lived keyed records backing the flow: user
//     sessions, one-time authorization codes, and refresh tokens. A redis
//     backed implementation and an in-memory implementation are provided.
//   - Flow is the authorization state machine that orchestrates the
//     authorize -> consent -> code -> token transitions.
//
// The HTTP boundary lives in the server package; nothing in this package
// depends on net/http.
package provider
