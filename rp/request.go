package rp

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/oidcdemo/provider/sdk/id"
)

// DefaultRequestExpiry is how long a login attempt may take between the
// redirect to the provider and the callback.
const DefaultRequestExpiry = 10 * time.Minute

// Request represents one OIDC authentication flow for a user: the one-time
// state, nonce and PKCE verifier tying the redirect to the provider and the
// callback together. State and nonce are never equal, and the verifier never
// leaves the relying party until the code exchange.
type Request struct {
	state      string
	nonce      string
	verifier   string
	expiration time.Time
}

// NewRequest creates a Request expiring after expireIn.
func NewRequest(expireIn time.Duration) (*Request, error) {
	const op = "rp.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	state, err := id.New("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := id.New("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	return &Request{
		state:      state,
		nonce:      nonce,
		verifier:   oauth2.GenerateVerifier(),
		expiration: time.Now().Add(expireIn),
	}, nil
}

// State is the opaque value maintaining state between the authorization
// request and the callback.
func (r *Request) State() string { return r.state }

// Nonce associates the client session with the issued ID token.
func (r *Request) Nonce() string { return r.nonce }

// Verifier is the PKCE code verifier for the code exchange.
func (r *Request) Verifier() string { return r.verifier }

// IsExpired returns true if the request has expired.
func (r *Request) IsExpired() bool {
	return r.expiration.Before(time.Now())
}
