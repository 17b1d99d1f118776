package provider

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPasswordHash is a valid bcrypt hash compared against when the email
// is unknown, so unknown-email and wrong-password attempts take the same
// time and return the same error.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Authenticator validates login credentials against the member store.
type Authenticator struct {
	members MemberStore
}

// NewAuthenticator creates an Authenticator backed by the given member store.
func NewAuthenticator(members MemberStore) (*Authenticator, error) {
	const op = "provider.NewAuthenticator"
	if members == nil {
		return nil, fmt.Errorf("%s: member store is nil: %w", op, ErrNilParameter)
	}
	return &Authenticator{members: members}, nil
}

// Authenticate looks up the member by email and compares the password
// against the stored bcrypt hash. Unknown email and password mismatch are
// indistinguishable to the caller: both return ErrAuthenticationFailed.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*Member, error) {
	const op = "provider.(Authenticator).Authenticate"
	if email == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	m, err := a.members.LookupByEmail(ctx, email)
	if err != nil {
		// Burn a comparison anyway so the caller can't distinguish an
		// unknown email from a bad password by timing.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAuthenticationFailed)
	}
	return m, nil
}
