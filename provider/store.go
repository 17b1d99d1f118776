package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

// TTLs for the three ephemeral record kinds. The store's TTL mechanism is
// the sole expiry authority for these records.
const (
	SessionTTL      = 1 * time.Hour
	AuthCodeTTL     = 10 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Session is a logged-in user's session record, keyed by an opaque session
// id held exclusively by the Store.
type Session struct {
	MemberID  int64     `json:"member_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// AuthCode is a one-time authorization code record, created when an
// authenticated, consenting user completes an authorization request and
// consumed exactly once by the token exchange.
type AuthCode struct {
	MemberID            int64  `json:"member_id"`
	ClientID            string `json:"client_id"`
	Scope               string `json:"scope"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	State               string `json:"state,omitempty"`
}

// RefreshToken is a refresh token record, created for confidential clients
// at token-issuance time.
type RefreshToken struct {
	MemberID  int64     `json:"member_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages short-lived keyed records with TTL semantics: user
// sessions, one-time authorization codes and refresh tokens, each
// independently keyed and independently TTL'd.
//
// Get* methods return (nil, false, nil) both for never-existing and for
// expired keys; the error return is reserved for store failures, which the
// boundary surfaces as server_error. Delete* methods are idempotent.
//
// ConsumeAuthCode must be atomic: of two concurrent consume attempts for
// the same code, exactly one observes the record and the other observes
// absent.
type Store interface {
	PutSession(ctx context.Context, id string, s *Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*Session, bool, error)
	DeleteSession(ctx context.Context, id string) error

	// ActiveSessionForMember reports whether any live session exists for
	// the member. The userinfo endpoint uses it so server-side session
	// revocation takes priority over a still-cryptographically-valid
	// access token.
	ActiveSessionForMember(ctx context.Context, memberID int64) (bool, error)

	PutAuthCode(ctx context.Context, code string, c *AuthCode, ttl time.Duration) error
	GetAuthCode(ctx context.Context, code string) (*AuthCode, bool, error)
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, bool, error)
	DeleteAuthCode(ctx context.Context, code string) error

	PutRefreshToken(ctx context.Context, token string, r *RefreshToken, ttl time.Duration) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, bool, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}

// storageTokenBytes is the entropy behind generated session ids, auth codes
// and refresh tokens.
const storageTokenBytes = 32

// NewStorageToken generates an opaque key suitable for a session id, an
// authorization code or a refresh token: 32 cryptographically random bytes,
// hex-encoded, so collisions are negligible and values are not guessable.
func NewStorageToken() (string, error) {
	const op = "provider.NewStorageToken"
	b, err := uuid.GenerateRandomBytes(storageTokenBytes)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate token: %w", op, err)
	}
	return hex.EncodeToString(b), nil
}
