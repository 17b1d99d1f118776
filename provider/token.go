package provider

import (
	"fmt"
	"time"

	"github.com/oidcdemo/provider/internal/strutils"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// DefaultTokenTTL is the fixed lifetime of signed access and ID tokens.
const DefaultTokenTTL = 1 * time.Hour

// AccessTokenClaims are the claims carried by an access token.
type AccessTokenClaims struct {
	// Subject is the member id the token was issued for.
	Subject string

	// ClientID is the client the token was issued to.
	ClientID string

	// Scope is the space-delimited granted scope set.
	Scope string

	// Audience is the token's intended audience. Defaults to ClientID when
	// empty at signing time.
	Audience string
}

// IDTokenClaims are the claims carried by an ID token. ProfileClaims holds
// only the profile/contact claims the caller explicitly passes; the caller
// is responsible for scope-gating which claims to include.
type IDTokenClaims struct {
	Subject       string
	Audience      string
	Nonce         string
	ProfileClaims map[string]interface{}
}

// Codec signs and verifies access tokens and ID tokens as RS256 JWTs. It is
// stateless: pure functions over the key material and claims, so a single
// Codec may be shared across concurrent requests.
type Codec struct {
	keys       *KeyMaterial
	issuer     string
	tokenTTL   time.Duration
	expirySkew time.Duration
	nowFunc    func() time.Time
}

// codecOptions is the set of available options for Codec functions
type codecOptions struct {
	withNowFunc    func() time.Time
	withExpirySkew time.Duration
	withTokenTTL   time.Duration
}

func codecDefaults() codecOptions {
	return codecOptions{
		withTokenTTL: DefaultTokenTTL,
	}
}

func getCodecOpts(opt ...Option) codecOptions {
	opts := codecDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewCodec creates a Codec issuing and verifying tokens for the given
// issuer. Supported options: WithNow, WithExpirySkew, WithTokenTTL.
func NewCodec(keys *KeyMaterial, issuer string, opt ...Option) (*Codec, error) {
	const op = "provider.NewCodec"
	if keys == nil {
		return nil, fmt.Errorf("%s: key material is nil: %w", op, ErrNilParameter)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	opts := getCodecOpts(opt...)
	return &Codec{
		keys:       keys,
		issuer:     issuer,
		tokenTTL:   opts.withTokenTTL,
		expirySkew: opts.withExpirySkew,
		nowFunc:    opts.withNowFunc,
	}, nil
}

func (c *Codec) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// TokenTTL returns the lifetime applied to signed tokens, for reporting
// expires_in on token responses.
func (c *Codec) TokenTTL() time.Duration { return c.tokenTTL }

func (c *Codec) signer() (jose.Signer, error) {
	return jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: c.keys.SigningKey()},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader(jose.HeaderKey("kid"), c.keys.KeyID()),
	)
}

// SignAccessToken signs an access token with the standard iss/sub/aud/iat/exp
// claims plus client_id and scope.
func (c *Codec) SignAccessToken(claims AccessTokenClaims) (string, error) {
	const op = "provider.(Codec).SignAccessToken"
	if claims.Subject == "" || claims.ClientID == "" || claims.Scope == "" {
		return "", fmt.Errorf("%s: sub, client_id and scope are required: %w", op, ErrInvalidParameter)
	}
	aud := claims.Audience
	if aud == "" {
		aud = claims.ClientID
	}

	sig, err := c.signer()
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	now := c.now()
	std := jwt.Claims{
		Subject:  claims.Subject,
		Issuer:   c.issuer,
		Audience: jwt.Audience{aud},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.tokenTTL)),
	}
	private := map[string]interface{}{
		"client_id": claims.ClientID,
		"scope":     claims.Scope,
	}
	raw, err := jwt.Signed(sig).Claims(std).Claims(private).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign token: %w", op, err)
	}
	return raw, nil
}

// SignIDToken signs an ID token. Only the profile claims explicitly passed
// in claims.ProfileClaims are included.
func (c *Codec) SignIDToken(claims IDTokenClaims) (string, error) {
	const op = "provider.(Codec).SignIDToken"
	if claims.Subject == "" || claims.Audience == "" {
		return "", fmt.Errorf("%s: sub and aud are required: %w", op, ErrInvalidParameter)
	}

	sig, err := c.signer()
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	now := c.now()
	std := jwt.Claims{
		Subject:  claims.Subject,
		Issuer:   c.issuer,
		Audience: jwt.Audience{claims.Audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.tokenTTL)),
	}
	private := map[string]interface{}{}
	for k, v := range claims.ProfileClaims {
		private[k] = v
	}
	if claims.Nonce != "" {
		private["nonce"] = claims.Nonce
	}
	raw, err := jwt.Signed(sig).Claims(std).Claims(private).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign token: %w", op, err)
	}
	return raw, nil
}

// Verify checks the token's signature against the current verification key,
// then issuer equality, audience equality (skipped when expectedAudience is
// empty) and expiry, and returns all claims. Signature, issuer, audience and
// expiry failures are distinct errors (ErrInvalidSignature, ErrInvalidIssuer,
// ErrInvalidAudience, ErrExpiredToken) the caller may branch on; the network
// boundary reports them all as invalid_token.
func (c *Codec) Verify(raw string, expectedAudience string) (map[string]interface{}, error) {
	const op = "provider.(Codec).Verify"
	if raw == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w", op, ErrInvalidSignature)
	}

	var std jwt.Claims
	allClaims := map[string]interface{}{}
	if err := parsed.Claims(c.keys.VerificationKey(), &std, &allClaims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}
	if std.Issuer != c.issuer {
		return nil, fmt.Errorf("%s: expected issuer %q: %w", op, c.issuer, ErrInvalidIssuer)
	}
	if expectedAudience != "" && !strutils.StrListContains(std.Audience, expectedAudience) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAudience)
	}
	if std.Expiry == nil || !std.Expiry.Time().After(c.now().Add(-c.expirySkew)) {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredToken)
	}
	return allClaims, nil
}

// VerifiedAccessToken is the result of a successful VerifyAccessToken call.
type VerifiedAccessToken struct {
	Subject  string
	ClientID string
	Scope    string
	Claims   map[string]interface{}
}

// VerifyAccessToken runs Verify and additionally requires the sub, client_id
// and scope claims to be present.
func (c *Codec) VerifyAccessToken(raw string, expectedAudience string) (*VerifiedAccessToken, error) {
	const op = "provider.(Codec).VerifyAccessToken"
	claims, err := c.Verify(raw, expectedAudience)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	scope, _ := claims["scope"].(string)
	if sub == "" || clientID == "" || scope == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingClaims)
	}
	return &VerifiedAccessToken{
		Subject:  sub,
		ClientID: clientID,
		Scope:    scope,
		Claims:   claims,
	}, nil
}

// VerifyIDToken runs Verify and additionally requires nonce equality when an
// expected nonce was supplied at authorization time. A mismatch is a hard
// verification failure, not a warning.
func (c *Codec) VerifyIDToken(raw string, expectedAudience string, expectedNonce string) (map[string]interface{}, error) {
	const op = "provider.(Codec).VerifyIDToken"
	claims, err := c.Verify(raw, expectedAudience)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expectedNonce != "" {
		nonce, _ := claims["nonce"].(string)
		if nonce != expectedNonce {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
		}
	}
	return claims, nil
}
