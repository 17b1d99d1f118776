package rp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/oidcdemo/provider/internal/strutils"
	sdkhttp "github.com/oidcdemo/provider/sdk/http"
)

// Token is the result of a successful code exchange: the oauth2 token pair
// plus the verified ID token and its claims.
type Token struct {
	// Token carries the access token (and refresh token for confidential
	// clients).
	Token *oauth2.Token

	// IDToken is the raw signed ID token.
	IDToken string

	// IDTokenClaims are the verified ID token's claims.
	IDTokenClaims map[string]interface{}
}

// Provider is a relying party's handle on one OIDC identity provider. It
// discovers endpoints and signing keys from the issuer's well-known
// configuration at construction time and may be shared across concurrent
// flows.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
}

// NewProvider creates a Provider from the relying party config, performing
// discovery against the issuer.
func NewProvider(ctx context.Context, config *Config) (*Provider, error) {
	const op = "rp.NewProvider"
	if config == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client, err := sdkhttp.NewClient(config.ProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	ctx = sdkhttp.OidcClientContext(ctx, client)

	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}

	return &Provider{
		config:   config,
		provider: provider,
		client:   client,
	}, nil
}

// oauthConfig builds the oauth2 config for this relying party, always
// including the openid scope.
func (p *Provider) oauthConfig() *oauth2.Config {
	scopes := make([]string, 0, len(p.config.Scopes)+1)
	if !strutils.StrListContains(p.config.Scopes, oidc.ScopeOpenID) {
		scopes = append(scopes, oidc.ScopeOpenID)
	}
	scopes = append(scopes, p.config.Scopes...)

	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		Endpoint:     p.provider.Endpoint(),
		RedirectURL:  p.config.RedirectURL,
		Scopes:       scopes,
	}
}

// AuthURL returns the provider's authorization URL for the request, carrying
// the state, nonce and S256 code challenge.
func (p *Provider) AuthURL(req *Request) (string, error) {
	const op = "rp.(Provider).AuthURL"
	if req == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if req.IsExpired() {
		return "", fmt.Errorf("%s: %w", op, ErrExpiredRequest)
	}
	return p.oauthConfig().AuthCodeURL(
		req.State(),
		oidc.Nonce(req.Nonce()),
		oauth2.S256ChallengeOption(req.Verifier()),
	), nil
}

// Exchange redeems the callback's authorization code for tokens and verifies
// the ID token, including its nonce, against the request.
func (p *Provider) Exchange(ctx context.Context, req *Request, callbackState, code string) (*Token, error) {
	const op = "rp.(Provider).Exchange"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if req.IsExpired() {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredRequest)
	}
	if callbackState != req.State() {
		return nil, fmt.Errorf("%s: %w", op, ErrResponseStateInvalid)
	}

	ctx = sdkhttp.OidcClientContext(ctx, p.client)
	oauthToken, err := p.oauthConfig().Exchange(ctx, code, oauth2.VerifierOption(req.Verifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange code: %w", op, err)
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}

	verifier := p.provider.Verifier(&oidc.Config{ClientID: p.config.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to verify id_token: %w", op, err)
	}
	if idToken.Nonce != req.Nonce() {
		return nil, fmt.Errorf("%s: id_token nonce does not match request nonce: %w", op, ErrInvalidParameter)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode id_token claims: %w", op, err)
	}

	return &Token{
		Token:         oauthToken,
		IDToken:       rawIDToken,
		IDTokenClaims: claims,
	}, nil
}

// UserInfo fetches the provider's userinfo claims for the token into out.
func (p *Provider) UserInfo(ctx context.Context, token *oauth2.Token, out interface{}) error {
	const op = "rp.(Provider).UserInfo"
	if token == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	ctx = sdkhttp.OidcClientContext(ctx, p.client)
	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("%s: unable to fetch userinfo: %w", op, err)
	}
	if err := info.Claims(out); err != nil {
		return fmt.Errorf("%s: unable to decode userinfo claims: %w", op, err)
	}
	return nil
}
