package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oidcdemo/provider/internal/strutils"
)

// AuthorizeRequest carries the query parameters of an authorization request
// (GET) or the echoed parameters of a consent submission (POST). All values
// are raw strings as received from the wire.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	MaxAge              string
}

// TokenRequest carries the form parameters of a token exchange.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
}

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// DecisionKind enumerates the possible outcomes of an authorization step.
type DecisionKind int

const (
	// DecisionRedirect sends the user agent to Decision.RedirectURL: the
	// client's redirect_uri carrying either a code or an OAuth error.
	DecisionRedirect DecisionKind = iota + 1

	// DecisionLogin sends the user agent to the login page, preserving the
	// original authorization request for replay after authentication.
	DecisionLogin

	// DecisionConsent proceeds to the consent step, carrying all original
	// parameters forward.
	DecisionConsent

	// DecisionError reports Decision.OAuthErr as a direct JSON error. Used
	// when the redirect target itself is missing or unverified, so the
	// authorize endpoint cannot be abused as an open redirector.
	DecisionError
)

// Decision is the outcome of evaluating an authorization or consent request.
type Decision struct {
	Kind        DecisionKind
	RedirectURL string
	OAuthErr    *OAuthError
}

// Flow is the authorization state machine orchestrating the end-to-end
// authorize -> consent -> code -> token flow. It holds explicit handles to
// its collaborators, constructed once at startup; there is no package-level
// state.
type Flow struct {
	clients ClientRegistry
	members MemberStore
	store   Store
	codec   *Codec
	auth    *Authenticator
	nowFunc func() time.Time
}

// flowOptions is the set of available options for Flow functions
type flowOptions struct {
	withNowFunc func() time.Time
}

func getFlowOpts(opt ...Option) flowOptions {
	opts := flowOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// NewFlow creates a Flow over the given collaborators. Supported options:
// WithNow.
func NewFlow(clients ClientRegistry, members MemberStore, store Store, codec *Codec, opt ...Option) (*Flow, error) {
	const op = "provider.NewFlow"
	switch {
	case clients == nil:
		return nil, fmt.Errorf("%s: client registry is nil: %w", op, ErrNilParameter)
	case members == nil:
		return nil, fmt.Errorf("%s: member store is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case codec == nil:
		return nil, fmt.Errorf("%s: codec is nil: %w", op, ErrNilParameter)
	}
	auth, err := NewAuthenticator(members)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getFlowOpts(opt...)
	return &Flow{
		clients: clients,
		members: members,
		store:   store,
		codec:   codec,
		auth:    auth,
		nowFunc: opts.withNowFunc,
	}, nil
}

func (f *Flow) now() time.Time {
	if f.nowFunc != nil {
		return f.nowFunc()
	}
	return time.Now()
}

// errorRedirect builds a redirect Decision carrying error, optional
// error_description and echoed state on the given redirect URI. When the
// URI is absent or unparsable the error is downgraded to a direct JSON
// Decision.
func errorRedirect(redirectURI, code, description, state string) *Decision {
	if redirectURI == "" {
		return &Decision{Kind: DecisionError, OAuthErr: &OAuthError{Code: code, Description: description, State: state}}
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return &Decision{Kind: DecisionError, OAuthErr: &OAuthError{Code: code, Description: description, State: state}}
	}
	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return &Decision{Kind: DecisionRedirect, RedirectURL: u.String()}
}

func directError(code, description string) *Decision {
	return &Decision{Kind: DecisionError, OAuthErr: NewOAuthError(code, description)}
}

// validateAuthorize runs the request validations shared by the authorize
// and consent steps. On failure it returns a non-nil Decision; on success
// the resolved client and validated scope set.
func (f *Flow) validateAuthorize(ctx context.Context, r *AuthorizeRequest) (*Client, []string, *Decision, error) {
	const op = "provider.(Flow).validateAuthorize"

	if r.ResponseType != "code" {
		return nil, nil, errorRedirect(r.RedirectURI, ErrorUnsupportedResponseType, "", r.State), nil
	}

	if r.ClientID == "" || r.RedirectURI == "" || r.Scope == "" {
		return nil, nil, directError("missing_required_parameters", ""), nil
	}

	client, err := f.clients.Lookup(ctx, r.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, errorRedirect(r.RedirectURI, ErrorInvalidClient, "", r.State), nil
		}
		return nil, nil, nil, fmt.Errorf("%s: client lookup failed: %w", op, err)
	}

	// The redirect target is only trusted after this exact-match check;
	// mismatches are reported directly, never via redirect.
	if !client.RedirectURIAllowed(r.RedirectURI) {
		return nil, nil, directError("invalid_redirect_uri", ""), nil
	}

	scopes := ValidateScope(r.Scope)
	if len(scopes) == 0 {
		return nil, nil, errorRedirect(r.RedirectURI, ErrorInvalidScope, "", r.State), nil
	}

	if client.Public && (r.CodeChallenge == "" || r.CodeChallengeMethod == "") {
		return nil, nil, errorRedirect(r.RedirectURI, ErrorInvalidRequest, "PKCE required for public clients", r.State), nil
	}
	if r.CodeChallengeMethod != "" && r.CodeChallengeMethod != PKCEMethodS256 {
		return nil, nil, errorRedirect(r.RedirectURI, ErrorInvalidRequest, "Only S256 code_challenge_method is supported", r.State), nil
	}

	return client, scopes, nil, nil
}

// Authorize evaluates an authorization request against the current session
// (resolved from the session cookie's id, which may be empty). It returns a
// Decision directing the caller to redirect to the client, redirect to
// login, proceed to consent, or answer with a direct error. Errors are
// internal failures only and surface as server_error at the boundary.
func (f *Flow) Authorize(ctx context.Context, r *AuthorizeRequest, sessionID string) (*Decision, error) {
	const op = "provider.(Flow).Authorize"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}

	_, scopes, decision, err := f.validateAuthorize(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if decision != nil {
		return decision, nil
	}

	session, err := f.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	needsLogin := session == nil
	if !needsLogin && r.MaxAge != "" {
		if maxAge, err := strconv.ParseInt(r.MaxAge, 10, 64); err == nil {
			age := f.now().Sub(session.CreatedAt)
			if age > time.Duration(maxAge)*time.Second {
				needsLogin = true
			}
		}
	}
	if r.Prompt == "login" {
		// Force re-authentication regardless of existing session validity.
		needsLogin = true
	}

	if needsLogin {
		if r.Prompt == "none" {
			// Must not silently show a login page.
			return errorRedirect(r.RedirectURI, ErrorLoginRequired, "", r.State), nil
		}
		return &Decision{Kind: DecisionLogin}, nil
	}

	if r.Prompt == "none" {
		// No UI may be shown, so the consent step is skipped and the code
		// issued directly against the valid session.
		return f.issueCode(ctx, r, scopes, session)
	}

	return &Decision{Kind: DecisionConsent}, nil
}

// Consent finalizes an authorization request after the user granted or
// denied consent. The echoed parameters are re-validated from scratch; the
// session must still be live.
func (f *Flow) Consent(ctx context.Context, r *AuthorizeRequest, sessionID string, granted bool) (*Decision, error) {
	const op = "provider.(Flow).Consent"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}

	_, scopes, decision, err := f.validateAuthorize(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if decision != nil {
		return decision, nil
	}

	session, err := f.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session == nil {
		return directError(ErrorLoginRequired, "No valid session"), nil
	}

	if !granted {
		return errorRedirect(r.RedirectURI, ErrorAccessDenied, "", r.State), nil
	}

	return f.issueCode(ctx, r, scopes, session)
}

func (f *Flow) resolveSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, ok, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return session, nil
}

// issueCode creates the one-time authorization code record and builds the
// redirect back to the client with code and echoed state.
func (f *Flow) issueCode(ctx context.Context, r *AuthorizeRequest, scopes []string, session *Session) (*Decision, error) {
	const op = "provider.(Flow).issueCode"
	code, err := NewStorageToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	record := &AuthCode{
		MemberID:            session.MemberID,
		ClientID:            r.ClientID,
		Scope:               strings.Join(scopes, " "),
		RedirectURI:         r.RedirectURI,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		Nonce:               r.Nonce,
		State:               r.State,
	}
	if err := f.store.PutAuthCode(ctx, code, record, AuthCodeTTL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse redirect uri: %w", op, err)
	}
	q := u.Query()
	q.Set("code", code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return &Decision{Kind: DecisionRedirect, RedirectURL: u.String()}, nil
}

// Exchange redeems a one-time authorization code for tokens
// (grant_type=authorization_code). Protocol violations are returned as
// *OAuthError; any other error is an internal failure the boundary reports
// as server_error.
//
// The code is consumed atomically up front, so of two concurrent redemption
// attempts exactly one proceeds and the other fails with invalid_grant. A
// consequence is that a redemption failing a later validation still burns
// the code, which is the safe behavior for a stolen-code replay.
func (f *Flow) Exchange(ctx context.Context, r *TokenRequest) (*TokenResponse, error) {
	const op = "provider.(Flow).Exchange"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}

	if r.GrantType != "authorization_code" {
		return nil, NewOAuthError(ErrorUnsupportedGrantType, "")
	}
	if r.Code == "" || r.RedirectURI == "" || r.ClientID == "" {
		return nil, NewOAuthError(ErrorInvalidRequest, "Missing required parameters")
	}

	authCode, ok, err := f.store.ConsumeAuthCode(ctx, r.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, NewOAuthError(ErrorInvalidGrant, "Invalid or expired authorization code")
	}

	client, err := f.clients.Lookup(ctx, r.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewOAuthError(ErrorInvalidClient, "")
		}
		return nil, fmt.Errorf("%s: client lookup failed: %w", op, err)
	}
	if !client.Public {
		if r.ClientSecret == "" || !client.SecretMatches(r.ClientSecret) {
			return nil, NewOAuthError(ErrorInvalidClient, "")
		}
	}

	if authCode.RedirectURI != r.RedirectURI {
		return nil, NewOAuthError(ErrorInvalidGrant, "Redirect URI mismatch")
	}
	if authCode.ClientID != r.ClientID {
		return nil, NewOAuthError(ErrorInvalidGrant, "Client ID mismatch")
	}

	if authCode.CodeChallenge != "" {
		if r.CodeVerifier == "" {
			return nil, NewOAuthError(ErrorInvalidRequest, "code_verifier required for PKCE")
		}
		if !VerifyPKCE(r.CodeVerifier, authCode.CodeChallenge) {
			return nil, NewOAuthError(ErrorInvalidGrant, "Invalid code_verifier")
		}
	}

	member, err := f.members.LookupByID(ctx, authCode.MemberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewOAuthError(ErrorInvalidGrant, "User not found")
		}
		return nil, fmt.Errorf("%s: member lookup failed: %w", op, err)
	}

	sub := strconv.FormatInt(member.ID, 10)
	accessToken, err := f.codec.SignAccessToken(AccessTokenClaims{
		Subject:  sub,
		ClientID: r.ClientID,
		Scope:    authCode.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// A session backs the issued token so the userinfo endpoint can honor
	// server-side revocation.
	if err := f.createSession(ctx, member); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(f.codec.TokenTTL() / time.Second),
	}

	scopes := strings.Fields(authCode.Scope)
	if strutils.StrListContains(scopes, ScopeOpenID) {
		idToken, err := f.codec.SignIDToken(IDTokenClaims{
			Subject:       sub,
			Audience:      r.ClientID,
			Nonce:         authCode.Nonce,
			ProfileClaims: memberClaims(member, scopes),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		resp.IDToken = idToken
	}

	if !client.Public {
		refreshToken, err := NewStorageToken()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		record := &RefreshToken{
			MemberID:  member.ID,
			ClientID:  r.ClientID,
			Scope:     authCode.Scope,
			CreatedAt: f.now(),
		}
		if err := f.store.PutRefreshToken(ctx, refreshToken, record, RefreshTokenTTL); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		resp.RefreshToken = refreshToken
	}

	return resp, nil
}

// UserInfo verifies the bearer access token and returns the member's claims
// filtered to the scopes the token carries. A member whose sessions have
// all been invalidated server-side is rejected even when the token is still
// cryptographically valid.
func (f *Flow) UserInfo(ctx context.Context, rawToken string) (map[string]interface{}, error) {
	const op = "provider.(Flow).UserInfo"

	verified, err := f.codec.VerifyAccessToken(rawToken, "")
	if err != nil {
		return nil, NewOAuthError(ErrorInvalidToken, "The Access Token expired")
	}
	memberID, err := strconv.ParseInt(verified.Subject, 10, 64)
	if err != nil {
		return nil, NewOAuthError(ErrorInvalidToken, "")
	}

	active, err := f.store.ActiveSessionForMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !active {
		return nil, NewOAuthError(ErrorInvalidToken, "Session has been invalidated")
	}

	member, err := f.members.LookupByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewOAuthError(ErrorInvalidToken, "User not found")
		}
		return nil, fmt.Errorf("%s: member lookup failed: %w", op, err)
	}

	claims := memberClaims(member, strings.Fields(verified.Scope))
	claims["sub"] = verified.Subject
	return claims, nil
}

// Login authenticates the credentials and creates a session with a fixed
// one hour TTL, returning the opaque session id for the cookie.
func (f *Flow) Login(ctx context.Context, email, password string) (string, *Session, error) {
	const op = "provider.(Flow).Login"
	member, err := f.auth.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	sessionID, err := NewStorageToken()
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	now := f.now()
	session := &Session{
		MemberID:  member.ID,
		Email:     member.Email,
		Name:      member.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := f.store.PutSession(ctx, sessionID, session, SessionTTL); err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return sessionID, session, nil
}

// Logout deletes the session. Deletion is idempotent; callers report
// success to the user agent regardless, since client-side state is
// authoritative for the logout intent.
func (f *Flow) Logout(ctx context.Context, sessionID string) error {
	const op = "provider.(Flow).Logout"
	if sessionID == "" {
		return nil
	}
	if err := f.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (f *Flow) createSession(ctx context.Context, member *Member) error {
	sessionID, err := NewStorageToken()
	if err != nil {
		return err
	}
	now := f.now()
	session := &Session{
		MemberID:  member.ID,
		Email:     member.Email,
		Name:      member.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	return f.store.PutSession(ctx, sessionID, session, SessionTTL)
}

// memberClaims assembles the member's populated claims gated on the granted
// scopes. The sub claim is the caller's responsibility.
func memberClaims(m *Member, scopes []string) map[string]interface{} {
	claims := map[string]interface{}{}

	if strutils.StrListContains(scopes, ScopeProfile) {
		if m.Name != "" {
			claims["name"] = m.Name
		}
		if m.GivenName != "" {
			claims["given_name"] = m.GivenName
		}
		if m.FamilyName != "" {
			claims["family_name"] = m.FamilyName
		}
		if m.Picture != "" {
			claims["picture"] = m.Picture
		}
		if m.GivenNameKana != "" {
			claims["given_name#ja-Kana-JP"] = m.GivenNameKana
		}
		if m.GivenNameKanji != "" {
			claims["given_name#ja-Hani-JP"] = m.GivenNameKanji
		}
		if m.FamilyNameKana != "" {
			claims["family_name#ja-Kana-JP"] = m.FamilyNameKana
		}
		if m.FamilyNameKanji != "" {
			claims["family_name#ja-Hani-JP"] = m.FamilyNameKanji
		}
	}

	if strutils.StrListContains(scopes, ScopeEmail) {
		claims["email"] = m.Email
		claims["email_verified"] = m.EmailVerified
	}

	if strutils.StrListContains(scopes, ScopePhone) && m.PhoneNumber != "" {
		claims["phone_number"] = m.PhoneNumber
		claims["phone_number_verified"] = m.PhoneVerified
	}

	return claims
}
