package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/oidcdemo/provider/provider"
)

const (
	testRedirectURI  = "http://localhost:3100/auth/callback"
	testClientSecret = "test-client-secret"
	testPassword     = "password123"
)

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	codec  *provider.Codec
	member *provider.Member
	flow   *provider.Flow
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	require := require.New(t)

	members := provider.NewInmemMemberStore()
	member := provider.TestMember(t, members, 1, "alice@example.com")

	clients := provider.NewInmemClientRegistry()
	provider.TestPublicClient(t, clients, "demo-app", testRedirectURI)
	provider.TestConfidentialClient(t, clients, "web-app", testClientSecret, "https://web.example.com/callback")

	keys := provider.TestKeyMaterial(t)

	srv := httptest.NewUnstartedServer(nil)
	issuer := "http://" + srv.Listener.Addr().String()

	codec, err := provider.NewCodec(keys, issuer)
	require.NoError(err)
	flow, err := provider.NewFlow(clients, members, provider.NewMemoryStore(), codec)
	require.NoError(err)

	cfg := &Config{
		Issuer:        issuer,
		ListenAddr:    srv.Listener.Addr().String(),
		PrivateKeyPEM: "unused",
		PublicKeyPEM:  "unused",
	}
	cfg.SetDefaults()

	s, err := New(cfg, flow, keys, hclog.NewNullLogger())
	require.NoError(err)

	srv.Config.Handler = s.Handler()
	srv.Start()
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(err)
	client := &http.Client{
		Jar: jar,
		// redirects are the interesting part, inspect them instead
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testEnv{
		srv:    srv,
		client: client,
		codec:  codec,
		member: member,
		flow:   flow,
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	require := require.New(t)
	data, err := json.Marshal(body)
	require.NoError(err)
	resp, err := e.client.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(err)
	return resp
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.postJSON(t, "/api/auth/login", map[string]string{
		"email":    e.member.Email,
		"password": testPassword,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func authorizeQuery(challenge string) url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {"demo-app"},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"openid profile email"},
		"state":                 {"st-123"},
		"nonce":                 {"n-456"},
		"code_challenge":        {challenge},
		"code_challenge_method": {provider.PKCEMethodS256},
	}
}

func TestServer_Discovery(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	resp, err := env.client.Get(env.srv.URL + "/.well-known/openid-configuration")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("public, max-age=3600", resp.Header.Get("Cache-Control"))

	var doc map[string]interface{}
	decodeBody(t, resp, &doc)
	issuer := env.srv.URL
	assert.Equal(issuer, doc["issuer"])
	assert.Equal(issuer+"/api/auth/authorize", doc["authorization_endpoint"])
	assert.Equal(issuer+"/api/auth/token", doc["token_endpoint"])
	assert.Equal(issuer+"/api/auth/userinfo", doc["userinfo_endpoint"])
	assert.Equal(issuer+"/.well-known/jwks.json", doc["jwks_uri"])
	assert.Equal([]interface{}{"code"}, doc["response_types_supported"])
	assert.Equal([]interface{}{"S256"}, doc["code_challenge_methods_supported"])
}

func TestServer_JWKS(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	resp, err := env.client.Get(env.srv.URL + "/.well-known/jwks.json")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("public, max-age=3600", resp.Header.Get("Cache-Control"))

	var jwks struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	decodeBody(t, resp, &jwks)
	require.Len(jwks.Keys, 1)
	assert.Equal("RSA", jwks.Keys[0]["kty"])
	assert.Equal("sig", jwks.Keys[0]["use"])
	assert.Equal("RS256", jwks.Keys[0]["alg"])
	assert.NotEmpty(jwks.Keys[0]["kid"])
}

func TestServer_AuthorizeRedirectsToLogin(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	verifier := oauth2.GenerateVerifier()
	q := authorizeQuery(oauth2.S256ChallengeFromVerifier(verifier))
	resp, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
	require.NoError(err)
	defer resp.Body.Close()

	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.Equal("/login", loc.Path)
	// the original request rides along so login can resume it
	assert.Contains(loc.Query().Get("redirect_url"), "/api/auth/authorize")
}

func TestServer_FullAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	env.login(t)

	// authorize: logged in, so the user agent is sent to the consent page
	verifier := oauth2.GenerateVerifier()
	q := authorizeQuery(oauth2.S256ChallengeFromVerifier(verifier))
	resp, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.Equal("/consent", loc.Path)

	// consent granted
	resp = env.postJSON(t, "/api/auth/authorize", map[string]string{
		"response_type":         "code",
		"client_id":             "demo-app",
		"redirect_uri":          testRedirectURI,
		"scope":                 "openid profile email",
		"state":                 "st-123",
		"nonce":                 "n-456",
		"code_challenge":        q.Get("code_challenge"),
		"code_challenge_method": provider.PKCEMethodS256,
		"consent":               "granted",
	})
	require.Equal(http.StatusOK, resp.StatusCode)
	var consent struct {
		Success     bool   `json:"success"`
		RedirectURL string `json:"redirectUrl"`
	}
	decodeBody(t, resp, &consent)
	require.True(consent.Success)

	cb, err := url.Parse(consent.RedirectURL)
	require.NoError(err)
	assert.Equal("st-123", cb.Query().Get("state"))
	code := cb.Query().Get("code")
	require.NotEmpty(code)

	// token exchange
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {"demo-app"},
		"code_verifier": {verifier},
	}
	resp, err = env.client.PostForm(env.srv.URL+"/api/auth/token", form)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("no-store", resp.Header.Get("Cache-Control"))
	assert.Equal("no-cache", resp.Header.Get("Pragma"))

	var tokens provider.TokenResponse
	decodeBody(t, resp, &tokens)
	assert.Equal("Bearer", tokens.TokenType)
	assert.Equal(3600, tokens.ExpiresIn)
	require.NotEmpty(tokens.AccessToken)
	require.NotEmpty(tokens.IDToken)
	assert.Empty(tokens.RefreshToken)

	claims, err := env.codec.VerifyIDToken(tokens.IDToken, "demo-app", "n-456")
	require.NoError(err)
	assert.Equal("1", claims["sub"])

	// userinfo
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/auth/userinfo", nil)
	require.NoError(err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err = env.client.Do(req)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("no-store", resp.Header.Get("Cache-Control"))

	var userinfo map[string]interface{}
	decodeBody(t, resp, &userinfo)
	assert.Equal("1", userinfo["sub"])
	assert.Equal(env.member.Email, userinfo["email"])

	// the consumed code cannot be redeemed again
	resp, err = env.client.PostForm(env.srv.URL+"/api/auth/token", form)
	require.NoError(err)
	var errBody map[string]interface{}
	decodeBody(t, resp, &errBody)
	require.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Equal("invalid_grant", errBody["error"])
}

func TestServer_AuthorizeErrors(t *testing.T) {
	t.Parallel()

	t.Run("redirect-uri-mismatch-is-direct-error", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		q := authorizeQuery(oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))
		q.Set("redirect_uri", "https://attacker.example.com/cb")
		resp, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
		require.NoError(err)
		require.Equal(http.StatusBadRequest, resp.StatusCode)

		var body map[string]interface{}
		decodeBody(t, resp, &body)
		assert.Equal("invalid_redirect_uri", body["error"])
	})

	t.Run("unsupported-response-type-redirects", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		q := authorizeQuery(oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))
		q.Set("response_type", "token")
		resp, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
		require.NoError(err)
		defer resp.Body.Close()
		require.Equal(http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(err)
		assert.Equal("unsupported_response_type", loc.Query().Get("error"))
		assert.Equal("st-123", loc.Query().Get("state"))
	})

	t.Run("prompt-none-without-session", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		q := authorizeQuery(oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))
		q.Set("prompt", "none")
		resp, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
		require.NoError(err)
		defer resp.Body.Close()
		require.Equal(http.StatusFound, resp.StatusCode)

		loc, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(err)
		assert.Equal("login_required", loc.Query().Get("error"))
	})
}

func TestServer_ConsentDenied(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)
	env.login(t)

	resp := env.postJSON(t, "/api/auth/authorize", map[string]string{
		"response_type":         "code",
		"client_id":             "demo-app",
		"redirect_uri":          testRedirectURI,
		"scope":                 "openid",
		"state":                 "st-123",
		"code_challenge":        oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		"code_challenge_method": provider.PKCEMethodS256,
		"consent":               "denied",
	})
	require.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Success     bool   `json:"success"`
		RedirectURL string `json:"redirectUrl"`
	}
	decodeBody(t, resp, &body)
	assert.False(body.Success)

	u, err := url.Parse(body.RedirectURL)
	require.NoError(err)
	assert.Equal("access_denied", u.Query().Get("error"))
	assert.Equal("st-123", u.Query().Get("state"))
}

func TestServer_TokenErrors(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantError  string
	}{
		{
			name: "unsupported-grant-type",
			form: url.Values{
				"grant_type":   {"client_credentials"},
				"code":         {"x"},
				"redirect_uri": {testRedirectURI},
				"client_id":    {"demo-app"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported_grant_type",
		},
		{
			name: "unknown-code",
			form: url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {"never-issued"},
				"redirect_uri": {testRedirectURI},
				"client_id":    {"demo-app"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_grant",
		},
		{
			name: "code-consumed-before-client-check",
			form: url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {"never-issued"},
				"redirect_uri": {testRedirectURI},
				"client_id":    {"ghost"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_grant",
		},
	}
	for _, tt := range tests {
		resp, err := env.client.PostForm(env.srv.URL+"/api/auth/token", tt.form)
		require.NoError(err, tt.name)
		var body map[string]interface{}
		decodeBody(t, resp, &body)
		assert.Equal(tt.wantStatus, resp.StatusCode, tt.name)
		assert.Equal(tt.wantError, body["error"], tt.name)
	}
}

func TestServer_TokenInvalidClientIs401(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)
	env.login(t)

	// obtain a code for the confidential client, then redeem with a bad secret
	resp := env.postJSON(t, "/api/auth/authorize", map[string]string{
		"response_type": "code",
		"client_id":     "web-app",
		"redirect_uri":  "https://web.example.com/callback",
		"scope":         "openid",
		"consent":       "granted",
	})
	require.Equal(http.StatusOK, resp.StatusCode)
	var consent struct {
		RedirectURL string `json:"redirectUrl"`
	}
	decodeBody(t, resp, &consent)
	u, err := url.Parse(consent.RedirectURL)
	require.NoError(err)
	code := u.Query().Get("code")
	require.NotEmpty(code)

	resp, err = env.client.PostForm(env.srv.URL+"/api/auth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://web.example.com/callback"},
		"client_id":     {"web-app"},
		"client_secret": {"wrong-secret"},
	})
	require.NoError(err)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal("invalid_client", body["error"])
}

func TestServer_UserInfoUnauthorized(t *testing.T) {
	t.Parallel()

	t.Run("missing-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		resp, err := env.client.Get(env.srv.URL + "/api/auth/userinfo")
		require.NoError(err)
		var body map[string]interface{}
		decodeBody(t, resp, &body)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Equal("invalid_token", body["error"])
		assert.Contains(resp.Header.Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("garbage-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/auth/userinfo", nil)
		require.NoError(err)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		resp, err := env.client.Do(req)
		require.NoError(err)
		var body map[string]interface{}
		decodeBody(t, resp, &body)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Equal("invalid_token", body["error"])
		assert.Contains(resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
	})
}

func TestServer_Login(t *testing.T) {
	t.Parallel()

	t.Run("success-sets-cookie", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/auth/login", map[string]string{
			"email":       env.member.Email,
			"password":    testPassword,
			"redirectUrl": "/somewhere",
		})
		require.Equal(http.StatusOK, resp.StatusCode)

		var body struct {
			Success     bool   `json:"success"`
			RedirectURL string `json:"redirectUrl"`
		}
		decodeBody(t, resp, &body)
		assert.True(body.Success)
		assert.Equal("/somewhere", body.RedirectURL)

		var sessionCookie *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == sessionCookieName {
				sessionCookie = c
			}
		}
		require.NotNil(sessionCookie)
		assert.NotEmpty(sessionCookie.Value)
		assert.True(sessionCookie.HttpOnly)
		assert.Equal(http.SameSiteLaxMode, sessionCookie.SameSite)
	})

	t.Run("bad-credentials", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		for _, body := range []map[string]string{
			{"email": env.member.Email, "password": "wrong"},
			{"email": "ghost@example.com", "password": testPassword},
		} {
			resp := env.postJSON(t, "/api/auth/login", body)
			var got map[string]interface{}
			decodeBody(t, resp, &got)
			require.Equal(http.StatusUnauthorized, resp.StatusCode)
			// unknown email and wrong password are indistinguishable
			assert.Equal("Invalid email or password", got["error"])
		}
	})

	t.Run("missing-fields", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)

		resp := env.postJSON(t, "/api/auth/login", map[string]string{"email": env.member.Email})
		var got map[string]interface{}
		decodeBody(t, resp, &got)
		require.Equal(http.StatusBadRequest, resp.StatusCode)
		assert.Equal("Email and password are required", got["error"])
	})
}

func TestServer_Logout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)
	env.login(t)

	resp, err := env.client.Post(env.srv.URL+"/api/auth/logout", "application/json", strings.NewReader("{}"))
	require.NoError(err)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(true, body["success"])

	// a logged-out session no longer reaches consent
	q := authorizeQuery(oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()))
	resp2, err := env.client.Get(env.srv.URL + "/api/auth/authorize?" + q.Encode())
	require.NoError(err)
	defer resp2.Body.Close()
	require.Equal(http.StatusFound, resp2.StatusCode)
	loc, err := url.Parse(resp2.Header.Get("Location"))
	require.NoError(err)
	assert.Equal("/login", loc.Path)

	// logging out again still succeeds
	resp3, err := env.client.Post(env.srv.URL+"/api/auth/logout", "application/json", strings.NewReader("{}"))
	require.NoError(err)
	io.Copy(io.Discard, resp3.Body)
	resp3.Body.Close()
	assert.Equal(http.StatusOK, resp3.StatusCode)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	env := newTestEnv(t)

	resp, err := env.client.Get(env.srv.URL + "/api/health")
	require.NoError(err)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("ok", body["status"])
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	valid := &Config{
		Issuer:        "http://localhost:3000",
		ListenAddr:    ":3000",
		PrivateKeyPEM: "pem",
		PublicKeyPEM:  "pem",
	}
	assert.NoError(valid.Validate())

	empty := &Config{}
	err := empty.Validate()
	assert.Error(err)
	for _, want := range []string{EnvIssuerURL, EnvListenAddr, EnvPrivateKeyPEM, EnvPublicKeyPEM} {
		assert.Contains(err.Error(), want)
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := &Config{Issuer: "http://localhost:3000"}
	c.SetDefaults()
	assert.Equal("http://localhost:3000/login", c.LoginURL)
	assert.Equal("http://localhost:3000/consent", c.ConsentURL)

	c2 := &Config{Issuer: "http://localhost:3000", LoginURL: "http://ui.example.com/login"}
	c2.SetDefaults()
	assert.Equal("http://ui.example.com/login", c2.LoginURL)
}
