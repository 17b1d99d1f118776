// Package server is the HTTP boundary of the identity provider: routing,
// parameter/cookie plumbing, and the mapping from flow decisions and OAuth
// errors onto redirects, JSON bodies and status codes.
package server

import (
	"fmt"
	"net/url"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Environment variables configuring the server.
const (
	EnvIssuerURL     = "ISSUER_URL"
	EnvListenAddr    = "LISTEN_ADDR"
	EnvPrivateKeyPEM = "JWT_PRIVATE_KEY_PEM"
	EnvPublicKeyPEM  = "JWT_PUBLIC_KEY_PEM"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvCookieSecure  = "COOKIE_SECURE"
)

// Config holds the server's startup configuration.
type Config struct {
	// Issuer is the provider's external base URL; it appears as the iss
	// claim in every signed token and in the discovery document.
	Issuer string

	// ListenAddr is the host:port to serve on.
	ListenAddr string

	// PrivateKeyPEM / PublicKeyPEM are the PEM-encoded RS256 key pair.
	// Missing key material is a startup failure, not a per-request error.
	PrivateKeyPEM string
	PublicKeyPEM  string

	// RedisAddr selects the redis-backed ephemeral store when set. When
	// empty the in-memory store is used, which is only suitable for a
	// single-process demo.
	RedisAddr string

	// LoginURL and ConsentURL are where the authorize endpoint sends user
	// agents that need to authenticate or to grant consent. They default
	// to Issuer + "/login" and Issuer + "/consent".
	LoginURL   string
	ConsentURL string

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// ConfigFromEnv assembles a Config from the environment.
func ConfigFromEnv() *Config {
	return &Config{
		Issuer:        os.Getenv(EnvIssuerURL),
		ListenAddr:    os.Getenv(EnvListenAddr),
		PrivateKeyPEM: os.Getenv(EnvPrivateKeyPEM),
		PublicKeyPEM:  os.Getenv(EnvPublicKeyPEM),
		RedisAddr:     os.Getenv(EnvRedisAddr),
		SecureCookies: os.Getenv(EnvCookieSecure) == "true",
	}
}

// Validate checks the config, accumulating every problem into one error so
// an operator sees the full list on a failed start.
func (c *Config) Validate() error {
	const op = "server.(Config).Validate"
	var result *multierror.Error
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", EnvIssuerURL))
	} else if _, err := url.Parse(c.Issuer); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s is not a valid URL: %w", EnvIssuerURL, err))
	}
	if c.ListenAddr == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", EnvListenAddr))
	}
	if c.PrivateKeyPEM == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", EnvPrivateKeyPEM))
	}
	if c.PublicKeyPEM == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required", EnvPublicKeyPEM))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetDefaults fills the derivable settings.
func (c *Config) SetDefaults() {
	if c.LoginURL == "" {
		c.LoginURL = c.Issuer + "/login"
	}
	if c.ConsentURL == "" {
		c.ConsentURL = c.Issuer + "/consent"
	}
}
