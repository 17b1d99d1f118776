package rp

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ClientSecret is the relying party's secret. Its String() and MarshalJSON()
// redact the secret so it cannot leak into logs or JSON output.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (s ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (s ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents a relying party's registration with the provider for a
// typical 3-legged OIDC authorization code flow.
type Config struct {
	// Issuer is the provider's base URL. Endpoints and signing keys are
	// discovered from its well-known configuration.
	Issuer string

	// ClientID is the relying party id registered with the provider.
	ClientID string

	// ClientSecret is empty for public clients.
	ClientSecret ClientSecret

	// RedirectURL is the registered callback the provider redirects to.
	RedirectURL string

	// Scopes to request beyond openid, which is always requested.
	Scopes []string

	// Public marks a client that cannot keep a secret. Public clients
	// authenticate the code exchange with PKCE instead of a secret.
	Public bool

	// ProviderCA is an optional CA cert PEM to trust when talking to the
	// provider.
	ProviderCA string
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withScopes       []string
	withProviderCA   string
	withPublicClient bool
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// NewConfig creates a relying party config. Supported options: WithScopes,
// WithProviderCA, WithPublicClient.
func NewConfig(issuer, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "rp.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:       issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       opts.withScopes,
		Public:       opts.withPublicClient,
		ProviderCA:   opts.withProviderCA,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the relying party configuration.
func (c *Config) Validate() error {
	const op = "rp.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret == "" && !c.Public {
		return fmt.Errorf("%s: client secret is empty for a confidential client: %w", op, ErrInvalidParameter)
	}
	if c.ClientSecret != "" && c.Public {
		return fmt.Errorf("%s: public client must not have a secret: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	return nil
}
