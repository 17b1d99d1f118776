package provider

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oidcdemo/provider/internal/strutils"
)

// ClientSecret is a relying party's secret. Its String() and MarshalJSON()
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

// Client is an OAuth client registered with the provider out-of-band (seed
// data). Clients are immutable during a flow and looked up by client id on
// every authorize and token call.
type Client struct {
	// ClientID uniquely identifies the client.
	ClientID string

	// ClientSecret is empty for public clients.
	ClientSecret ClientSecret

	// Name is a display name for the consent step.
	Name string

	// RedirectURIs are the registered redirect targets. A requested
	// redirect_uri must exactly match one of them.
	RedirectURIs []string

	// Scope is the space-delimited scope set the client may request.
	Scope string

	// Public marks clients that cannot keep a secret (SPAs, native apps).
	// Public clients must use PKCE with the S256 method.
	Public bool
}

// RedirectURIAllowed reports whether uri exactly matches one of the client's
// registered redirect URIs. No normalization is applied.
func (c *Client) RedirectURIAllowed(uri string) bool {
	return strutils.StrListContains(c.RedirectURIs, uri)
}

// SecretMatches compares the presented secret against the registered one in
// constant time.
func (c *Client) SecretMatches(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(presented)) == 1
}

// ClientRegistry is the narrow lookup interface onto the external client
// store.
type ClientRegistry interface {
	// Lookup returns the client registered under clientID, or ErrNotFound.
	Lookup(ctx context.Context, clientID string) (*Client, error)
}

// InmemClientRegistry is a ClientRegistry backed by an in-process map,
// suitable for seed data and tests.
type InmemClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewInmemClientRegistry creates an empty InmemClientRegistry.
func NewInmemClientRegistry() *InmemClientRegistry {
	return &InmemClientRegistry{clients: map[string]*Client{}}
}

// Register adds a client to the registry.
func (r *InmemClientRegistry) Register(c *Client) error {
	const op = "provider.(InmemClientRegistry).Register"
	if c == nil {
		return fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("%s: client %q has no redirect uris: %w", op, c.ClientID, ErrInvalidParameter)
	}
	if !c.Public && c.ClientSecret == "" {
		return fmt.Errorf("%s: confidential client %q requires a secret: %w", op, c.ClientID, ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ClientID]; ok {
		return fmt.Errorf("%s: duplicate client id %q: %w", op, c.ClientID, ErrInvalidParameter)
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	r.clients[c.ClientID] = &cp
	return nil
}

// Lookup implements ClientRegistry.
func (r *InmemClientRegistry) Lookup(_ context.Context, clientID string) (*Client, error) {
	const op = "provider.(InmemClientRegistry).Lookup"
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	return &cp, nil
}
