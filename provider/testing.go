package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// TestGenerateKeys will generate a test RSA 2048 pub/priv key pair,
// PEM-encoded.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)

	{
		derBytes := x509.MarshalPKCS1PrivateKey(privateKey)
		pemBlock := &pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: derBytes,
		}
		priv = string(pem.EncodeToMemory(pemBlock))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)

		pemBlock := &pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: derBytes,
		}
		pub = string(pem.EncodeToMemory(pemBlock))
	}

	return pub, priv
}

// TestKeyMaterial generates a fresh key pair and wraps it in KeyMaterial.
func TestKeyMaterial(t *testing.T) *KeyMaterial {
	t.Helper()
	require := require.New(t)
	pub, priv := TestGenerateKeys(t)
	keys, err := NewKeyMaterial(priv, pub)
	require.NoError(err)
	return keys
}

// TestHashPassword bcrypt-hashes a password with a low cost suitable for
// tests.
func TestHashPassword(t *testing.T, password string) string {
	t.Helper()
	require := require.New(t)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(err)
	return string(hash)
}

// TestMember adds a member with sensible defaults to the store and returns
// it. The member's password is "password123".
func TestMember(t *testing.T, store *InmemMemberStore, id int64, email string) *Member {
	t.Helper()
	require := require.New(t)
	m := &Member{
		ID:            id,
		Email:         email,
		PasswordHash:  TestHashPassword(t, "password123"),
		Name:          "Test User",
		EmailVerified: true,
		GivenName:     "Test",
		FamilyName:    "User",
		PhoneNumber:   "+81-90-0000-0000",
		PhoneVerified: true,
	}
	require.NoError(store.Add(m))
	return m
}

// TestPublicClient registers a public (PKCE-required) client.
func TestPublicClient(t *testing.T, reg *InmemClientRegistry, clientID, redirectURI string) *Client {
	t.Helper()
	require := require.New(t)
	c := &Client{
		ClientID:     clientID,
		Name:         "Test Public Client",
		RedirectURIs: []string{redirectURI},
		Scope:        "openid profile email",
		Public:       true,
	}
	require.NoError(reg.Register(c))
	return c
}

// TestConfidentialClient registers a confidential client with the given
// secret.
func TestConfidentialClient(t *testing.T, reg *InmemClientRegistry, clientID, secret, redirectURI string) *Client {
	t.Helper()
	require := require.New(t)
	c := &Client{
		ClientID:     clientID,
		ClientSecret: ClientSecret(secret),
		Name:         "Test Confidential Client",
		RedirectURIs: []string{redirectURI},
		Scope:        "openid profile email",
		Public:       false,
	}
	require.NoError(reg.Register(c))
	return c
}

// TestSession creates a session directly in the store and returns its id.
func TestSession(t *testing.T, store Store, m *Member) string {
	t.Helper()
	require := require.New(t)
	id, err := NewStorageToken()
	require.NoError(err)
	sess := &Session{
		MemberID:  m.ID,
		Email:     m.Email,
		Name:      m.Name,
		CreatedAt: nowForTest(store),
	}
	require.NoError(store.PutSession(context.Background(), id, sess, SessionTTL))
	return id
}

// nowForTest reads the injected clock of a MemoryStore when there is one,
// so sessions created by helpers agree with the store's notion of now.
func nowForTest(store Store) time.Time {
	if ms, ok := store.(*MemoryStore); ok {
		return ms.now()
	}
	return time.Now()
}
