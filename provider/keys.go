package provider

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	jose "gopkg.in/square/go-jose.v2"
)

// KeyMaterial holds the provider's RS256 signing key pair, parsed once at
// startup and treated as process-wide immutable state. The key id is
// computed once here; every signed token and the published JWK set carry it
// so key rotation is detectable by clients caching keys by kid.
type KeyMaterial struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
}

// NewKeyMaterial parses the PEM-encoded RSA key pair. Key material is a
// startup precondition: callers are expected to treat an error here as
// fatal. Literal "\n" sequences are normalized to newlines so PEMs can be
// supplied through single-line environment variables.
func NewKeyMaterial(privateKeyPEM, publicKeyPEM string) (*KeyMaterial, error) {
	const op = "provider.NewKeyMaterial"
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingKeyMaterial)
	}

	priv, err := parsePrivateKeyPEM(normalizePEM(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse private key: %w", op, err)
	}
	pub, err := parsePublicKeyPEM(normalizePEM(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse public key: %w", op, err)
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
		return nil, fmt.Errorf("%s: public key does not match private key: %w", op, ErrInvalidParameter)
	}

	kid, err := keyID(pub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &KeyMaterial{
		privateKey: priv,
		publicKey:  pub,
		keyID:      kid,
	}, nil
}

// SigningKey returns the private signing key.
func (k *KeyMaterial) SigningKey() *rsa.PrivateKey { return k.privateKey }

// VerificationKey returns the public verification key.
func (k *KeyMaterial) VerificationKey() *rsa.PublicKey { return k.publicKey }

// KeyID returns the stable key identifier: the first 16 hex characters of
// the SHA-256 digest of the public key's PKIX encoding.
func (k *KeyMaterial) KeyID() string { return k.keyID }

// JWKSet exports the public key as a single-entry JSON Web Key Set with
// use=sig and alg=RS256, suitable for the jwks endpoint.
func (k *KeyMaterial) JWKSet() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       k.publicKey,
				KeyID:     k.keyID,
				Use:       "sig",
				Algorithm: string(jose.RS256),
			},
		},
	}
}

func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("unable to encode public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16], nil
}

func normalizePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

func parsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found: %w", ErrInvalidParameter)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA: %w", ErrInvalidParameter)
	}
	return key, nil
}

func parsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found: %w", ErrInvalidParameter)
	}
	var rawKey interface{}
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, err
		}
		rawKey = cert.PublicKey
	}
	key, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA: %w", ErrInvalidParameter)
	}
	return key, nil
}
