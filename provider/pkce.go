package provider

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEMethodS256 is the only code_challenge_method the provider accepts
// (RFC 7636 section 4.2).
const PKCEMethodS256 = "S256"

// VerifyPKCE recomputes SHA-256(verifier), base64url-encoded, and compares
// it against the stored challenge in constant time. Verifier and challenge
// are opaque byte strings; no normalization is applied.
func VerifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
