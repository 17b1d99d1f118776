package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	assert.True(VerifyPKCE(verifier, challenge))
	assert.False(VerifyPKCE(oauth2.GenerateVerifier(), challenge))
	assert.False(VerifyPKCE("", challenge))
	assert.False(VerifyPKCE(verifier, ""))
	// the challenge itself is not a valid verifier
	assert.False(VerifyPKCE(challenge, challenge))
}

func TestVerifyPKCE_SingleCharMutation(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	for i := 0; i < len(verifier); i++ {
		mutated := []byte(verifier)
		mutated[i] ^= 0x01
		assert.False(VerifyPKCE(string(mutated), challenge), "mutation at byte %d must fail", i)
	}
}
