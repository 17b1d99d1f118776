package provider

import (
	"strings"

	"github.com/oidcdemo/provider/internal/strutils"
)

// Scopes supported by the provider. Anything else in a scope request is
// silently dropped.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	ScopePhone   = "phone"
)

var supportedScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopePhone}

// SupportedScopes returns the fixed set of scopes the provider supports, in
// the order they are published in the discovery document.
func SupportedScopes() []string {
	scopes := make([]string, len(supportedScopes))
	copy(scopes, supportedScopes)
	return scopes
}

// ValidateScope splits the requested scope string on whitespace, drops
// unsupported and duplicate values (order preserved), and guarantees the
// result contains "openid" (prepended when missing). It never fails: an
// empty or entirely unsupported request yields at least {"openid"}.
func ValidateScope(requested string) []string {
	requestedScopes := strutils.RemoveDuplicatesStable(strings.Fields(requested), false)

	validated := make([]string, 0, len(requestedScopes)+1)
	for _, s := range requestedScopes {
		if strutils.StrListContains(supportedScopes, s) {
			validated = append(validated, s)
		}
	}
	if !strutils.StrListContains(validated, ScopeOpenID) {
		validated = append([]string{ScopeOpenID}, validated...)
	}
	return validated
}
