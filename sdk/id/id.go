// Package id generates opaque identifiers for states, nonces and similar
// one-time values.
package id

import (
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// New generates a random ID with an optional prefix.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(20)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := hex.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
