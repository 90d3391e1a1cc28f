// Package auth implements passwordless login: magic-link issuance and redemption,
// cookie sessions for the admin and musician portals, and the operator services
// built on the same stores.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// SecretBytes is the entropy of magic-link tokens and session ids (256 bits).
	SecretBytes = 32

	// SecretLength is the hex-encoded length of a generated secret.
	SecretLength = SecretBytes * 2
)

// GenerateSecureToken returns 32 bytes from the system CSPRNG, hex encoded.
// Both magic-link tokens and session ids use it; they are stored verbatim and
// looked up by exact match.
func GenerateSecureToken() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
