package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenFingerprint returns the first 12 hex characters of the SHA-256 of token.
// Logs carry the fingerprint so two sessions can be correlated without exposing the credential.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:12]
}
