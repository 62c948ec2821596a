package token

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex-encoded SHA-256 digest of a token secret. Only this
// digest is ever persisted; the plaintext secret stays with the caller.
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
