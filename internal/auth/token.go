// token.go

// Session token generation and digesting.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of session and CSRF tokens (256 bits).
const tokenBytes = 32

// GenerateToken returns a random URL-safe token and its SHA-256 digest.
// The token goes in the cookie; only the digest is stored.
func GenerateToken() (string, []byte, error) {
	raw, err := randomToken()
	if err != nil {
		return "", nil, err
	}
	return raw, DigestToken(raw), nil
}

// DigestToken is the unsalted SHA-256 of the token text. It is stable across
// restarts so stored digests stay valid.
func DigestToken(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

// TokenMatchesDigest compares in constant time.
func TokenMatchesDigest(raw string, digest []byte) bool {
	return subtle.ConstantTimeCompare(DigestToken(raw), digest) == 1
}

func randomToken() (string, error) {
	var b [tokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
