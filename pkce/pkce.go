// Package pkce implements the RFC 7636 code verifier and S256 challenge
// used to bind an authorization code to a single authorization attempt.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const VerifierByteLength = 32

// GenerateVerifier returns a fresh code verifier: 32 bytes from the secure
// random source, base64url encoded without padding. A failure here is fatal
// for the current authorization attempt and is not retried.
func GenerateVerifier() (string, error) {
	buf := make([]byte, VerifierByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read random bytes for code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DeriveChallenge computes BASE64URL(SHA256(ASCII(verifier))) per RFC 7636.
func DeriveChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// VerifyS256 reports whether verifier hashes to challenge.
func VerifyS256(verifier, challenge string) bool {
	computed := DeriveChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
