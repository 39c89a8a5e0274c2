// Package utils holds the credential primitives: refresh-token minting
// and fingerprinting, access-token signing, password hashing.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// refreshSecretBytes is the amount of raw entropy behind a refresh token.
// 48 bytes (384 bits) encodes to 96 hex characters, well above the 128-bit
// floor required for an unguessable bearer credential.
const refreshSecretBytes = 48

// NewRefreshSecret mints the raw material of a refresh token from the given
// entropy source. The returned string is handed to the client exactly once;
// only its fingerprint is ever persisted.
func NewRefreshSecret(entropy io.Reader) (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := io.ReadFull(entropy, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// FingerprintRefresh returns the hex SHA-256 fingerprint of a raw refresh
// token. The same raw value always yields the same fingerprint, and the
// fingerprint cannot be turned back into the raw token, so it is safe to
// store and index.
func FingerprintRefresh(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
