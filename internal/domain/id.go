// Package domain id.go contains functions to generate, parse, and validate IDs
package domain

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// StoredID is the opaque blob-store key of an uploaded file.
// It is a 128-bit random value encoded as 32 lowercase hex characters and is
// never derived from the client supplied file name.
type StoredID string

// NewStoredID generates a new cryptographically random 128-bit StoredID encoded
// as 32 lowercase hexadecimal characters.
func NewStoredID() (StoredID, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	dst := make([]byte, 32)
	hex.Encode(dst, b[:]) // hex.Encode always produces lowercase
	return StoredID(dst), nil
}

// ParseStoredID validates s and returns it as a StoredID. It enforces:
// - non-empty
// - length == 32
// - only lowercase [0-9a-f]
// Returns ErrInvalidID on failure.
func ParseStoredID(s string) (StoredID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return StoredID(s), nil
}

// String returns the string form of the StoredID.
func (id StoredID) String() string { return string(id) }

// isValidID performs validation without allocating errors.
func isValidID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// tokenBytes is the entropy of a master key token (192 bits).
const tokenBytes = 24

// NewToken returns a fresh master key token: 24 random bytes encoded as
// unpadded base64url (32 characters).
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
