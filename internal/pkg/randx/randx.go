/*
Package randx generates connection identifiers and validates externally supplied user identities.
*/
package randx

import (
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxIdentityLength is the longest accepted user identity, in bytes.
const MaxIdentityLength = 128

// ConnectionID returns a new UUID v4 string identifying one accepted connection.
func ConnectionID() string {
	return uuid.New().String()
}

// IsValidIdentity reports whether id is usable as a user identity: non-empty valid UTF-8 of at
// most MaxIdentityLength bytes without whitespace or control characters.
func IsValidIdentity(id string) bool {
	if id == "" || len(id) > MaxIdentityLength || !utf8.ValidString(id) {
		return false
	}

	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}

	return true
}
