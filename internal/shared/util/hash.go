package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a stable hex identifier for s.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PathKey returns s when it is safe to use as a single path segment and its hash otherwise.
// Generated ids pass through unchanged so on-disk names stay readable.
func PathKey(s string) string {
	if s == "" || len(s) > 128 || s == "." || s == ".." {
		return HashKey(s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return HashKey(s)
		}
	}
	return s
}
