// Package sha256 derives content-addressed keys for stored pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements handlers.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash over the bytes of s.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
