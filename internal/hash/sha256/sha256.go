// Package sha256 provides the exact-match image fingerprint.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Algorithm is the configuration name of this hasher.
const Algorithm = "sha256"

// maxDistance is reported for any pair of differing digests.
const maxDistance = sha256.Size * 8

// Hasher implements comic.ImageHasher using SHA-256 over the raw bytes.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Algorithm returns the configuration name of the hasher.
func (h *Hasher) Algorithm() string {
	return Algorithm
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("cannot hash empty input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Distance is zero for identical digests and the digest width in bits otherwise;
// a cryptographic hash carries no notion of near matches.
func (h *Hasher) Distance(a, b string) (int, error) {
	if len(a) != sha256.Size*2 || len(b) != sha256.Size*2 {
		return 0, fmt.Errorf("invalid sha256 digest length")
	}
	if a == b {
		return 0, nil
	}
	return maxDistance, nil
}
