// Package perceptual fingerprints images so that re-encoded or lightly altered
// copies of the same strip land within a small Hamming distance of each other.
package perceptual

import (
	"bytes"
	"fmt"
	"image"
	// Registered decoders for the formats strip sites serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"
)

// Supported algorithm names.
const (
	Average    = "average"
	Difference = "difference"
	Perception = "perception"
)

type hashFunc func(image.Image) (*goimagehash.ImageHash, error)

// Hasher implements comic.ImageHasher with a 64-bit perceptual hash.
type Hasher struct {
	algorithm string
	fn        hashFunc
}

// New returns a Hasher for the named algorithm.
func New(algorithm string) (*Hasher, error) {
	var fn hashFunc
	switch algorithm {
	case Average:
		fn = goimagehash.AverageHash
	case Difference:
		fn = goimagehash.DifferenceHash
	case Perception:
		fn = goimagehash.PerceptionHash
	default:
		return nil, fmt.Errorf("unsupported perceptual hash algorithm %q", algorithm)
	}
	return &Hasher{algorithm: algorithm, fn: fn}, nil
}

// Algorithm returns the configured algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash decodes data and returns the fingerprint as 16 hex digits.
func (h *Hasher) Hash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	ih, err := h.fn(img)
	if err != nil {
		return "", fmt.Errorf("%s hash: %w", h.algorithm, err)
	}
	return fmt.Sprintf("%016x", ih.GetHash()), nil
}

// Distance returns the Hamming distance between two fingerprints.
func (h *Hasher) Distance(a, b string) (int, error) {
	av, err := parse(a)
	if err != nil {
		return 0, err
	}
	bv, err := parse(b)
	if err != nil {
		return 0, err
	}
	return bits.OnesCount64(av ^ bv), nil
}

func parse(raw string) (uint64, error) {
	if len(raw) != 16 {
		return 0, fmt.Errorf("invalid fingerprint %q", raw)
	}
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fingerprint %q: %w", raw, err)
	}
	return v, nil
}
