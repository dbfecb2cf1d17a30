// Package phash computes perceptual fingerprints for image buffers and
// compares them for near-duplicate similarity.
package phash

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold is the maximum Hamming distance between two fingerprints
// below which images are considered perceptually identical.
const DefaultThreshold = 10

// Fingerprint is a 64-bit difference hash, hex encoded for persistence on
// the referencing row.
type Fingerprint string

// Hash decodes data and computes its fingerprint. Corrupt or unsupported
// images return an error; callers treat that as "no fingerprint available"
// and proceed without dedup.
func Hash(data []byte) (Fingerprint, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("difference hash: %w", err)
	}
	return Fingerprint(fmt.Sprintf("%016x", h.GetHash())), nil
}

// Similar reports whether two fingerprints are within threshold Hamming
// distance. Malformed fingerprints are never similar to anything.
func Similar(a, b Fingerprint, threshold int) bool {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	ha, okA := parse(a)
	hb, okB := parse(b)
	if !okA || !okB {
		return false
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return false
	}
	return dist <= threshold
}

func parse(fp Fingerprint) (*goimagehash.ImageHash, bool) {
	s := strings.TrimSpace(string(fp))
	if s == "" {
		return nil, false
	}
	bits, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, false
	}
	return goimagehash.NewImageHash(bits, goimagehash.DHash), true
}
