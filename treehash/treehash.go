// Package treehash computes SHA-256 tree hashes as verified by archival
// stores for multipart uploads and ranged retrievals.
//
// Data is hashed in LeafSize leaves. The ordered leaf digests are reduced
// level by level: adjacent pairs are concatenated and hashed left to right,
// and an unpaired trailing digest is carried to the next level unchanged.
// Because the reduction carries rather than duplicates, the root over parts
// whose size is a power-of-two multiple of LeafSize equals the root over the
// whole payload. Upload relies on that to fold per-part hashes.
package treehash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// LeafSize is the leaf granularity of the tree hash.
const LeafSize = 1 << 20

// ErrInvalidInput is returned for empty digest lists or empty digests.
var ErrInvalidInput = errors.New("invalid tree hash input")

// Root reduces an ordered digest list to a single root digest.
// A single digest is returned unchanged.
func Root(digests [][]byte) ([]byte, error) {
	if len(digests) == 0 {
		return nil, fmt.Errorf("%w: empty digest list", ErrInvalidInput)
	}
	level := make([][]byte, len(digests))
	for i, d := range digests {
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: empty digest at index %d", ErrInvalidInput, i)
		}
		level[i] = d
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0], nil
}

// RootHex is Root with a lowercase hex result.
func RootHex(digests [][]byte) (string, error) {
	root, err := Root(digests)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}

// RootOfHex reduces hex-encoded digests. Malformed hex is ErrInvalidInput.
func RootOfHex(digests []string) (string, error) {
	raw := make([][]byte, len(digests))
	for i, s := range digests {
		b, err := hex.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("%w: digest %d is not hex: %v", ErrInvalidInput, i, err)
		}
		raw[i] = b
	}
	return RootHex(raw)
}

// Sum returns the tree hash of data split into LeafSize leaves.
// Empty data hashes as a single empty leaf.
func Sum(data []byte) []byte {
	if len(data) == 0 {
		s := sha256.Sum256(nil)
		return s[:]
	}
	leaves := make([][]byte, 0, (len(data)+LeafSize-1)/LeafSize)
	for off := 0; off < len(data); off += LeafSize {
		s := sha256.Sum256(data[off:min(off+LeafSize, len(data))])
		leaves = append(leaves, s[:])
	}
	root, _ := Root(leaves)
	return root
}

// SumHex is Sum with a lowercase hex result.
func SumHex(data []byte) string { return hex.EncodeToString(Sum(data)) }
