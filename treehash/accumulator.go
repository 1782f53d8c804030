package treehash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Accumulator collects per-part digests in the order parts are produced and
// reduces them once at finalize. It is owned by a single producer.
type Accumulator struct {
	digests [][]byte
	size    int64
}

// AddDigest records an already computed part digest of n bytes.
func (a *Accumulator) AddDigest(d []byte, n int64) {
	a.digests = append(a.digests, d)
	a.size += n
}

// Len returns the number of parts recorded.
func (a *Accumulator) Len() int { return len(a.digests) }

// Size returns the total bytes recorded.
func (a *Accumulator) Size() int64 { return a.size }

// RootHex reduces the recorded digests to the hex root.
func (a *Accumulator) RootHex() (string, error) { return RootHex(a.digests) }

// Writer is an io.Writer computing the tree hash of everything written,
// holding at most one leaf in memory.
type Writer struct {
	leaf   hash.Hash
	filled int
	leaves [][]byte
	n      int64
}

// NewWriter returns an empty tree hash writer.
func NewWriter() *Writer { return &Writer{leaf: sha256.New()} }

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		take := min(LeafSize-w.filled, len(p))
		w.leaf.Write(p[:take])
		w.filled += take
		p = p[take:]
		if w.filled == LeafSize {
			w.leaves = append(w.leaves, w.leaf.Sum(nil))
			w.leaf.Reset()
			w.filled = 0
		}
	}
	w.n += int64(total)
	return total, nil
}

// Size returns the number of bytes written.
func (w *Writer) Size() int64 { return w.n }

// SumHex returns the hex tree hash of the bytes written so far.
func (w *Writer) SumHex() string {
	leaves := w.leaves
	if w.filled > 0 || len(leaves) == 0 {
		leaves = append(leaves[:len(leaves):len(leaves)], w.leaf.Sum(nil))
	}
	root, _ := Root(leaves)
	return hex.EncodeToString(root)
}
