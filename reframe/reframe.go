// Package reframe repacks a stream of arbitrarily sized blocks into parts of
// a fixed target size.
package reframe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Kovercrosser/easy-cold-storage-uploader/stream"
)

// ErrEndOfStream is returned once every byte of the source has been delivered.
var ErrEndOfStream = errors.New("end of stream")

// Reframer emits fixed-size parts from a Stream. Every part except the last
// has exactly the target size; the last may be short. Bytes pulled past a
// part boundary are held over for the next call, so the source is never
// rewound or re-read.
//
// A Reframer is not safe for concurrent use; it belongs to the single
// producer driving a transfer.
type Reframer struct {
	src    stream.Stream
	target int

	remainder    []byte
	exhausted    bool
	totalRead    uint64
	totalWritten uint64
}

// New returns a Reframer producing parts of targetSize bytes from src.
func New(src stream.Stream, targetSize int) (*Reframer, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("target part size must be greater than 0, got %d", targetSize)
	}
	return &Reframer{src: src, target: targetSize}, nil
}

// TargetSize returns the configured part size.
func (r *Reframer) TargetSize() int { return r.target }

// TotalRead returns the number of bytes pulled from the source.
func (r *Reframer) TotalRead() uint64 { return r.totalRead }

// TotalWritten returns the number of bytes delivered to sinks.
func (r *Reframer) TotalWritten() uint64 { return r.totalWritten }

// Buffered returns the number of held-over bytes not yet delivered.
// Between calls, TotalRead() - TotalWritten() == Buffered().
func (r *Reframer) Buffered() int { return len(r.remainder) }

// Next writes the next part into sink and returns its length.
//
// When the held-over bytes already cover a full part, the part is served
// from them without pulling from the source. Otherwise blocks are pulled
// until the part is full or the source is exhausted; a zero-length block
// counts as exhaustion. Once nothing is left to deliver, Next returns
// ErrEndOfStream on this and every later call.
func (r *Reframer) Next(ctx context.Context, sink io.Writer) (int, error) {
	if len(r.remainder) >= r.target {
		if err := r.write(sink, r.remainder[:r.target]); err != nil {
			return 0, err
		}
		r.remainder = r.remainder[r.target:]
		return r.target, nil
	}

	written := 0
	if len(r.remainder) > 0 {
		if err := r.write(sink, r.remainder); err != nil {
			return 0, err
		}
		written = len(r.remainder)
		r.remainder = nil
	}

	for !r.exhausted && written < r.target {
		block, err := r.src.Next(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return written, err
		}
		if len(block) == 0 {
			r.exhausted = true
			break
		}
		r.totalRead += uint64(len(block))

		need := r.target - written
		if len(block) > need {
			r.remainder = block[need:]
			block = block[:need]
		}
		if err := r.write(sink, block); err != nil {
			return written, err
		}
		written += len(block)
	}

	if written == 0 {
		return 0, ErrEndOfStream
	}
	return written, nil
}

// NextPart returns the next part as a new buffer.
func (r *Reframer) NextPart(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(min(r.target, len(r.remainder)+stream.DefaultBlockSize))
	if _, err := r.Next(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Reframer) write(sink io.Writer, p []byte) error {
	n, err := sink.Write(p)
	r.totalWritten += uint64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}
