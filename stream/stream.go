// Package stream defines the pull-based byte stream that connects the
// filter chain to the transfer coordinators.
//
// A Stream is single-pass and cannot be restarted. Next returns blocks of
// arbitrary non-zero length and io.EOF once the source is exhausted. Stages
// own the stream they consume; a stream is never shared between consumers.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
)

// DefaultBlockSize is the read size used when adapting an io.Reader.
const DefaultBlockSize = 1 << 20

// Stream produces the next block of a byte sequence.
type Stream interface {
	// Next returns the next non-empty block, or io.EOF when the stream is
	// exhausted. The returned slice is owned by the caller.
	Next(ctx context.Context) ([]byte, error)
}

// Func adapts a function to the Stream interface.
type Func func(ctx context.Context) ([]byte, error)

// Next calls f.
func (f Func) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// Close closes s if it holds resources. Streams without resources are a no-op.
func Close(s Stream) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromSlices returns a stream that yields each block in order.
// Empty blocks are yielded as-is so consumers can exercise their
// zero-length handling.
func FromSlices(blocks ...[]byte) Stream {
	i := 0
	return Func(func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(blocks) {
			return nil, io.EOF
		}
		b := blocks[i]
		i++
		return b, nil
	})
}

// ReaderStream adapts an io.Reader to a Stream.
type ReaderStream struct {
	r         io.Reader
	blockSize int
	done      bool
}

// FromReader returns a stream reading blockSize bytes at a time from r.
// A non-positive blockSize selects DefaultBlockSize. If r is an io.Closer,
// closing the stream closes r.
func FromReader(r io.Reader, blockSize int) *ReaderStream {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &ReaderStream{r: r, blockSize: blockSize}
}

// Next reads up to one block from the underlying reader. When the reader is
// an io.Closer, cancelling ctx closes it to unblock a pending read and the
// stream ends with the context's cause. Other readers are only checked
// between blocks.
func (s *ReaderStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.blockSize)
	n, err := s.readFull(ctx, buf)
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
		return buf[:n], nil
	case err != nil:
		return nil, err
	}
	return buf, nil
}

func (s *ReaderStream) readFull(ctx context.Context, buf []byte) (int, error) {
	c, ok := s.r.(io.Closer)
	if !ok {
		return io.ReadFull(s.r, buf)
	}
	stop := context.AfterFunc(ctx, func() {
		if p, ok := s.r.(interface{ CloseWithError(error) error }); ok {
			_ = p.CloseWithError(context.Cause(ctx))
			return
		}
		_ = c.Close()
	})
	n, err := io.ReadFull(s.r, buf)
	if !stop() {
		s.done = true
		return 0, context.Cause(ctx)
	}
	return n, err
}

// Close closes the underlying reader if it is closable.
func (s *ReaderStream) Close() error {
	s.done = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader adapts a Stream to an io.Reader bound to ctx.
type Reader struct {
	ctx context.Context
	s   Stream
	buf []byte
	err error
}

// NewReader returns an io.Reader draining s. Cancelling ctx fails the next Read.
func NewReader(ctx context.Context, s Stream) *Reader {
	return &Reader{ctx: ctx, s: s}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		b, err := r.s.Next(r.ctx)
		if err != nil {
			r.err = err
			continue
		}
		r.buf = b
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close closes the wrapped stream.
func (r *Reader) Close() error { return Close(r.s) }

// Pipe runs produce in a goroutine writing into a pipe and returns the read
// side as a Stream. The error returned by produce terminates the stream.
// Closing the returned stream unblocks a producer stuck on a write.
func Pipe(produce func(w io.Writer) error) *ReaderStream {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(produce(pw))
	}()
	return FromReader(pr, DefaultBlockSize)
}

// Drain copies every block of s into w and returns the byte count.
func Drain(ctx context.Context, w io.Writer, s Stream) (int64, error) {
	defer iox.DiscardErr(func() error { return Close(s) })
	var total int64
	for {
		b, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}
