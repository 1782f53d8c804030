// Package filter provides the byte-stream transforms applied around a
// transfer: packing files into a container, compression and encryption.
//
// Each family is a closed set of variants selected by name at configuration
// time, or by extension tag when an archive is read back. Forward
// transforms wrap a writer; backward transforms wrap a reader. Chain
// composes one variant of each family into the upload and download
// pipelines.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Kovercrosser/easy-cold-storage-uploader/stream"
)

var (
	// ErrNotImplemented is returned by variants that exist only as
	// placeholders for a direction or an algorithm.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnknownVariant is returned when a name or extension tag selects
	// no variant.
	ErrUnknownVariant = errors.New("unknown filter variant")
)

// Compression compresses and decompresses a byte stream.
type Compression interface {
	// Name is the configuration name, e.g. "lzma".
	Name() string
	// Extension is the archive name tag, e.g. ".xz". None has "".
	Extension() string
	// Compress returns a writer that compresses into w. Closing it
	// flushes the compressor but does not close w.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress returns a reader of the decompressed content of r.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// Encryption encrypts and decrypts a byte stream.
type Encryption interface {
	Name() string
	Extension() string
	// Encrypt returns a writer that encrypts into w. Closing it writes
	// any trailer but does not close w.
	Encrypt(w io.Writer) (io.WriteCloser, error)
	// Decrypt returns a reader of the plaintext of r.
	Decrypt(r io.Reader) (io.Reader, error)
}

// Filetype packs files into a single container stream and back.
type Filetype interface {
	Name() string
	Extension() string
	// Pack writes the files and directories named by paths into w.
	Pack(ctx context.Context, w io.Writer, paths []string) error
	// Unpack extracts the container read from r into dir.
	Unpack(ctx context.Context, r io.Reader, dir string) error
}

// Chain is one variant of each family, applied in the order
// pack, compress, encrypt on upload and the reverse on download.
type Chain struct {
	Filetype    Filetype
	Compression Compression
	Encryption  Encryption
}

// Extension returns the combined archive name suffix.
func (c Chain) Extension() string {
	return c.Filetype.Extension() + c.Compression.Extension() + c.Encryption.Extension()
}

// Upload returns a stream of the packed, compressed and encrypted paths.
// Packing runs in its own goroutine; closing the stream stops it.
func (c Chain) Upload(ctx context.Context, paths []string) stream.Stream {
	return stream.Pipe(func(w io.Writer) error {
		enc, err := c.Encryption.Encrypt(w)
		if err != nil {
			return fmt.Errorf("%s encryption: %w", c.Encryption.Name(), err)
		}
		comp, err := c.Compression.Compress(enc)
		if err != nil {
			return fmt.Errorf("%s compression: %w", c.Compression.Name(), err)
		}
		if err := c.Filetype.Pack(ctx, comp, paths); err != nil {
			return fmt.Errorf("%s packing: %w", c.Filetype.Name(), err)
		}
		if err := comp.Close(); err != nil {
			return fmt.Errorf("%s compression: %w", c.Compression.Name(), err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("%s encryption: %w", c.Encryption.Name(), err)
		}
		return nil
	})
}

// Open returns a reader of the decrypted, decompressed container read
// from src. The caller closes the reader.
func (c Chain) Open(ctx context.Context, src stream.Stream) (io.ReadCloser, error) {
	raw := stream.NewReader(ctx, src)
	plain, err := c.Encryption.Decrypt(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%s decryption: %w", c.Encryption.Name(), err)
	}
	dec, err := c.Compression.Decompress(plain)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("%s decompression: %w", c.Compression.Name(), err)
	}
	return readCloser{Reader: dec, close: func() error {
		return errors.Join(dec.Close(), raw.Close())
	}}, nil
}

// Compress applies a compression variant to a stream.
func Compress(ctx context.Context, c Compression, src stream.Stream) stream.Stream {
	return Forward(ctx, src, c.Compress)
}

// Decompress reverses Compress.
func Decompress(ctx context.Context, c Compression, src stream.Stream) (stream.Stream, error) {
	r := stream.NewReader(ctx, src)
	dec, err := c.Decompress(r)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return stream.FromReader(readCloser{Reader: dec, close: func() error {
		return errors.Join(dec.Close(), r.Close())
	}}, stream.DefaultBlockSize), nil
}

// Encrypt applies an encryption variant to a stream.
func Encrypt(ctx context.Context, e Encryption, src stream.Stream) stream.Stream {
	return Forward(ctx, src, e.Encrypt)
}

// Decrypt reverses Encrypt.
func Decrypt(ctx context.Context, e Encryption, src stream.Stream) (stream.Stream, error) {
	r := stream.NewReader(ctx, src)
	plain, err := e.Decrypt(r)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return stream.FromReader(readCloser{Reader: plain, close: r.Close}, stream.DefaultBlockSize), nil
}

// Forward pipes src through the writer returned by wrap.
func Forward(ctx context.Context, src stream.Stream, wrap func(io.Writer) (io.WriteCloser, error)) stream.Stream {
	return stream.Pipe(func(w io.Writer) error {
		fw, err := wrap(w)
		if err != nil {
			return err
		}
		if _, err := stream.Drain(ctx, fw, src); err != nil {
			return err
		}
		return fw.Close()
	})
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// hideCloser keeps wrappers that close their destination from closing w.
func hideCloser(w io.Writer) io.Writer { return struct{ io.Writer }{w} }

// safeJoin resolves an archive member name inside dir, rejecting names
// that would escape it.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes destination", name)
	}
	return filepath.Join(dir, clean), nil
}
