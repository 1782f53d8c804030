package filter

import (
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression level bounds shared by the leveled variants.
const (
	MinCompressionLevel     = 1
	MaxCompressionLevel     = 9
	DefaultCompressionLevel = 6
)

// Compression variant names.
const (
	CompressionNone  = "none"
	CompressionLzma  = "lzma"
	CompressionBzip2 = "bzip2"
	CompressionZstd  = "zstd"
	CompressionLz4   = "lz4"
)

// CompressionNames lists the selectable compression variants.
var CompressionNames = []string{CompressionNone, CompressionLzma, CompressionBzip2, CompressionZstd, CompressionLz4}

// NewCompression returns the variant called name. level is ignored by
// variants without levels and must lie in [1, 9] otherwise.
func NewCompression(name string, level int) (Compression, error) {
	switch name {
	case CompressionNone, "":
		return noCompression{}, nil
	case CompressionBzip2:
		return bzip2Compression{}, nil
	}
	if level < MinCompressionLevel || level > MaxCompressionLevel {
		return nil, fmt.Errorf("compression level %d outside [%d, %d]", level, MinCompressionLevel, MaxCompressionLevel)
	}
	switch name {
	case CompressionLzma:
		return lzmaCompression{level: level}, nil
	case CompressionZstd:
		return zstdCompression{level: level}, nil
	case CompressionLz4:
		return lz4Compression{level: level}, nil
	}
	return nil, fmt.Errorf("%w: compression %q", ErrUnknownVariant, name)
}

// CompressionForExtension returns the variant tagged ext, at the default
// level. Decompression does not depend on the level.
func CompressionForExtension(ext string) (Compression, error) {
	for _, name := range CompressionNames {
		c, _ := NewCompression(name, DefaultCompressionLevel)
		if c.Extension() == ext {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: compression extension %q", ErrUnknownVariant, ext)
}

type noCompression struct{}

func (noCompression) Name() string      { return CompressionNone }
func (noCompression) Extension() string { return "" }

func (noCompression) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noCompression) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// lzmaCompression writes the xz container.
type lzmaCompression struct{ level int }

func (lzmaCompression) Name() string      { return CompressionLzma }
func (lzmaCompression) Extension() string { return ".xz" }

// lzmaDictCap follows the xz preset dictionary sizes.
var lzmaDictCap = [...]int{
	1: 1 << 20,
	2: 2 << 20,
	3: 4 << 20,
	4: 4 << 20,
	5: 8 << 20,
	6: 8 << 20,
	7: 16 << 20,
	8: 32 << 20,
	9: 64 << 20,
}

func (c lzmaCompression) Compress(w io.Writer) (io.WriteCloser, error) {
	cfg := xz.WriterConfig{DictCap: lzmaDictCap[c.level]}
	return cfg.NewWriter(w)
}

func (lzmaCompression) Decompress(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

// bzip2Compression can only decompress; the standard library has no encoder.
type bzip2Compression struct{}

func (bzip2Compression) Name() string      { return CompressionBzip2 }
func (bzip2Compression) Extension() string { return ".bz2" }

func (bzip2Compression) Compress(io.Writer) (io.WriteCloser, error) {
	return nil, fmt.Errorf("bzip2 compression: %w", ErrNotImplemented)
}

func (bzip2Compression) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

type zstdCompression struct{ level int }

func (zstdCompression) Name() string      { return CompressionZstd }
func (zstdCompression) Extension() string { return ".zst" }

func (c zstdCompression) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
}

func (zstdCompression) Decompress(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type lz4Compression struct{ level int }

func (lz4Compression) Name() string      { return CompressionLz4 }
func (lz4Compression) Extension() string { return ".lz4" }

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func (c lz4Compression) Compress(w io.Writer) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[c.level])); err != nil {
		return nil, err
	}
	return zw, nil
}

func (lz4Compression) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
