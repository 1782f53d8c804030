package filter

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
)

// Filetype variant names.
const (
	FiletypeNone = "none"
	FiletypeZip  = "zip"
	FiletypeTar  = "tar"
)

// FiletypeNames lists the selectable container variants.
var FiletypeNames = []string{FiletypeNone, FiletypeZip, FiletypeTar}

// Zip member compression bounds. Level 0 stores members uncompressed.
const (
	MinZipLevel     = 0
	MaxZipLevel     = 9
	DefaultZipLevel = 0
)

// NewFiletype returns the variant called name. zipLevel only applies to zip.
func NewFiletype(name string, zipLevel int) (Filetype, error) {
	switch name {
	case FiletypeNone, "":
		return noFiletype{}, nil
	case FiletypeZip:
		if zipLevel < MinZipLevel || zipLevel > MaxZipLevel {
			return nil, fmt.Errorf("zip compression level %d outside [%d, %d]", zipLevel, MinZipLevel, MaxZipLevel)
		}
		return zipFiletype{level: zipLevel}, nil
	case FiletypeTar:
		return tarFiletype{}, nil
	}
	return nil, fmt.Errorf("%w: filetype %q", ErrUnknownVariant, name)
}

// FiletypeForExtension returns the variant tagged ext.
func FiletypeForExtension(ext string) (Filetype, error) {
	for _, name := range FiletypeNames {
		ft, _ := NewFiletype(name, DefaultZipLevel)
		if ft.Extension() == ext {
			return ft, nil
		}
	}
	return nil, fmt.Errorf("%w: filetype extension %q", ErrUnknownVariant, ext)
}

// member is one regular file or directory to pack, with its archive name.
type member struct {
	path string
	name string
	info fs.FileInfo
}

// walkMembers expands paths into members. A directory is packed under its
// own base name; a file under its base name.
func walkMembers(ctx context.Context, paths []string, fn func(member) error) error {
	if len(paths) == 0 {
		return errors.New("no paths to pack")
	}
	for _, root := range paths {
		root = filepath.Clean(root)
		parent := filepath.Dir(root)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(parent, p)
			if err != nil {
				return err
			}
			return fn(member{path: p, name: filepath.ToSlash(rel), info: info})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)
	_, err = io.Copy(w, f)
	return err
}

// writeFile restores an archive member, keeping its permission bits but
// always owner-writable.
func writeFile(path string, r io.Reader, mode fs.FileMode) error {
	_, err := iox.CreateFile(path, r, mode.Perm()|0o200)
	return err
}

// noFiletype passes a single file through without a container.
type noFiletype struct{}

func (noFiletype) Name() string      { return FiletypeNone }
func (noFiletype) Extension() string { return "" }

func (noFiletype) Pack(ctx context.Context, w io.Writer, paths []string) error {
	if len(paths) != 1 {
		return fmt.Errorf("without a container exactly one file can be uploaded, got %d paths", len(paths))
	}
	info, err := os.Stat(paths[0])
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", paths[0])
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return copyFile(w, paths[0])
}

func (noFiletype) Unpack(context.Context, io.Reader, string) error {
	return fmt.Errorf("archive has no container to unpack: %w", ErrNotImplemented)
}

type zipFiletype struct{ level int }

func (zipFiletype) Name() string      { return FiletypeZip }
func (zipFiletype) Extension() string { return ".zip" }

func (z zipFiletype) Pack(ctx context.Context, w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	if z.level > 0 {
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, z.level)
		})
	}

	err := walkMembers(ctx, paths, func(m member) error {
		hdr, err := zip.FileInfoHeader(m.info)
		if err != nil {
			return err
		}
		hdr.Name = m.name
		if m.info.IsDir() {
			hdr.Name += "/"
			_, err := zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Store
		if z.level > 0 {
			hdr.Method = zip.Deflate
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(fw, m.path)
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// Unpack spools the stream to a temporary file because the zip central
// directory sits at the end.
func (zipFiletype) Unpack(ctx context.Context, r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ecsu-unpack-*.zip")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("spool zip: %w", err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := safeJoin(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(dst, rc, f.Mode())
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

type tarFiletype struct{}

func (tarFiletype) Name() string      { return FiletypeTar }
func (tarFiletype) Extension() string { return ".tar" }

func (tarFiletype) Pack(ctx context.Context, w io.Writer, paths []string) error {
	tw := tar.NewWriter(w)
	err := walkMembers(ctx, paths, func(m member) error {
		hdr, err := tar.FileInfoHeader(m.info, "")
		if err != nil {
			return err
		}
		hdr.Name = m.name
		if m.info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if m.info.IsDir() {
			return nil
		}
		return copyFile(tw, m.path)
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func (tarFiletype) Unpack(ctx context.Context, r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		dst, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(dst, tr, hdr.FileInfo().Mode()); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		}
	}
}
