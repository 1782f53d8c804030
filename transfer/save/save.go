// Package save implements transfer.Store on a local directory.
//
// Parts are written in place into <dir>/<name>.partial and the finished
// archive is renamed to <dir>/<name> once its tree hash verifies.
// Retrieval jobs are ready immediately.
package save

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/treehash"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

const partialSuffix = ".partial"

// Store is a transfer.Store writing archives into a directory.
type Store struct {
	dir string

	mu      sync.Mutex
	uploads map[string]string // session id -> archive name
}

var _ transfer.Store = (*Store)(nil)

// New returns a Store writing into dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("save directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve save directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	return &Store{dir: abs, uploads: make(map[string]string)}, nil
}

// Dir returns the target directory.
func (s *Store) Dir() string { return s.dir }

// Target describes the directory.
func (s *Store) Target() transfer.Target {
	return transfer.Target{Method: types.TransferSave, Vault: s.dir}
}

func (s *Store) stagingPath(name string) string {
	return filepath.Join(s.dir, name+partialSuffix)
}

func (s *Store) archivePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, partialSuffix) {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *Store) upload(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.uploads[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown upload %s", sessionID)
	}
	return name, nil
}

// InitiateUpload creates the staging file for an archive named description.
func (s *Store) InitiateUpload(_ context.Context, description string, _ int64) (transfer.Session, error) {
	dst, err := s.archivePath(description)
	if err != nil {
		return transfer.Session{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return transfer.Session{}, fmt.Errorf("archive %s already exists", dst)
	}

	id := uuid.New().String()
	f, err := os.OpenFile(s.stagingPath(description), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return transfer.Session{}, fmt.Errorf("create staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return transfer.Session{}, err
	}

	s.mu.Lock()
	s.uploads[id] = description
	s.mu.Unlock()
	return transfer.Session{ID: id, Location: dst}, nil
}

// UploadPart writes body at its offset in the staging file.
func (s *Store) UploadPart(_ context.Context, sessionID string, r transfer.ByteRange, body []byte, _ string) (string, error) {
	name, err := s.upload(sessionID)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(s.stagingPath(name), os.O_WRONLY, 0)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)

	if _, err := f.WriteAt(body, r.Start); err != nil {
		return "", fmt.Errorf("write %s: %w", r.ContentRange(), err)
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	return treehash.SumHex(body), nil
}

// CompleteUpload verifies the staging file and moves it into place.
func (s *Store) CompleteUpload(_ context.Context, sessionID string, size int64, checksum string) (transfer.Archive, error) {
	name, err := s.upload(sessionID)
	if err != nil {
		return transfer.Archive{}, err
	}
	staging := s.stagingPath(name)

	sum, n, err := fileTreeHash(staging)
	if err != nil {
		return transfer.Archive{}, err
	}
	if n != size {
		return transfer.Archive{}, fmt.Errorf("staged %d bytes, expected %d", n, size)
	}
	if sum != checksum {
		return transfer.Archive{}, fmt.Errorf("staged tree hash %s, expected %s", sum, checksum)
	}

	dst, err := s.archivePath(name)
	if err != nil {
		return transfer.Archive{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return transfer.Archive{}, fmt.Errorf("archive %s already exists", dst)
	}
	if err := os.Rename(staging, dst); err != nil {
		return transfer.Archive{}, fmt.Errorf("publish archive: %w", err)
	}

	s.mu.Lock()
	delete(s.uploads, sessionID)
	s.mu.Unlock()
	return transfer.Archive{ID: name, Checksum: sum, Location: dst}, nil
}

// AbortUpload removes the staging file.
func (s *Store) AbortUpload(_ context.Context, sessionID string) error {
	name, err := s.upload(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.uploads, sessionID)
	s.mu.Unlock()
	if err := os.Remove(s.stagingPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// InitiateRetrieval checks that the archive exists. The job id is the
// archive name.
func (s *Store) InitiateRetrieval(_ context.Context, archiveID string) (string, error) {
	p, err := s.archivePath(archiveID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return archiveID, nil
}

// ListJobs returns nothing; local archives need no staging.
func (s *Store) ListJobs(context.Context) ([]transfer.Job, error) {
	return nil, nil
}

// DescribeJob reports the archive as ready.
func (s *Store) DescribeJob(_ context.Context, jobID string) (transfer.Job, error) {
	p, err := s.archivePath(jobID)
	if err != nil {
		return transfer.Job{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return transfer.Job{}, err
	}
	return transfer.Job{
		ID:        jobID,
		Action:    transfer.ActionArchiveRetrieval,
		ArchiveID: jobID,
		Status:    transfer.JobSucceeded,
		Size:      fi.Size(),
	}, nil
}

// GetJobOutput reads one range of the archive and its tree hash.
func (s *Store) GetJobOutput(_ context.Context, jobID string, r transfer.ByteRange) (transfer.JobOutput, error) {
	p, err := s.archivePath(jobID)
	if err != nil {
		return transfer.JobOutput{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		return transfer.JobOutput{}, err
	}
	defer iox.DiscardClose(f)

	body := make([]byte, r.Len())
	if _, err := f.ReadAt(body, r.Start); err != nil {
		if errors.Is(err, io.EOF) {
			return transfer.JobOutput{}, fmt.Errorf("range %s beyond end of %s", r.HTTPRange(), jobID)
		}
		return transfer.JobOutput{}, err
	}
	return transfer.JobOutput{Checksum: treehash.SumHex(body), Body: body}, nil
}

func fileTreeHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer iox.DiscardClose(f)

	w := treehash.NewWriter()
	if _, err := io.Copy(w, f); err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return w.SumHex(), w.Size(), nil
}
