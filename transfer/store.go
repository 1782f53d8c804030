package transfer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// ByteRange is an inclusive range of archive offsets.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered.
func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

// ContentRange formats the range for a part upload: "bytes a-b/*".
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/*", r.Start, r.End)
}

// HTTPRange formats the range for a ranged read: "bytes=a-b".
func (r ByteRange) HTTPRange() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ParseContentRange parses "bytes a-b/*" or "bytes a-b/total". The total is ignored.
func ParseContentRange(s string) (ByteRange, error) {
	spec, ok := strings.CutPrefix(s, "bytes ")
	if !ok {
		return ByteRange{}, fmt.Errorf("invalid content range %q", s)
	}
	spec, _, _ = strings.Cut(spec, "/")
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("invalid content range %q", s)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return ByteRange{}, fmt.Errorf("invalid content range start %q: %w", s, err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return ByteRange{}, fmt.Errorf("invalid content range end %q: %w", s, err)
	}
	if start < 0 || end < start {
		return ByteRange{}, fmt.Errorf("invalid content range %q", s)
	}
	return ByteRange{Start: start, End: end}, nil
}

// CheckContentRange reports an error when a ranged read's Content-Range
// response header covers anything other than want. An empty header is
// accepted: not every store echoes it.
func CheckContentRange(header string, want ByteRange) error {
	if header == "" {
		return nil
	}
	got, err := ParseContentRange(header)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("ranged read returned bytes %d-%d, requested %d-%d", got.Start, got.End, want.Start, want.End)
	}
	return nil
}

// Session is an open multipart upload.
type Session struct {
	ID       string
	Location string
}

// Archive is a finalized upload.
type Archive struct {
	ID       string
	Checksum string
	Location string
}

// JobStatus is the state of a retrieval job.
type JobStatus string

// Retrieval job states as reported by the store.
const (
	JobInProgress JobStatus = "InProgress"
	JobSucceeded  JobStatus = "Succeeded"
	JobFailed     JobStatus = "Failed"
)

// ActionArchiveRetrieval is the job action for archive retrievals.
const ActionArchiveRetrieval = "ArchiveRetrieval"

// Job describes a retrieval job.
type Job struct {
	ID            string
	Action        string
	ArchiveID     string
	Status        JobStatus
	StatusMessage string
	// Size is the archive size in bytes, zero if the store does not report it.
	Size int64
	// TreeHash is the archive's tree hash, empty if not reported.
	TreeHash string
}

// JobOutput is one ranged read of a retrieval job's output.
type JobOutput struct {
	// Checksum is the store's tree hash of Body, empty if not provided.
	Checksum string
	Body     []byte
}

// Target names where a store puts archives. It is recorded with each upload.
type Target struct {
	Method types.TransferType
	Region string
	Vault  string
}

// MultipartStore is the upload half of a remote archival store.
// A store instance is bound to a single vault.
type MultipartStore interface {
	// Target describes the vault this store writes to.
	Target() Target
	// InitiateUpload opens a multipart session with the given part size.
	InitiateUpload(ctx context.Context, description string, partSize int64) (Session, error)
	// UploadPart uploads body at the given range and returns the store's
	// checksum for it. checksum is the caller's tree hash of body.
	UploadPart(ctx context.Context, sessionID string, r ByteRange, body []byte, checksum string) (string, error)
	// CompleteUpload finalizes the session into an archive.
	CompleteUpload(ctx context.Context, sessionID string, size int64, checksum string) (Archive, error)
	// AbortUpload discards the session and its uploaded parts.
	AbortUpload(ctx context.Context, sessionID string) error
}

// RetrievalStore is the download half of a remote archival store.
type RetrievalStore interface {
	// InitiateRetrieval starts a job staging archiveID for download.
	InitiateRetrieval(ctx context.Context, archiveID string) (string, error)
	// ListJobs returns the vault's known jobs.
	ListJobs(ctx context.Context) ([]Job, error)
	// DescribeJob returns the current state of a job.
	DescribeJob(ctx context.Context, jobID string) (Job, error)
	// GetJobOutput reads a range of a succeeded job's output.
	GetJobOutput(ctx context.Context, jobID string, r ByteRange) (JobOutput, error)
}

// Store is a complete archival store backend.
type Store interface {
	MultipartStore
	RetrievalStore
}
