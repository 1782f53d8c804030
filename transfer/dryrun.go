package transfer

import "context"

// Placeholder identifiers substituted for remote responses in dry-run mode.
const (
	DryRunUploadID  = "DRY_RUN_UPLOAD_ID"
	DryRunLocation  = "DRY_RUN_LOCATION"
	DryRunArchiveID = "DRY_RUN_ARCHIVE_ID"
)

// dryRunStore answers every upload call locally with deterministic
// placeholders. It still reports the target of the store it stands in for.
type dryRunStore struct {
	target Target
}

func (s dryRunStore) Target() Target { return s.target }

func (dryRunStore) InitiateUpload(context.Context, string, int64) (Session, error) {
	return Session{ID: DryRunUploadID, Location: DryRunLocation}, nil
}

func (dryRunStore) UploadPart(_ context.Context, _ string, _ ByteRange, _ []byte, checksum string) (string, error) {
	return checksum, nil
}

func (dryRunStore) CompleteUpload(_ context.Context, _ string, _ int64, checksum string) (Archive, error) {
	return Archive{ID: DryRunArchiveID, Checksum: checksum, Location: DryRunLocation}, nil
}

func (dryRunStore) AbortUpload(context.Context, string) error { return nil }
