package types

import "fmt"

// TransferType identifies the backend an archive was transferred with.
type TransferType string

const (
	// TransferSave writes the archive to a local directory.
	TransferSave TransferType = "save"
	// TransferGlacier uploads to an archival vault.
	TransferGlacier TransferType = "glacier"
	// TransferS3 uploads to an object store bucket in a deep-archive class.
	TransferS3 TransferType = "s3"
)

// ParseTransferType parses a transfer method name.
func ParseTransferType(s string) (TransferType, error) {
	switch TransferType(s) {
	case TransferSave, TransferGlacier, TransferS3:
		return TransferType(s), nil
	default:
		return "", fmt.Errorf("unknown transfer method %q (valid: save, glacier, s3)", s)
	}
}

// TransferInfo describes a completed upload. It is persisted in the ledger
// and read back to locate the archive on download.
type TransferInfo struct {
	// DryRun is set when no remote calls were made.
	DryRun bool `json:"dryrun" yaml:"dryrun"`
	// Method is the backend the archive lives in.
	Method TransferType `json:"method" yaml:"method"`
	// Region is the remote region (empty for save).
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Vault is the vault or bucket holding the archive (empty for save).
	Vault string `json:"vault,omitempty" yaml:"vault,omitempty"`
	// FileName is the archive name including all filter extensions.
	FileName string `json:"file_name" yaml:"file_name"`
	// ArchiveID is the store-assigned archive identifier.
	ArchiveID string `json:"archive_id" yaml:"archive_id"`
	// Checksum is the hex tree hash over the archive.
	Checksum string `json:"checksum" yaml:"checksum"`
	// Size is the archive size in bytes.
	Size int64 `json:"size_in_bytes" yaml:"size_in_bytes"`
	// HumanReadableSize is Size formatted for display.
	HumanReadableSize string `json:"human_readable_size" yaml:"human_readable_size"`
	// SessionID is the multipart upload session identifier.
	SessionID string `json:"upload_id" yaml:"upload_id"`
	// Location is the store-reported archive location.
	Location string `json:"location" yaml:"location"`
	// Parts is the number of parts uploaded.
	Parts int `json:"parts" yaml:"parts"`
}
