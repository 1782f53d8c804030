package cmd

import (
	"context"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/config"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer/glacier"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer/s3archive"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer/save"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// location names the place an archive is written to or read from.
type location struct {
	method types.TransferType
	region string
	// vault is the vault name, bucket or directory.
	vault  string
	prefix string
}

// uploadLocation resolves the upload target from flags and settings.
func (e *env) uploadLocation(method types.TransferType) location {
	loc := location{method: method}
	switch method {
	case types.TransferSave:
		loc.vault = e.str("save-location", config.KeySaveLocation, "")
	case types.TransferGlacier:
		loc.region = e.str("region", config.KeyRegion, "")
		loc.vault = e.str("vault", config.KeyVault, "")
	case types.TransferS3:
		loc.region = e.str("region", config.KeyRegion, "")
		// --bucket accepts "bucket/prefix"; an explicit prefix wins.
		var prefix string
		loc.vault, prefix = s3archive.ParseS3Path(e.str("bucket", config.KeyBucket, ""))
		loc.prefix = e.str("prefix", config.KeyPrefix, prefix)
	}
	return loc
}

// openStore builds the backend for loc. Missing coordinates are
// configuration errors, reported before any remote call.
func (e *env) openStore(ctx context.Context, loc location) (transfer.Store, error) {
	accessKey := e.str("", config.KeyAccessKeyID, "")
	secretKey := e.str("", config.KeySecretAccessKey, "")
	awsProfile := e.str("", config.KeyAWSProfile, "")

	switch loc.method {
	case types.TransferSave:
		if loc.vault == "" {
			return nil, transfer.ConfigError("store", "save transfer needs a save location (--save-location or %s)", config.KeySaveLocation)
		}
		store, err := save.New(loc.vault)
		if err != nil {
			return nil, transfer.ConfigError("store", "%v", err)
		}
		return store, nil

	case types.TransferGlacier:
		cfg := glacier.Config{
			Region:          loc.region,
			Vault:           loc.vault,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Profile:         awsProfile,
		}
		if err := cfg.Validate(); err != nil {
			return nil, transfer.ConfigError("store", "%v", err)
		}
		store, err := glacier.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil

	case types.TransferS3:
		cfg := s3archive.Config{
			Bucket:          loc.vault,
			Prefix:          loc.prefix,
			Region:          loc.region,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Profile:         awsProfile,
		}
		if err := cfg.Validate(); err != nil {
			return nil, transfer.ConfigError("store", "%v", err)
		}
		store, err := s3archive.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, transfer.ConfigError("store", "unknown transfer method %q", loc.method)
}
