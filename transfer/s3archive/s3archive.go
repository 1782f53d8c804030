// Package s3archive implements transfer.Store on S3 archive storage
// classes (DEEP_ARCHIVE or GLACIER).
//
// An archive is one object. Uploads use S3 multipart uploads; retrievals
// are restore requests whose progress is read from the object's restore
// header. The archive id is the object key.
package s3archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// DefaultRestoreDays is how long a restored copy stays readable.
const DefaultRestoreDays = 7

// MinPartSize is the smallest part S3 accepts for any part but the last.
const MinPartSize = 5 << 20

// API is the subset of the S3 client used by Store.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	RestoreObject(ctx context.Context, in *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds configuration for the S3 archive backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
	// StorageClass is DEEP_ARCHIVE (default) or GLACIER.
	StorageClass string
	// Tier is the restore tier: Standard (default) or Bulk.
	Tier string
	// RestoreDays is the lifetime of the restored copy. Zero selects DefaultRestoreDays.
	RestoreDays int32
	// AccessKeyID and SecretAccessKey are static credentials. Empty uses
	// the SDK default credential chain.
	AccessKeyID     string
	SecretAccessKey string
	// Profile selects a named profile from the shared AWS config files.
	Profile string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	switch s3types.StorageClass(c.StorageClass) {
	case "", s3types.StorageClassDeepArchive, s3types.StorageClassGlacier:
	default:
		return fmt.Errorf("storage class %q is not an archive class", c.StorageClass)
	}
	switch s3types.Tier(c.Tier) {
	case "", s3types.TierStandard, s3types.TierBulk, s3types.TierExpedited:
	default:
		return fmt.Errorf("unknown restore tier %q", c.Tier)
	}
	if c.RestoreDays < 0 {
		return fmt.Errorf("restore days must not be negative, got %d", c.RestoreDays)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access key id and secret access key must be set together")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(p string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, prefix
}

type upload struct {
	key      string
	partSize int64
	parts    []s3types.CompletedPart
}

// Store is a transfer.Store backed by an S3 bucket.
type Store struct {
	api API
	cfg Config

	mu      sync.Mutex
	uploads map[string]*upload
}

var _ transfer.Store = (*Store)(nil)

// New creates a Store with an S3 client built from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewWithAPI(s3.NewFromConfig(awsConfig, s3Opts...), cfg)
}

// NewWithAPI creates a Store using an existing client.
func NewWithAPI(api API, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StorageClass == "" {
		cfg.StorageClass = string(s3types.StorageClassDeepArchive)
	}
	if cfg.Tier == "" {
		cfg.Tier = string(s3types.TierStandard)
	}
	if cfg.RestoreDays == 0 {
		cfg.RestoreDays = DefaultRestoreDays
	}
	return &Store{api: api, cfg: cfg, uploads: make(map[string]*upload)}, nil
}

// Target describes the bucket. The bucket takes the vault slot.
func (s *Store) Target() transfer.Target {
	return transfer.Target{Method: types.TransferS3, Region: s.cfg.Region, Vault: s.cfg.Bucket}
}

func (s *Store) key(description string) string {
	if s.cfg.Prefix == "" {
		return description
	}
	return path.Join(s.cfg.Prefix, description)
}

// InitiateUpload creates a multipart upload for the object named by description.
func (s *Store) InitiateUpload(ctx context.Context, description string, partSize int64) (transfer.Session, error) {
	if partSize < MinPartSize {
		return transfer.Session{}, transfer.ConfigError("initiate", "S3 part size must be at least %d MiB, got %d bytes", MinPartSize>>20, partSize)
	}
	key := s.key(description)
	out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(key),
		StorageClass: s3types.StorageClass(s.cfg.StorageClass),
	})
	if err != nil {
		return transfer.Session{}, err
	}
	id := aws.ToString(out.UploadId)
	if id == "" {
		return transfer.Session{}, errors.New("create multipart upload returned no upload id")
	}

	s.mu.Lock()
	s.uploads[id] = &upload{key: key, partSize: partSize}
	s.mu.Unlock()
	return transfer.Session{ID: id, Location: "s3://" + s.cfg.Bucket + "/" + key}, nil
}

func (s *Store) upload(id string) (*upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("unknown upload %s", id)
	}
	return u, nil
}

// UploadPart sends one part. S3 reports an ETag rather than a tree hash,
// so the returned checksum is empty.
func (s *Store) UploadPart(ctx context.Context, sessionID string, r transfer.ByteRange, body []byte, _ string) (string, error) {
	u, err := s.upload(sessionID)
	if err != nil {
		return "", err
	}
	number := int32(r.Start/u.partSize) + 1
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(sessionID),
		PartNumber:    aws.Int32(number),
		ContentLength: aws.Int64(int64(len(body))),
		Body:          bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	u.parts = append(u.parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	s.mu.Unlock()
	return "", nil
}

// CompleteUpload assembles the object from the uploaded parts. The tree
// hash is kept as the archive checksum; S3 does not verify it.
func (s *Store) CompleteUpload(ctx context.Context, sessionID string, _ int64, checksum string) (transfer.Archive, error) {
	u, err := s.upload(sessionID)
	if err != nil {
		return transfer.Archive{}, err
	}

	s.mu.Lock()
	parts := append([]s3types.CompletedPart(nil), u.parts...)
	s.mu.Unlock()
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.cfg.Bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(sessionID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return transfer.Archive{}, err
	}

	s.mu.Lock()
	delete(s.uploads, sessionID)
	s.mu.Unlock()

	location := aws.ToString(out.Location)
	if location == "" {
		location = "s3://" + s.cfg.Bucket + "/" + u.key
	}
	return transfer.Archive{ID: u.key, Checksum: checksum, Location: location}, nil
}

// AbortUpload discards the upload and its parts.
func (s *Store) AbortUpload(ctx context.Context, sessionID string) error {
	u, err := s.upload(sessionID)
	if err != nil {
		return err
	}
	_, err = s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.uploads, sessionID)
	s.mu.Unlock()
	return nil
}

// InitiateRetrieval requests a restore of the object. The job id is the
// object key. A restore already in progress is not an error.
func (s *Store) InitiateRetrieval(ctx context.Context, archiveID string) (string, error) {
	_, err := s.api.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(archiveID),
		RestoreRequest: &s3types.RestoreRequest{
			Days:                 aws.Int32(s.cfg.RestoreDays),
			GlacierJobParameters: &s3types.GlacierJobParameters{Tier: s3types.Tier(s.cfg.Tier)},
		},
	})
	if err != nil && !hasErrorCode(err, "RestoreAlreadyInProgress") {
		return "", err
	}
	return archiveID, nil
}

// ListJobs returns nothing: restores are not enumerable, and
// InitiateRetrieval is idempotent.
func (s *Store) ListJobs(context.Context) ([]transfer.Job, error) {
	return nil, nil
}

// DescribeJob reads the restore status of the object named by jobID.
func (s *Store) DescribeJob(ctx context.Context, jobID string) (transfer.Job, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(jobID),
	})
	if err != nil {
		return transfer.Job{}, err
	}
	job := transfer.Job{
		ID:        jobID,
		Action:    transfer.ActionArchiveRetrieval,
		ArchiveID: jobID,
		Size:      aws.ToInt64(out.ContentLength),
	}
	job.Status, job.StatusMessage = restoreStatus(out.StorageClass, aws.ToString(out.Restore))
	return job, nil
}

// restoreStatus interprets the x-amz-restore header.
func restoreStatus(class s3types.StorageClass, restore string) (transfer.JobStatus, string) {
	switch {
	case strings.Contains(restore, `ongoing-request="true"`):
		return transfer.JobInProgress, "restore in progress"
	case strings.Contains(restore, `ongoing-request="false"`):
		return transfer.JobSucceeded, restore
	case class != s3types.StorageClassDeepArchive && class != s3types.StorageClassGlacier:
		return transfer.JobSucceeded, "object is not archived"
	default:
		return transfer.JobFailed, "no restore requested for archived object"
	}
}

// GetJobOutput reads one range of the restored object.
func (s *Store) GetJobOutput(ctx context.Context, jobID string, r transfer.ByteRange) (transfer.JobOutput, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(jobID),
		Range:  aws.String(r.HTTPRange()),
	})
	if err != nil {
		return transfer.JobOutput{}, err
	}
	defer iox.DiscardClose(out.Body)
	if err := transfer.CheckContentRange(aws.ToString(out.ContentRange), r); err != nil {
		return transfer.JobOutput{}, fmt.Errorf("get %s: %w", jobID, err)
	}

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return transfer.JobOutput{}, fmt.Errorf("read %s %s: %w", jobID, r.HTTPRange(), err)
	}
	return transfer.JobOutput{Body: body}, nil
}

func hasErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
