// Package glacier implements transfer.Store on Amazon S3 Glacier vaults.
//
// Uploads use the multipart upload API with a tree-hash checksum per part.
// Retrievals use archive-retrieval jobs whose output is read in byte ranges.
package glacier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	gtypes "github.com/aws/aws-sdk-go-v2/service/glacier/types"

	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// accountID "-" selects the account owning the credentials.
const accountID = "-"

// Retrieval tiers accepted by Glacier.
const (
	TierExpedited = "Expedited"
	TierStandard  = "Standard"
	TierBulk      = "Bulk"
)

// API is the subset of the Glacier client used by Store.
type API interface {
	InitiateMultipartUpload(ctx context.Context, in *glacier.InitiateMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.InitiateMultipartUploadOutput, error)
	UploadMultipartPart(ctx context.Context, in *glacier.UploadMultipartPartInput, optFns ...func(*glacier.Options)) (*glacier.UploadMultipartPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *glacier.CompleteMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *glacier.AbortMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.AbortMultipartUploadOutput, error)
	InitiateJob(ctx context.Context, in *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	ListJobs(ctx context.Context, in *glacier.ListJobsInput, optFns ...func(*glacier.Options)) (*glacier.ListJobsOutput, error)
	DescribeJob(ctx context.Context, in *glacier.DescribeJobInput, optFns ...func(*glacier.Options)) (*glacier.DescribeJobOutput, error)
	GetJobOutput(ctx context.Context, in *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
}

// Config holds the vault coordinates and credentials.
type Config struct {
	// Region is the AWS region (required).
	Region string
	// Vault is the vault name (required).
	Vault string
	// Tier is the retrieval tier. Empty selects TierStandard.
	Tier string
	// AccessKeyID and SecretAccessKey are static credentials. Empty uses
	// the SDK default credential chain.
	AccessKeyID     string
	SecretAccessKey string
	// Profile selects a named profile from the shared AWS config files.
	Profile string
	// Endpoint overrides the service endpoint, e.g. for a local emulator.
	Endpoint string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("glacier region is required")
	}
	if c.Vault == "" {
		return errors.New("glacier vault is required")
	}
	switch c.Tier {
	case "", TierExpedited, TierStandard, TierBulk:
	default:
		return fmt.Errorf("unknown retrieval tier %q", c.Tier)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access key id and secret access key must be set together")
	}
	return nil
}

// Store is a transfer.Store backed by a Glacier vault.
type Store struct {
	api  API
	cfg  Config
	tier string
}

var _ transfer.Store = (*Store)(nil)

// New creates a Store with a Glacier client built from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
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

	var clientOpts []func(*glacier.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		clientOpts = append(clientOpts, func(o *glacier.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return NewWithAPI(glacier.NewFromConfig(awsConfig, clientOpts...), cfg)
}

// NewWithAPI creates a Store using an existing client.
func NewWithAPI(api API, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tier := cfg.Tier
	if tier == "" {
		tier = TierStandard
	}
	return &Store{api: api, cfg: cfg, tier: tier}, nil
}

// Target describes the vault.
func (s *Store) Target() transfer.Target {
	return transfer.Target{Method: types.TransferGlacier, Region: s.cfg.Region, Vault: s.cfg.Vault}
}

// InitiateUpload opens a multipart upload.
func (s *Store) InitiateUpload(ctx context.Context, description string, partSize int64) (transfer.Session, error) {
	out, err := s.api.InitiateMultipartUpload(ctx, &glacier.InitiateMultipartUploadInput{
		AccountId:          aws.String(accountID),
		VaultName:          aws.String(s.cfg.Vault),
		ArchiveDescription: aws.String(description),
		PartSize:           aws.String(strconv.FormatInt(partSize, 10)),
	})
	if err != nil {
		return transfer.Session{}, err
	}
	if aws.ToString(out.UploadId) == "" {
		return transfer.Session{}, errors.New("initiate multipart upload returned no upload id")
	}
	return transfer.Session{ID: aws.ToString(out.UploadId), Location: aws.ToString(out.Location)}, nil
}

// UploadPart sends one part and returns the checksum Glacier computed.
func (s *Store) UploadPart(ctx context.Context, sessionID string, r transfer.ByteRange, body []byte, checksum string) (string, error) {
	out, err := s.api.UploadMultipartPart(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(s.cfg.Vault),
		UploadId:  aws.String(sessionID),
		Range:     aws.String(r.ContentRange()),
		Checksum:  aws.String(checksum),
		Body:      bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Checksum), nil
}

// CompleteUpload commits the upload.
func (s *Store) CompleteUpload(ctx context.Context, sessionID string, size int64, checksum string) (transfer.Archive, error) {
	out, err := s.api.CompleteMultipartUpload(ctx, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String(accountID),
		VaultName:   aws.String(s.cfg.Vault),
		UploadId:    aws.String(sessionID),
		ArchiveSize: aws.String(strconv.FormatInt(size, 10)),
		Checksum:    aws.String(checksum),
	})
	if err != nil {
		return transfer.Archive{}, err
	}
	return transfer.Archive{
		ID:       aws.ToString(out.ArchiveId),
		Checksum: aws.ToString(out.Checksum),
		Location: aws.ToString(out.Location),
	}, nil
}

// AbortUpload discards the upload and its parts.
func (s *Store) AbortUpload(ctx context.Context, sessionID string) error {
	_, err := s.api.AbortMultipartUpload(ctx, &glacier.AbortMultipartUploadInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(s.cfg.Vault),
		UploadId:  aws.String(sessionID),
	})
	return err
}

// InitiateRetrieval starts an archive-retrieval job.
func (s *Store) InitiateRetrieval(ctx context.Context, archiveID string) (string, error) {
	out, err := s.api.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(s.cfg.Vault),
		JobParameters: &gtypes.JobParameters{
			Type:      aws.String("archive-retrieval"),
			ArchiveId: aws.String(archiveID),
			Tier:      aws.String(s.tier),
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.JobId), nil
}

// ListJobs returns every job on the vault, following pagination markers.
func (s *Store) ListJobs(ctx context.Context) ([]transfer.Job, error) {
	var jobs []transfer.Job
	var marker *string
	for {
		out, err := s.api.ListJobs(ctx, &glacier.ListJobsInput{
			AccountId: aws.String(accountID),
			VaultName: aws.String(s.cfg.Vault),
			Marker:    marker,
		})
		if err != nil {
			return nil, err
		}
		for _, j := range out.JobList {
			jobs = append(jobs, jobFromDescription(j))
		}
		if aws.ToString(out.Marker) == "" {
			return jobs, nil
		}
		marker = out.Marker
	}
}

// DescribeJob returns the current state of a job.
func (s *Store) DescribeJob(ctx context.Context, jobID string) (transfer.Job, error) {
	out, err := s.api.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(s.cfg.Vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return transfer.Job{}, err
	}
	return transfer.Job{
		ID:            aws.ToString(out.JobId),
		Action:        string(out.Action),
		ArchiveID:     aws.ToString(out.ArchiveId),
		Status:        jobStatus(out.StatusCode),
		StatusMessage: aws.ToString(out.StatusMessage),
		Size:          aws.ToInt64(out.ArchiveSizeInBytes),
		TreeHash:      aws.ToString(out.ArchiveSHA256TreeHash),
	}, nil
}

// GetJobOutput reads one range of a succeeded job's output.
func (s *Store) GetJobOutput(ctx context.Context, jobID string, r transfer.ByteRange) (transfer.JobOutput, error) {
	out, err := s.api.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(s.cfg.Vault),
		JobId:     aws.String(jobID),
		Range:     aws.String(r.HTTPRange()),
	})
	if err != nil {
		return transfer.JobOutput{}, err
	}
	defer iox.DiscardClose(out.Body)
	if err := transfer.CheckContentRange(aws.ToString(out.ContentRange), r); err != nil {
		return transfer.JobOutput{}, fmt.Errorf("job output %s: %w", jobID, err)
	}

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return transfer.JobOutput{}, fmt.Errorf("read job output %s: %w", r.HTTPRange(), err)
	}
	return transfer.JobOutput{Checksum: aws.ToString(out.Checksum), Body: body}, nil
}

func jobFromDescription(j gtypes.GlacierJobDescription) transfer.Job {
	return transfer.Job{
		ID:            aws.ToString(j.JobId),
		Action:        string(j.Action),
		ArchiveID:     aws.ToString(j.ArchiveId),
		Status:        jobStatus(j.StatusCode),
		StatusMessage: aws.ToString(j.StatusMessage),
		Size:          aws.ToInt64(j.ArchiveSizeInBytes),
		TreeHash:      aws.ToString(j.ArchiveSHA256TreeHash),
	}
}

func jobStatus(code gtypes.StatusCode) transfer.JobStatus {
	switch code {
	case gtypes.StatusCodeSucceeded:
		return transfer.JobSucceeded
	case gtypes.StatusCodeFailed:
		return transfer.JobFailed
	default:
		return transfer.JobInProgress
	}
}
