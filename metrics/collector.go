// Package metrics provides per-transfer counters.
//
// The Collector accumulates counters during a single upload or download.
// It is a leaf package with no internal dependencies. Upload workers record
// part outcomes concurrently; the producer records bytes and aborts.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all transfer counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Upload
	PartsUploaded  int64 `json:"parts_uploaded" yaml:"parts_uploaded"`
	PartsFailed    int64 `json:"parts_failed" yaml:"parts_failed"`
	PartRetries    int64 `json:"part_retries" yaml:"part_retries"`
	BytesUploaded  int64 `json:"bytes_uploaded" yaml:"bytes_uploaded"`
	SessionsOpened int64 `json:"sessions_opened" yaml:"sessions_opened"`
	SessionsDone   int64 `json:"sessions_completed" yaml:"sessions_completed"`
	SessionsAbort  int64 `json:"sessions_aborted" yaml:"sessions_aborted"`

	// Download
	JobsInitiated      int64 `json:"jobs_initiated" yaml:"jobs_initiated"`
	JobsReused         int64 `json:"jobs_reused" yaml:"jobs_reused"`
	JobPolls           int64 `json:"job_polls" yaml:"job_polls"`
	WindowsDownloaded  int64 `json:"windows_downloaded" yaml:"windows_downloaded"`
	BytesDownloaded    int64 `json:"bytes_downloaded" yaml:"bytes_downloaded"`
	ChecksumMismatches int64 `json:"checksum_mismatches" yaml:"checksum_mismatches"`

	// Dimensions (informational, set at construction)
	TransferMethod string `json:"transfer_method" yaml:"transfer_method"`
	Profile        string `json:"profile" yaml:"profile"`
	DryRun         bool   `json:"dry_run" yaml:"dry_run"`
}

// Collector accumulates metrics during a single transfer.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	partsUploaded  int64
	partsFailed    int64
	partRetries    int64
	bytesUploaded  int64
	sessionsOpened int64
	sessionsDone   int64
	sessionsAbort  int64

	jobsInitiated      int64
	jobsReused         int64
	jobPolls           int64
	windowsDownloaded  int64
	bytesDownloaded    int64
	checksumMismatches int64

	transferMethod string
	profile        string
	dryRun         bool
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transferMethod, profile string, dryRun bool) *Collector {
	return &Collector{
		transferMethod: transferMethod,
		profile:        profile,
		dryRun:         dryRun,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Upload ---

// IncSessionOpened records an initiated multipart session.
func (c *Collector) IncSessionOpened() {
	if c == nil {
		return
	}
	c.add(&c.sessionsOpened, 1)
}

// IncSessionCompleted records a finalized session.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsDone, 1)
}

// IncSessionAborted records an aborted or failed session.
func (c *Collector) IncSessionAborted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsAbort, 1)
}

// RecordPartUploaded records a part accepted by the remote store.
func (c *Collector) RecordPartUploaded(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.partsUploaded++
	c.bytesUploaded += size
	c.mu.Unlock()
}

// IncPartFailed records a part that exhausted its attempts.
func (c *Collector) IncPartFailed() {
	if c == nil {
		return
	}
	c.add(&c.partsFailed, 1)
}

// IncPartRetry records a repeated part attempt.
func (c *Collector) IncPartRetry() {
	if c == nil {
		return
	}
	c.add(&c.partRetries, 1)
}

// --- Download ---

// IncJobInitiated records a newly created retrieval job.
func (c *Collector) IncJobInitiated() {
	if c == nil {
		return
	}
	c.add(&c.jobsInitiated, 1)
}

// IncJobReused records a retrieval job found already in flight.
func (c *Collector) IncJobReused() {
	if c == nil {
		return
	}
	c.add(&c.jobsReused, 1)
}

// IncJobPoll records one job status poll.
func (c *Collector) IncJobPoll() {
	if c == nil {
		return
	}
	c.add(&c.jobPolls, 1)
}

// RecordWindowDownloaded records a verified download window.
func (c *Collector) RecordWindowDownloaded(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.windowsDownloaded++
	c.bytesDownloaded += size
	c.mu.Unlock()
}

// IncChecksumMismatch records a window whose checksum did not verify.
func (c *Collector) IncChecksumMismatch() {
	if c == nil {
		return
	}
	c.add(&c.checksumMismatches, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PartsUploaded:  c.partsUploaded,
		PartsFailed:    c.partsFailed,
		PartRetries:    c.partRetries,
		BytesUploaded:  c.bytesUploaded,
		SessionsOpened: c.sessionsOpened,
		SessionsDone:   c.sessionsDone,
		SessionsAbort:  c.sessionsAbort,

		JobsInitiated:      c.jobsInitiated,
		JobsReused:         c.jobsReused,
		JobPolls:           c.jobPolls,
		WindowsDownloaded:  c.windowsDownloaded,
		BytesDownloaded:    c.bytesDownloaded,
		ChecksumMismatches: c.checksumMismatches,

		TransferMethod: c.transferMethod,
		Profile:        c.profile,
		DryRun:         c.dryRun,
	}
}
