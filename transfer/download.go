package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cancel"
	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/progress"
	"github.com/Kovercrosser/easy-cold-storage-uploader/stream"
	"github.com/Kovercrosser/easy-cold-storage-uploader/treehash"
)

// Download defaults.
const (
	DefaultPollInterval = 5 * time.Minute
	DefaultWindowSizeMB = 32
	maxPollErrors       = 5
)

// WorkerKindDownload labels download progress events.
const WorkerKindDownload = "download"

// DownloadState is a stage of the download state machine.
type DownloadState int

// Download states.
const (
	StateCheckExistingJob DownloadState = iota
	StateInitiateJob
	StatePollUntilReady
	StateStreamRanges
	StateDownloaded
	StateDownloadFailed
)

var downloadStateNames = [...]string{
	StateCheckExistingJob: "check_existing_job",
	StateInitiateJob:      "initiate_job",
	StatePollUntilReady:   "poll_until_ready",
	StateStreamRanges:     "stream_ranges",
	StateDownloaded:       "downloaded",
	StateDownloadFailed:   "failed",
}

func (s DownloadState) String() string {
	if int(s) < len(downloadStateNames) {
		return downloadStateNames[s]
	}
	return fmt.Sprintf("DownloadState(%d)", int(s))
}

// DownloadConfig configures a Downloader.
type DownloadConfig struct {
	// WindowSizeMB is the ranged read size in MiB. Zero selects DefaultWindowSizeMB.
	WindowSizeMB int
	// PollInterval is the delay between job status checks. Zero selects
	// DefaultPollInterval. There is no overall timeout.
	PollInterval time.Duration
	// Size is the archive size in bytes. Zero uses the size the job reports.
	Size int64
	// Checksum is the archive tree hash recorded at upload. When set, the
	// folded window checksums are verified against it.
	Checksum string
}

// Downloader resolves a retrieval job for an archive, waits until the store
// has staged it and streams it back in fixed windows, verifying each
// window's tree hash.
type Downloader struct {
	store RetrievalStore
	bus   *cancel.Bus
	cfg   DownloadConfig
	deps

	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state DownloadState
}

// NewDownloader returns a Downloader using store.
func NewDownloader(store RetrievalStore, bus *cancel.Bus, cfg DownloadConfig, opts ...Option) (*Downloader, error) {
	if bus == nil {
		return nil, ConfigError("validate", "cancellation bus is required")
	}
	if cfg.WindowSizeMB == 0 {
		cfg.WindowSizeMB = DefaultWindowSizeMB
	}
	if cfg.WindowSizeMB < 0 {
		return nil, ConfigError("validate", "window size must be positive, got %d MiB", cfg.WindowSizeMB)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Downloader{store: store, bus: bus, cfg: cfg, deps: buildDeps(opts), sleep: sleepContext}, nil
}

// State returns the current state.
func (d *Downloader) State() DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Downloader) setState(s DownloadState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("download state changed", map[string]any{"to": s.String()})
}

// Retrieve finds or creates the retrieval job for archiveID and waits until
// it succeeds. The wait and the returned Retrieval stay cancellable through
// the bus or ctx until the Retrieval is closed.
func (d *Downloader) Retrieve(ctx context.Context, archiveID string) (*Retrieval, error) {
	runCtx, stop := context.WithCancelCause(ctx)
	tok := d.bus.Subscribe(func(reason string) {
		stop(NewError(ErrCancelled, "retrieve", archiveID, errors.New(reason)))
	})
	release := sync.OnceFunc(func() {
		d.bus.Unsubscribe(tok)
		stop(nil)
	})

	job, err := d.resolveJob(runCtx, archiveID)
	if err == nil {
		job, err = d.poll(runCtx, job)
	}
	if cause := context.Cause(runCtx); cause != nil {
		if !errors.Is(cause, ErrCancelled) {
			cause = NewError(ErrCancelled, "retrieve", archiveID, cause)
		}
		err = cause
	}
	if err != nil {
		release()
		d.setState(StateDownloadFailed)
		return nil, err
	}

	size := d.cfg.Size
	if size == 0 {
		size = job.Size
	}
	if size <= 0 {
		release()
		d.setState(StateDownloadFailed)
		return nil, ConfigError("retrieve", "archive %s size unknown", archiveID)
	}

	expected := d.cfg.Checksum
	if expected == "" {
		expected = job.TreeHash
	}

	d.setState(StateStreamRanges)
	d.logger.Info("retrieval job ready", map[string]any{"job_id": job.ID, "size": size})
	return &Retrieval{
		d:        d,
		job:      job,
		size:     size,
		window:   int64(d.cfg.WindowSizeMB) << 20,
		expected: expected,
		runCtx:   runCtx,
		release:  release,
	}, nil
}

// resolveJob reuses an in-flight or succeeded job for archiveID, or
// initiates a new one.
func (d *Downloader) resolveJob(ctx context.Context, archiveID string) (Job, error) {
	d.setState(StateCheckExistingJob)
	jobs, err := d.store.ListJobs(ctx)
	if err != nil {
		return Job{}, NewError(ErrRemote, "list_jobs", "", err)
	}
	if job, ok := findJob(jobs, archiveID); ok {
		d.metrics.IncJobReused()
		d.logger.Info("reusing retrieval job", map[string]any{"job_id": job.ID, "status": string(job.Status)})
		return job, nil
	}

	d.setState(StateInitiateJob)
	id, err := d.store.InitiateRetrieval(ctx, archiveID)
	if err != nil {
		return Job{}, NewError(ErrRemote, "initiate_job", archiveID, err)
	}
	d.metrics.IncJobInitiated()
	d.logger.Info("retrieval job initiated", map[string]any{"job_id": id})
	return Job{ID: id, Action: ActionArchiveRetrieval, ArchiveID: archiveID, Status: JobInProgress}, nil
}

// findJob prefers a succeeded job over one still in progress. Failed jobs
// are never reused.
func findJob(jobs []Job, archiveID string) (Job, bool) {
	var candidate Job
	found := false
	for _, j := range jobs {
		if j.Action != ActionArchiveRetrieval || j.ArchiveID != archiveID {
			continue
		}
		switch j.Status {
		case JobSucceeded:
			return j, true
		case JobInProgress:
			if !found {
				candidate, found = j, true
			}
		}
	}
	return candidate, found
}

func (d *Downloader) poll(ctx context.Context, job Job) (Job, error) {
	d.setState(StatePollUntilReady)
	consecutiveErrors := 0
	for {
		current, err := d.store.DescribeJob(ctx, job.ID)
		d.metrics.IncJobPoll()
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			consecutiveErrors++
			if consecutiveErrors >= maxPollErrors || !IsTransient(err) {
				return Job{}, NewError(ErrRemote, "describe_job", job.ID, err)
			}
			d.logger.Warn("job status check failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		case current.Status == JobSucceeded:
			d.reporter.Report(WorkerKindDownload, "job", progress.StatusFinished, "job "+job.ID+" ready")
			return mergeJob(job, current), nil
		case current.Status == JobFailed:
			d.reporter.Report(WorkerKindDownload, "job", progress.StatusFailed, current.StatusMessage)
			return Job{}, NewError(ErrJobFailed, "describe_job", job.ID, errors.New(current.StatusMessage))
		default:
			consecutiveErrors = 0
			d.reporter.Report(WorkerKindDownload, "job", progress.StatusWaiting,
				fmt.Sprintf("job %s in progress, next check in %s", job.ID, d.cfg.PollInterval))
		}

		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return Job{}, err
		}
	}
}

// mergeJob fills fields the status call left empty from the listed job.
func mergeJob(listed, current Job) Job {
	if current.ID == "" {
		current.ID = listed.ID
	}
	if current.ArchiveID == "" {
		current.ArchiveID = listed.ArchiveID
	}
	if current.Size == 0 {
		current.Size = listed.Size
	}
	if current.TreeHash == "" {
		current.TreeHash = listed.TreeHash
	}
	return current
}

// Download retrieves archiveID and writes it to w.
func (d *Downloader) Download(ctx context.Context, archiveID string, w io.Writer) (int64, error) {
	r, err := d.Retrieve(ctx, archiveID)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(r)
	n, err := stream.Drain(ctx, w, r)
	if err != nil {
		return n, err
	}
	if err := r.Verify(); err != nil {
		return n, err
	}
	return n, nil
}

// Retrieval streams a ready job's output window by window. It implements
// stream.Stream. Each window's tree hash is appended to a verification
// list in window order. Firing the bus cancels a read in flight and fails
// every later one; Close releases the bus subscription.
type Retrieval struct {
	d        *Downloader
	job      Job
	size     int64
	window   int64
	expected string

	runCtx  context.Context
	release func()

	offset    int64
	index     int
	checksums []string
}

// Job returns the retrieval job being read.
func (r *Retrieval) Job() Job { return r.job }

// Size returns the archive size in bytes.
func (r *Retrieval) Size() int64 { return r.size }

// Close releases the bus subscription. Reads after Close fail.
func (r *Retrieval) Close() error {
	r.release()
	return nil
}

// cancelled returns the cancellation error once the bus fired or the
// retrieval was closed.
func (r *Retrieval) cancelled() error {
	cause := context.Cause(r.runCtx)
	switch {
	case cause == nil:
		return nil
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return NewError(ErrCancelled, "get_job_output", r.job.ID, cause)
	}
}

// Next reads the next window. It returns io.EOF after the last window.
func (r *Retrieval) Next(ctx context.Context) ([]byte, error) {
	if r.offset >= r.size {
		return nil, io.EOF
	}
	d := r.d
	if err := r.cancelled(); err != nil {
		d.setState(StateDownloadFailed)
		return nil, err
	}
	ctx, cancelRead := context.WithCancelCause(ctx)
	defer cancelRead(nil)
	stopWatch := context.AfterFunc(r.runCtx, func() { cancelRead(context.Cause(r.runCtx)) })
	defer stopWatch()

	rng := ByteRange{Start: r.offset, End: min(r.offset+r.window, r.size) - 1}
	id := fmt.Sprintf("window-%d", r.index)
	d.reporter.Report(WorkerKindDownload, id, progress.StatusWorking, rng.HTTPRange())

	out, err := d.store.GetJobOutput(ctx, r.job.ID, rng)
	if err != nil {
		d.reporter.Report(WorkerKindDownload, id, progress.StatusFailed, err.Error())
		d.setState(StateDownloadFailed)
		if cerr := r.cancelled(); cerr != nil {
			return nil, cerr
		}
		if isContextErr(err) {
			return nil, NewError(ErrCancelled, "get_job_output", r.job.ID, err)
		}
		return nil, NewError(ErrRemote, "get_job_output", r.job.ID, err)
	}
	if int64(len(out.Body)) != rng.Len() {
		d.setState(StateDownloadFailed)
		return nil, NewError(ErrRemote, "get_job_output", r.job.ID,
			fmt.Errorf("window %d: got %d bytes, want %d", r.index, len(out.Body), rng.Len()))
	}

	sum := treehash.SumHex(out.Body)
	if out.Checksum != "" && out.Checksum != sum {
		d.metrics.IncChecksumMismatch()
		d.reporter.Report(WorkerKindDownload, id, progress.StatusFailed, "checksum mismatch")
		d.setState(StateDownloadFailed)
		return nil, NewError(ErrChecksum, "get_job_output", r.job.ID,
			fmt.Errorf("window %d (%s): store checksum %s, computed %s", r.index, rng.HTTPRange(), out.Checksum, sum))
	}
	r.checksums = append(r.checksums, sum)
	r.offset = rng.End + 1
	r.index++

	d.metrics.RecordWindowDownloaded(int64(len(out.Body)))
	d.reporter.Report(WorkerKindDownload, id, progress.StatusFinished,
		fmt.Sprintf("%s of %s", humanize.IBytes(uint64(r.offset)), humanize.IBytes(uint64(r.size))))
	if r.offset >= r.size {
		d.setState(StateDownloaded)
	}
	return out.Body, nil
}

// Checksums returns the verified window tree hashes in window order.
func (r *Retrieval) Checksums() []string {
	out := make([]string, len(r.checksums))
	copy(out, r.checksums)
	return out
}

// Verify folds the window checksums and compares the result with the
// archive tree hash, if one is known. Windows are a power-of-two number of
// MiB, so the fold equals the whole-archive tree hash.
func (r *Retrieval) Verify() error {
	if r.expected == "" {
		return nil
	}
	if r.offset < r.size {
		return NewError(ErrChecksum, "verify", r.job.ID, fmt.Errorf("read %d of %d bytes", r.offset, r.size))
	}
	mb := r.window >> 20
	if mb&(mb-1) != 0 {
		r.d.logger.Warn("window size is not a power of two, skipping archive verification", nil)
		return nil
	}
	root, err := treehash.RootOfHex(r.checksums)
	if err != nil {
		return NewError(ErrChecksum, "verify", r.job.ID, err)
	}
	if root != r.expected {
		r.d.metrics.IncChecksumMismatch()
		return NewError(ErrChecksum, "verify", r.job.ID, fmt.Errorf("archive tree hash %s, expected %s", root, r.expected))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
