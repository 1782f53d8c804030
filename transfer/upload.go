package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cancel"
	"github.com/Kovercrosser/easy-cold-storage-uploader/log"
	"github.com/Kovercrosser/easy-cold-storage-uploader/metrics"
	"github.com/Kovercrosser/easy-cold-storage-uploader/progress"
	"github.com/Kovercrosser/easy-cold-storage-uploader/reframe"
	"github.com/Kovercrosser/easy-cold-storage-uploader/stream"
	"github.com/Kovercrosser/easy-cold-storage-uploader/treehash"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// Part size limits in MiB imposed by archival stores.
const (
	MinPartSizeMB     = 1
	MaxPartSizeMB     = 4096
	DefaultPartSizeMB = 64
)

// Upload pool defaults.
const (
	DefaultWorkers      = 4
	DefaultQueueDepth   = 2
	DefaultRetryBackoff = 500 * time.Millisecond
	abortTimeout        = 30 * time.Second
)

// WorkerKindUpload labels upload worker progress events.
const WorkerKindUpload = "upload"

// UploadState is a stage of the upload state machine.
type UploadState int

// Upload states. Completed, Aborted and Failed are terminal.
const (
	StateIdle UploadState = iota
	StateSessionInitiated
	StatePartsInFlight
	StateFinalizing
	StateCompleted
	StateAborted
	StateFailed
)

var uploadStateNames = [...]string{
	StateIdle:             "idle",
	StateSessionInitiated: "session_initiated",
	StatePartsInFlight:    "parts_in_flight",
	StateFinalizing:       "finalizing",
	StateCompleted:        "completed",
	StateAborted:          "aborted",
	StateFailed:           "failed",
}

func (s UploadState) String() string {
	if int(s) < len(uploadStateNames) {
		return uploadStateNames[s]
	}
	return fmt.Sprintf("UploadState(%d)", int(s))
}

// UploadConfig configures an Uploader.
type UploadConfig struct {
	// PartSizeMB is the part size in MiB: a power of two in [1, 4096].
	PartSizeMB int
	// Workers is the number of concurrent part uploads (>= 2). Zero selects DefaultWorkers.
	Workers int
	// QueueDepth caps how many parts the producer may read ahead of the
	// workers. Zero selects DefaultQueueDepth.
	QueueDepth int
	// PartRetries is how many times a transiently failed part is re-sent
	// before the session is aborted. Zero disables retries.
	PartRetries int
	// RetryBackoff is the base delay between part attempts, doubled per retry.
	RetryBackoff time.Duration
	// DryRun skips every remote call and substitutes placeholder identifiers.
	DryRun bool
	// Description names the archive (its file name including extensions).
	Description string
}

// ValidatePartSize checks that mb is a power of two within store limits.
func ValidatePartSize(mb int) error {
	if mb < MinPartSizeMB || mb > MaxPartSizeMB {
		return ConfigError("validate", "part size %d MiB outside [%d, %d]", mb, MinPartSizeMB, MaxPartSizeMB)
	}
	if mb&(mb-1) != 0 {
		return ConfigError("validate", "part size %d MiB is not a power of two", mb)
	}
	return nil
}

func (c *UploadConfig) applyDefaults() error {
	if err := ValidatePartSize(c.PartSizeMB); err != nil {
		return err
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 2 {
		return ConfigError("validate", "upload needs at least 2 workers, got %d", c.Workers)
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.QueueDepth < 1 {
		return ConfigError("validate", "queue depth must be positive, got %d", c.QueueDepth)
	}
	if c.PartRetries < 0 {
		return ConfigError("validate", "part retries must not be negative, got %d", c.PartRetries)
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Description == "" {
		return ConfigError("validate", "archive description is required")
	}
	return nil
}

// Part is one fixed-size slice of the archive handed to a worker.
type Part struct {
	Index    int
	Range    ByteRange
	Body     []byte
	Checksum string
}

// Option configures an Uploader or Downloader.
type Option func(*deps)

type deps struct {
	reporter *progress.Reporter
	metrics  *metrics.Collector
	logger   *log.Logger
}

// WithReporter sends worker status events to r.
func WithReporter(r *progress.Reporter) Option { return func(d *deps) { d.reporter = r } }

// WithMetrics records transfer counters in c.
func WithMetrics(c *metrics.Collector) Option { return func(d *deps) { d.metrics = c } }

// WithLogger sets the logger. The default discards.
func WithLogger(l *log.Logger) Option { return func(d *deps) { d.logger = l } }

func buildDeps(opts []Option) deps {
	d := deps{logger: log.Nop()}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Uploader drives one multipart upload: it re-frames the input into parts,
// fans them out to a bounded worker pool and finalizes the archive with
// the tree hash of all parts.
//
// Only the producer goroutine touches the digest list and byte counters.
// Workers perform the remote call and report status.
type Uploader struct {
	store MultipartStore
	bus   *cancel.Bus
	cfg   UploadConfig
	deps

	mu    sync.Mutex
	state UploadState
}

// NewUploader validates cfg and returns an idle Uploader. In dry-run mode
// store is only consulted for its Target.
func NewUploader(store MultipartStore, bus *cancel.Bus, cfg UploadConfig, opts ...Option) (*Uploader, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, ConfigError("validate", "cancellation bus is required")
	}
	if cfg.DryRun {
		store = dryRunStore{target: store.Target()}
	}
	return &Uploader{store: store, bus: bus, cfg: cfg, deps: buildDeps(opts)}, nil
}

// State returns the current state.
func (u *Uploader) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Uploader) setState(s UploadState) {
	u.mu.Lock()
	prev := u.state
	u.state = s
	u.mu.Unlock()
	u.logger.Debug("upload state changed", map[string]any{"from": prev.String(), "to": s.String()})
}

// Upload consumes src and returns the finalized archive's details.
//
// A failed or cancelled upload never leaves the session open: the remote
// session is aborted and the cancellation subscription released before
// Upload returns. Cancellation, through the bus or ctx, yields an error
// matching ErrCancelled. Once finalizing starts the upload can no longer
// be cancelled.
func (u *Uploader) Upload(ctx context.Context, src stream.Stream) (*types.TransferInfo, error) {
	defer func() { _ = stream.Close(src) }()

	if s := u.State(); s != StateIdle {
		return nil, ConfigError("upload", "uploader already used (state %s)", s)
	}

	partSize := int64(u.cfg.PartSizeMB) << 20
	session, err := u.store.InitiateUpload(ctx, u.cfg.Description, partSize)
	if err != nil {
		u.setState(StateFailed)
		if errors.Is(err, ErrConfiguration) {
			return nil, err
		}
		return nil, NewError(ErrRemote, "initiate", "", err)
	}
	u.metrics.IncSessionOpened()
	u.logger = u.logger.With("session_id", session.ID)
	u.setState(StateSessionInitiated)
	u.logger.Info("upload session initiated", map[string]any{
		"description": u.cfg.Description,
		"part_size":   partSize,
		"workers":     u.cfg.Workers,
		"dry_run":     u.cfg.DryRun,
	})

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	tok := u.bus.Subscribe(func(reason string) {
		stop(NewError(ErrCancelled, "upload", session.ID, errors.New(reason)))
	})

	acc, err := u.sendParts(runCtx, session, src, partSize)
	u.bus.Unsubscribe(tok)
	if cause := context.Cause(runCtx); cause != nil {
		err = asCancellation(cause, session.ID)
	}
	if err != nil {
		return nil, u.abort(ctx, session, err)
	}

	u.setState(StateFinalizing)
	return u.finalize(ctx, session, acc)
}

// sendParts runs the producer loop and the worker pool until the input is
// exhausted or the pool fails.
func (u *Uploader) sendParts(ctx context.Context, session Session, src stream.Stream, partSize int64) (*treehash.Accumulator, error) {
	rf, err := reframe.New(src, int(partSize))
	if err != nil {
		return nil, ConfigError("reframe", "%v", err)
	}

	prodCtx, stopProducer := context.WithCancelCause(ctx)
	defer stopProducer(nil)
	g, gctx := errgroup.WithContext(prodCtx)

	queue := make(chan Part, u.cfg.QueueDepth)
	for i := range u.cfg.Workers {
		id := fmt.Sprintf("upload-%d", i+1)
		g.Go(func() error { return u.worker(gctx, session, id, queue) })
	}
	u.setState(StatePartsInFlight)

	acc := &treehash.Accumulator{}
	produceErr := u.produce(gctx, rf, acc, queue)
	if produceErr != nil {
		stopProducer(produceErr)
	}

	if err := g.Wait(); err != nil && !isContextErr(err) {
		return nil, err
	}
	if produceErr != nil {
		if !isContextErr(produceErr) {
			produceErr = fmt.Errorf("read input: %w", produceErr)
		}
		return nil, produceErr
	}
	return acc, nil
}

// produce re-frames the input, folds each part's digest in production
// order and enqueues the part. It blocks while the queue is full.
func (u *Uploader) produce(ctx context.Context, rf *reframe.Reframer, acc *treehash.Accumulator, queue chan<- Part) error {
	defer close(queue)

	var offset int64
	for index := 0; ; index++ {
		body, err := rf.NextPart(ctx)
		if errors.Is(err, reframe.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}

		digest := treehash.Sum(body)
		acc.AddDigest(digest, int64(len(body)))
		p := Part{
			Index:    index,
			Range:    ByteRange{Start: offset, End: offset + int64(len(body)) - 1},
			Body:     body,
			Checksum: hex.EncodeToString(digest),
		}
		offset += int64(len(body))

		select {
		case queue <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *Uploader) worker(ctx context.Context, session Session, id string, queue <-chan Part) error {
	logger := u.logger.With("worker_id", id)
	u.reporter.Report(WorkerKindUpload, id, progress.StatusWaiting, "")

	for {
		select {
		case <-ctx.Done():
			u.reporter.Report(WorkerKindUpload, id, progress.StatusCancelled, "")
			return ctx.Err()
		case p, ok := <-queue:
			if !ok {
				u.reporter.Report(WorkerKindUpload, id, progress.StatusFinished, "")
				return nil
			}
			u.reporter.Report(WorkerKindUpload, id, progress.StatusWorking,
				fmt.Sprintf("part %d (%s)", p.Index, humanize.IBytes(uint64(len(p.Body)))))

			if err := u.uploadPart(ctx, session, p); err != nil {
				if isContextErr(err) {
					u.reporter.Report(WorkerKindUpload, id, progress.StatusCancelled, fmt.Sprintf("part %d", p.Index))
					return err
				}
				u.metrics.IncPartFailed()
				u.reporter.Report(WorkerKindUpload, id, progress.StatusFailed,
					fmt.Sprintf("part %d: %v", p.Index, err))
				logger.Error("part upload failed", map[string]any{"part": p.Index, "range": p.Range.ContentRange(), "error": err.Error()})
				return err
			}

			u.metrics.RecordPartUploaded(int64(len(p.Body)))
			u.reporter.Report(WorkerKindUpload, id, progress.StatusWaiting, fmt.Sprintf("part %d uploaded", p.Index))
			logger.Debug("part uploaded", map[string]any{"part": p.Index, "range": p.Range.ContentRange()})
		}
	}
}

// uploadPart sends one part, retrying transient failures up to PartRetries
// times. A part is never skipped: exhausting the attempts fails the session.
func (u *Uploader) uploadPart(ctx context.Context, session Session, p Part) error {
	for attempt := 0; ; attempt++ {
		remote, err := u.store.UploadPart(ctx, session.ID, p.Range, p.Body, p.Checksum)
		if err == nil && remote != "" && remote != p.Checksum {
			err = NewError(ErrChecksum, "upload_part", session.ID,
				fmt.Errorf("part %d: store checksum %s, computed %s", p.Index, remote, p.Checksum))
		}
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= u.cfg.PartRetries || !IsTransient(err) {
			return NewError(ErrPartUpload, "upload_part", session.ID,
				fmt.Errorf("part %d (%s) after %d attempt(s): %w", p.Index, p.Range.ContentRange(), attempt+1, err))
		}

		u.metrics.IncPartRetry()
		delay := time.Duration(1<<uint(attempt)) * u.cfg.RetryBackoff
		u.logger.Warn("retrying part upload", map[string]any{"part": p.Index, "attempt": attempt + 1, "delay": delay.String(), "error": err.Error()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *Uploader) finalize(ctx context.Context, session Session, acc *treehash.Accumulator) (*types.TransferInfo, error) {
	root, err := acc.RootHex()
	if err != nil {
		return nil, u.abort(ctx, session, NewError(ErrChecksum, "finalize", session.ID, err))
	}

	// Committing is not cancellable; a late interrupt must not undo it.
	archive, err := u.store.CompleteUpload(context.WithoutCancel(ctx), session.ID, acc.Size(), root)
	if err != nil {
		return nil, u.abort(ctx, session, NewError(ErrRemote, "complete", session.ID, err))
	}
	if archive.Checksum != "" && archive.Checksum != root {
		u.logger.Warn("store checksum differs from computed tree hash", map[string]any{
			"store": archive.Checksum, "computed": root,
		})
	}

	u.setState(StateCompleted)
	u.metrics.IncSessionCompleted()
	u.logger.Info("upload completed", map[string]any{"archive_id": archive.ID, "size": acc.Size(), "parts": acc.Len()})

	target := u.store.Target()
	location := archive.Location
	if location == "" {
		location = session.Location
	}
	return &types.TransferInfo{
		DryRun:            u.cfg.DryRun,
		Method:            target.Method,
		Region:            target.Region,
		Vault:             target.Vault,
		FileName:          u.cfg.Description,
		ArchiveID:         archive.ID,
		Checksum:          root,
		Size:              acc.Size(),
		HumanReadableSize: humanize.IBytes(uint64(acc.Size())),
		SessionID:         session.ID,
		Location:          location,
		Parts:             acc.Len(),
	}, nil
}

// abort releases the remote session after a failure or cancellation and
// returns cause. The dry-run store ignores the abort call.
func (u *Uploader) abort(ctx context.Context, session Session, cause error) error {
	actx, cancelAbort := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancelAbort()
	if err := u.store.AbortUpload(actx, session.ID); err != nil {
		u.logger.Error("abort upload session failed", map[string]any{"error": err.Error()})
	}
	u.metrics.IncSessionAborted()

	if errors.Is(cause, ErrCancelled) {
		u.setState(StateAborted)
		u.logger.Warn("upload aborted", map[string]any{"reason": cause.Error()})
	} else {
		u.setState(StateFailed)
		u.logger.Error("upload failed", map[string]any{"error": cause.Error()})
	}
	return cause
}

// asCancellation turns a context cause into an ErrCancelled error.
func asCancellation(cause error, session string) error {
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return NewError(ErrCancelled, "upload", session, cause)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
