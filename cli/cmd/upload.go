package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/adapter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cancel"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/config"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/render"
	"github.com/Kovercrosser/easy-cold-storage-uploader/filter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
	"github.com/Kovercrosser/easy-cold-storage-uploader/metrics"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// archiveTimeFormat is the timestamp leading every archive name.
const archiveTimeFormat = "2006-01-02T15-04-05"

// UploadCommand returns the upload command.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Pack, compress, encrypt and upload files",
		ArgsUsage: "[path...]",
		Flags: append([]cli.Flag{
			FormatFlag,
			statsFlag,
			profileFlag(),
			&cli.StringSliceFlag{
				Name:    "paths",
				Aliases: []string{"p"},
				Usage:   "Files and directories to upload; positional arguments are added",
			},
			&cli.StringFlag{
				Name:    "compression-method",
				Aliases: []string{"c", "compression"},
				Usage:   "Compression: none, lzma, bzip2, zstd, lz4",
			},
			&cli.IntFlag{
				Name:    "compression-level",
				Aliases: []string{"l"},
				Usage:   "Compression level 1..9",
			},
			&cli.StringFlag{
				Name:    "encryption-method",
				Aliases: []string{"e", "encryption"},
				Usage:   "Encryption: none, aes, age",
			},
			&cli.StringFlag{
				Name:    "filetype",
				Aliases: []string{"f"},
				Usage:   "Container: none, zip, tar",
			},
			&cli.StringFlag{
				Name:    "transfer-method",
				Aliases: []string{"t", "transfer"},
				Usage:   "Transfer method: glacier, s3, save",
			},
			&cli.IntFlag{
				Name:    "transfer-chunk-size",
				Aliases: []string{"s", "chunk-size"},
				Usage:   "Part size in MiB, a power of two",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region (glacier, s3)",
			},
			&cli.StringFlag{
				Name:  "vault",
				Usage: "Glacier vault name",
			},
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "S3 bucket, optionally as bucket/prefix",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "S3 key prefix",
			},
			&cli.StringFlag{
				Name:  "save-location",
				Usage: "Target directory (save)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent part uploads (at least 2)",
			},
			&cli.IntFlag{
				Name:  "queue-depth",
				Usage: "Parts read ahead of the workers",
			},
			&cli.IntFlag{
				Name:  "part-retries",
				Usage: "Retries per failed part before the upload is aborted",
			},
			&cli.BoolFlag{
				Name:  "dryrun",
				Usage: "Run the whole pipeline without remote calls",
			},
		}, passwordFlags()...),
		Action: uploadAction,
	}
}

// uploadPaths joins --paths with the positional arguments.
func uploadPaths(c *cli.Context) []string {
	return append(c.StringSlice("paths"), c.Args().Slice()...)
}

// uploadPlan is everything resolved before the first remote call.
type uploadPlan struct {
	method types.TransferType
	chain  filter.Chain
	store  transfer.MultipartStore
	cfg    transfer.UploadConfig
}

// TransferSummary is the command output for a finished transfer.
type TransferSummary struct {
	RecordID  string `json:"record_id" yaml:"record_id"`
	Method    string `json:"method" yaml:"method"`
	FileName  string `json:"file_name" yaml:"file_name"`
	ArchiveID string `json:"archive_id" yaml:"archive_id"`
	Checksum  string `json:"checksum" yaml:"checksum"`
	Size      string `json:"size" yaml:"size"`
	Parts     int    `json:"parts,omitempty" yaml:"parts,omitempty"`
	Location  string `json:"location" yaml:"location"`
	DryRun    bool   `json:"dryrun" yaml:"dryrun"`
}

func uploadAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	paths := uploadPaths(c)
	if len(paths) == 0 {
		return transfer.ConfigError("upload", "no files or directories given")
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return transfer.ConfigError("upload", "%v", err)
		}
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	started := time.Now()
	plan, err := e.planUpload(ctx, started)
	if err != nil {
		return err
	}
	led, err := e.openLedger(ctx)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	notify, err := e.notifier()
	if err != nil {
		return err
	}
	if notify != nil {
		defer iox.DiscardClose(notify)
	}

	display := startProgress(e.stderr, "Uploading "+plan.cfg.Description)
	logger, closeLog := e.logger(string(plan.method), display.live())
	defer closeLog()
	bus := cancel.NewBus(logger)
	collector := metrics.NewCollector(string(plan.method), e.profile, plan.cfg.DryRun)
	ctx, stopSignals := watchSignals(ctx, bus)
	defer stopSignals()

	up, err := transfer.NewUploader(plan.store, bus, plan.cfg,
		transfer.WithReporter(display.reporter),
		transfer.WithMetrics(collector),
		transfer.WithLogger(logger),
	)
	if err != nil {
		display.stop()
		return err
	}
	info, err := up.Upload(ctx, plan.chain.Upload(ctx, paths))
	display.stop()
	if err != nil {
		return err
	}

	rec := ledger.NewRecord(*info,
		plan.chain.Filetype.Extension(),
		plan.chain.Compression.Extension(),
		plan.chain.Encryption.Extension(),
	)
	if err := led.Append(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("archive %s uploaded but not recorded: %w", info.ArchiveID, err)
	}
	logger.Info("upload recorded", map[string]any{"record_id": rec.ID, "archive_id": info.ArchiveID})
	logger.Sugar().Debugf("%s in %d part(s) took %s", info.HumanReadableSize, info.Parts, time.Since(started).Round(time.Millisecond))

	if notify != nil {
		event := adapter.NewTransferCompletedEvent(rec.ID, e.profile, *info, time.Now(), time.Since(started))
		if err := notify.Publish(ctx, event); err != nil {
			logger.Warn("transfer notification failed", map[string]any{"error": err.Error()})
		}
	}

	if err := r.Render(summarize(rec)); err != nil {
		return err
	}
	if c.Bool("stats") {
		return r.Render(collector.Snapshot())
	}
	return nil
}

// planUpload resolves the filter chain, the store and the upload
// configuration. A missing password is prompted for here, before the
// store is opened.
func (e *env) planUpload(ctx context.Context, now time.Time) (*uploadPlan, error) {
	method, err := types.ParseTransferType(e.str("transfer-method", config.KeyTransfer, string(types.TransferGlacier)))
	if err != nil {
		return nil, transfer.ConfigError("upload", "%v", err)
	}
	chain, err := e.uploadChain()
	if err != nil {
		return nil, err
	}

	partSize, err := e.int("transfer-chunk-size", config.KeyChunkSize, transfer.DefaultPartSizeMB)
	if err != nil {
		return nil, err
	}
	workers, err := e.int("workers", config.KeyWorkers, transfer.DefaultWorkers)
	if err != nil {
		return nil, err
	}
	queue, err := e.int("queue-depth", config.KeyQueueDepth, transfer.DefaultQueueDepth)
	if err != nil {
		return nil, err
	}
	retries, err := e.int("part-retries", config.KeyPartRetries, 0)
	if err != nil {
		return nil, err
	}
	if err := transfer.ValidatePartSize(partSize); err != nil {
		return nil, err
	}

	store, err := e.openStore(ctx, e.uploadLocation(method))
	if err != nil {
		return nil, err
	}
	return &uploadPlan{
		method: method,
		chain:  chain,
		store:  store,
		cfg: transfer.UploadConfig{
			PartSizeMB:  partSize,
			Workers:     workers,
			QueueDepth:  queue,
			PartRetries: retries,
			DryRun:      e.c.Bool("dryrun"),
			Description: ArchiveName(now, chain),
		},
	}, nil
}

func (e *env) uploadChain() (filter.Chain, error) {
	level, err := e.int("compression-level", config.KeyCompressionLevel, filter.DefaultCompressionLevel)
	if err != nil {
		return filter.Chain{}, err
	}
	comp, err := filter.NewCompression(e.str("compression-method", config.KeyCompression, filter.CompressionNone), level)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("upload", "%v", err)
	}
	ft, err := filter.NewFiletype(e.str("filetype", config.KeyFiletype, filter.FiletypeZip), filter.DefaultZipLevel)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("upload", "%v", err)
	}

	encName := e.str("encryption-method", config.KeyEncryption, filter.EncryptionNone)
	var password string
	if filter.NeedsPassword(encName) {
		if password, err = resolvePassword(e.c, e.stderr, true); err != nil {
			return filter.Chain{}, err
		}
	}
	enc, err := filter.NewEncryption(encName, password)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("upload", "%v", err)
	}
	return filter.Chain{Filetype: ft, Compression: comp, Encryption: enc}, nil
}

// ArchiveName returns the name an archive is stored under: the UTC upload
// time followed by the filter extensions.
func ArchiveName(now time.Time, chain filter.Chain) string {
	return now.UTC().Format(archiveTimeFormat) + chain.Extension()
}

func summarize(rec ledger.Record) TransferSummary {
	return TransferSummary{
		RecordID:  rec.ID,
		Method:    string(rec.Info.Method),
		FileName:  rec.Info.FileName,
		ArchiveID: rec.Info.ArchiveID,
		Checksum:  rec.Info.Checksum,
		Size:      humanize.IBytes(uint64(rec.Info.Size)),
		Parts:     rec.Info.Parts,
		Location:  rec.Info.Location,
		DryRun:    rec.Info.DryRun,
	}
}
