package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cancel"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/render"
	"github.com/Kovercrosser/easy-cold-storage-uploader/filter"
	"github.com/Kovercrosser/easy-cold-storage-uploader/iox"
	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
	"github.com/Kovercrosser/easy-cold-storage-uploader/metrics"
	"github.com/Kovercrosser/easy-cold-storage-uploader/stream"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// DownloadCommand returns the download command.
func DownloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Retrieve a recorded upload and reverse its filters",
		Flags: append([]cli.Flag{
			FormatFlag,
			statsFlag,
			profileFlag(),
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Archive id or ledger record id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "location",
				Usage: "Output directory",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  "unpack",
				Usage: "Extract the container into the output directory",
			},
		}, passwordFlags()...),
		Action: downloadAction,
	}
}

// DownloadSummary is the command output for a finished download.
type DownloadSummary struct {
	RecordID  string `json:"record_id" yaml:"record_id"`
	ArchiveID string `json:"archive_id" yaml:"archive_id"`
	Output    string `json:"output" yaml:"output"`
	Size      string `json:"size" yaml:"size"`
	Unpacked  bool   `json:"unpacked" yaml:"unpacked"`
}

func downloadAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	id := c.String("id")

	led, err := e.openLedger(ctx)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	rec, err := led.FindByID(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return transfer.ConfigError("download", "no recorded upload with id %q", id)
	}
	if err != nil {
		return err
	}
	if rec.Info.DryRun {
		return transfer.ConfigError("download", "upload %s was a dry run, nothing was stored", id)
	}

	chain, err := e.downloadChain(rec)
	if err != nil {
		return err
	}
	store, err := e.openStore(ctx, location{
		method: rec.TransferType,
		region: rec.Info.Region,
		vault:  rec.Info.Vault,
	})
	if err != nil {
		return err
	}

	display := startProgress(e.stderr, "Downloading "+rec.Info.FileName)
	logger, closeLog := e.logger(string(rec.TransferType), display.live())
	defer closeLog()
	bus := cancel.NewBus(logger)
	collector := metrics.NewCollector(string(rec.TransferType), e.profile, false)
	ctx, stopSignals := watchSignals(ctx, bus)
	defer stopSignals()

	dl, err := transfer.NewDownloader(store, bus, transfer.DownloadConfig{
		WindowSizeMB: e.cfg.Download.WindowSizeMB,
		PollInterval: e.cfg.Download.PollInterval.Duration,
		Size:         rec.Info.Size,
		Checksum:     rec.Info.Checksum,
	},
		transfer.WithReporter(display.reporter),
		transfer.WithMetrics(collector),
		transfer.WithLogger(logger),
	)
	if err != nil {
		display.stop()
		return err
	}

	unpack := c.Bool("unpack")
	if unpack && chain.Filetype.Name() == filter.FiletypeNone {
		logger.Warn("archive has no container, writing it as a file", nil)
		unpack = false
	}
	retrieval, err := dl.Retrieve(ctx, rec.Info.ArchiveID)
	if err != nil {
		display.stop()
		return err
	}
	defer iox.DiscardClose(retrieval)
	out, err := restore(ctx, chain, retrieval, c.String("location"), rec.Info.FileName, unpack)
	display.stop()
	if err != nil {
		return err
	}
	logger.Info("download complete", map[string]any{"archive_id": rec.Info.ArchiveID, "output": out})

	if err := r.Render(DownloadSummary{
		RecordID:  rec.ID,
		ArchiveID: rec.Info.ArchiveID,
		Output:    out,
		Size:      humanize.IBytes(uint64(retrieval.Size())),
		Unpacked:  unpack,
	}); err != nil {
		return err
	}
	if c.Bool("stats") {
		return r.Render(collector.Snapshot())
	}
	return nil
}

// downloadChain maps the record's extension tags back to filter variants.
func (e *env) downloadChain(rec ledger.Record) (filter.Chain, error) {
	ft, err := filter.FiletypeForExtension(rec.Filetype)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("download", "%v", err)
	}
	comp, err := filter.CompressionForExtension(rec.Compression)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("download", "%v", err)
	}
	encName, err := filter.EncryptionNameForExtension(rec.Encryption)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("download", "%v", err)
	}
	var password string
	if filter.NeedsPassword(encName) {
		if password, err = resolvePassword(e.c, e.stderr, false); err != nil {
			return filter.Chain{}, err
		}
	}
	enc, err := filter.NewEncryption(encName, password)
	if err != nil {
		return filter.Chain{}, transfer.ConfigError("download", "%v", err)
	}
	return filter.Chain{Filetype: ft, Compression: comp, Encryption: enc}, nil
}

// restore reverses chain over the retrieval and writes the result under
// dir, either extracted or as the container file. The retrieval is read to
// its end and verified before anything becomes visible in dir: extraction
// goes to a staging directory that is promoted only after verification,
// and an unverified container file is removed.
func restore(ctx context.Context, chain filter.Chain, retrieval *transfer.Retrieval, dir, archiveName string, unpack bool) (string, error) {
	rc, err := chain.Open(ctx, retrieval)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(rc)

	out := dir
	var staging string
	if unpack {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		if staging, err = os.MkdirTemp(dir, ".ecsu-unpack-"); err != nil {
			return "", err
		}
		defer func() { _ = os.RemoveAll(staging) }()
		if err := chain.Filetype.Unpack(ctx, rc, staging); err != nil {
			return "", fmt.Errorf("%s unpack: %w", chain.Filetype.Name(), err)
		}
	} else {
		out = filepath.Join(dir, containerName(archiveName, chain))
		if _, err := iox.CreateFile(out, rc, 0o600); err != nil {
			return "", err
		}
	}

	// A container can end before the last window.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return "", err
	}
	if _, err := stream.Drain(ctx, io.Discard, retrieval); err != nil {
		return "", err
	}
	if err := retrieval.Verify(); err != nil {
		if !unpack {
			_ = os.Remove(out)
		}
		return "", err
	}
	if unpack {
		if err := promote(staging, dir); err != nil {
			return "", err
		}
	}
	return out, nil
}

// promote moves everything extracted under staging into dir, keeping the
// layout. It fails without moving anything if a file already exists in dir.
func promote(staging, dir string) error {
	var dirs, files []string
	err := filepath.WalkDir(staging, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(staging, p)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, rel)
			return nil
		}
		if _, err := os.Lstat(filepath.Join(dir, rel)); err == nil {
			return fmt.Errorf("%s already exists", filepath.Join(dir, rel))
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return err
	}
	// WalkDir visits parents first.
	for _, rel := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, rel), 0o755); err != nil {
			return err
		}
	}
	for _, rel := range files {
		if err := os.Rename(filepath.Join(staging, rel), filepath.Join(dir, rel)); err != nil {
			return err
		}
	}
	return nil
}

// containerName strips the encryption and compression extensions.
func containerName(archiveName string, chain filter.Chain) string {
	name := strings.TrimSuffix(archiveName, chain.Encryption.Extension())
	return strings.TrimSuffix(name, chain.Compression.Extension())
}
