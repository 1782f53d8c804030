package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/render"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/tui"
	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recorded uploads, newest first",
		Flags: append(ReadOnlyFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of uploads to return (0 = no limit)",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by transfer method: glacier, s3, save",
			},
		),
		Action: listAction,
	}
}

// HistoryRow is the table form of a ledger record.
type HistoryRow struct {
	ID         string    `json:"id" yaml:"id"`
	UploadedAt time.Time `json:"uploaded_at" yaml:"uploaded_at"`
	Type       string    `json:"type" yaml:"type"`
	FileName   string    `json:"file_name" yaml:"file_name"`
	ArchiveID  string    `json:"archive_id" yaml:"archive_id"`
	Size       string    `json:"size" yaml:"size"`
	DryRun     bool      `json:"dryrun" yaml:"dryrun"`
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := loadEnv(c)
	if err != nil {
		return err
	}

	var filter ledger.Filter
	filter.Limit = c.Int("limit")
	if s := c.String("type"); s != "" {
		if filter.Type, err = types.ParseTransferType(s); err != nil {
			return transfer.ConfigError("list", "%v", err)
		}
	}

	led, err := e.openLedger(c.Context)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	records, err := led.List(c.Context, filter)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewHistory, records)
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(records) > listWarningThreshold && filter.Limit == 0 && render.IsTerminal(e.stderr) {
		fmt.Fprintf(e.stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(records))
	}

	if r.Format() != render.FormatTable {
		if records == nil {
			records = []ledger.Record{}
		}
		return r.Render(records)
	}
	rows := make([]HistoryRow, len(records))
	for i, rec := range records {
		rows[i] = HistoryRow{
			ID:         rec.ID,
			UploadedAt: rec.UploadedAt,
			Type:       string(rec.TransferType),
			FileName:   rec.Info.FileName,
			ArchiveID:  rec.Info.ArchiveID,
			Size:       humanize.IBytes(uint64(rec.Info.Size)),
			DryRun:     rec.Info.DryRun,
		}
	}
	return r.Render(rows)
}
