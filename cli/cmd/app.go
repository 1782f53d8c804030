package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// NewApp returns the ecsu application with every command registered.
// Exit handling is left to the caller.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "ecsu",
		Usage:   "Archive files to cold storage and restore them",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		// Paths may contain commas.
		DisableSliceFlagSeparator: true,
		Commands: []*cli.Command{
			UploadCommand(),
			DownloadCommand(),
			ListCommand(),
			ProfileCommand(),
			VersionCommand(commit),
		},
	}
}
