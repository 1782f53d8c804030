// Package main provides the ecsu CLI entrypoint.
//
// Usage:
//
//	ecsu [--profile name] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: any failure, including a cancelled transfer
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/cmd"
	"github.com/Kovercrosser/easy-cold-storage-uploader/transfer"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = exitErrHandler

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for every error it saw.
		// This branch handles unexpected errors that weren't routed through it.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(report(os.Stderr, err))
}

// report writes the user-facing line for err and returns the exit code.
// A cancelled transfer prints only "aborted by user".
func report(w io.Writer, err error) int {
	if errors.Is(err, transfer.ErrCancelled) {
		fmt.Fprintln(w, transfer.ErrCancelled.Error())
		return 1
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
