package cmd

import (
	"io"

	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/render"
	"github.com/Kovercrosser/easy-cold-storage-uploader/cli/tui"
	"github.com/Kovercrosser/easy-cold-storage-uploader/progress"
)

// progressDisplay feeds a Reporter into the live view on a terminal, or
// into one status line per change otherwise.
type progressDisplay struct {
	reporter *progress.Reporter
	view     *tui.ProgressView
}

func startProgress(out io.Writer, title string) *progressDisplay {
	if render.IsTerminal(out) {
		view := tui.StartProgressView(out, title)
		return &progressDisplay{reporter: progress.NewReporter(view), view: view}
	}
	return &progressDisplay{reporter: progress.NewReporter(tui.NewLineRenderer(out))}
}

// live reports whether the interactive view owns the output.
func (p *progressDisplay) live() bool { return p.view != nil }

// stop flushes pending events and tears the view down.
func (p *progressDisplay) stop() {
	p.reporter.Stop()
	if p.view != nil {
		_ = p.view.Stop()
	}
}
