package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Kovercrosser/easy-cold-storage-uploader/progress"
)

// rowsMsg carries a fresh copy of the progress table.
type rowsMsg []progress.Event

// finishMsg ends the live view after a final render.
type finishMsg struct{}

// ProgressModel is a Bubble Tea model showing one row per transfer worker.
// It never reads the keyboard; interrupts arrive as signals and cancel the
// transfer, which then finishes the view.
type ProgressModel struct {
	title   string
	rows    []progress.Event
	spinner spinner.Model
	done    bool
}

// NewProgressModel creates an empty progress model.
func NewProgressModel(title string) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return ProgressModel{title: title, spinner: s}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case rowsMsg:
		m.rows = msg
		return m, nil
	case finishMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	header := m.title
	if !m.done {
		header = m.spinner.View() + " " + header
	}
	b.WriteString(TitleStyle.Render(header))
	b.WriteString("\n")

	for _, e := range m.rows {
		b.WriteString(fmt.Sprintf("%-10s %-4s %s  %s\n",
			e.WorkerKind,
			e.WorkerID,
			StatusStyle(e.Status).Width(10).Render(string(e.Status)),
			e.Message,
		))
	}
	if len(m.rows) > 0 {
		b.WriteString(SummaryStyle.Render(summary(m.rows)))
		b.WriteString("\n")
	}
	return b.String()
}

// summary formats the per-status counts in a fixed order.
func summary(rows []progress.Event) string {
	counts := progress.Counts(rows)
	order := []progress.Status{
		progress.StatusWorking, progress.StatusWaiting, progress.StatusFinished,
		progress.StatusFailed, progress.StatusCancelled,
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		if n := counts[s]; n > 0 {
			parts = append(parts, StatusStyle(s).Render(fmt.Sprintf("%d %s", n, s)))
		}
	}
	return strings.Join(parts, "  ")
}

// ProgressView runs a ProgressModel in the background and implements
// progress.Renderer so a Reporter can drive it.
type ProgressView struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

var _ progress.Renderer = (*ProgressView)(nil)

// StartProgressView starts the live view writing to out.
func StartProgressView(out io.Writer, title string) *ProgressView {
	v := &ProgressView{
		program: tea.NewProgram(
			NewProgressModel(title),
			tea.WithOutput(out),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		_, v.err = v.program.Run()
	}()
	return v
}

// Render implements progress.Renderer.
func (v *ProgressView) Render(rows []progress.Event) {
	v.program.Send(rowsMsg(rows))
}

// Stop draws the final table and waits for the program to exit.
func (v *ProgressView) Stop() error {
	v.program.Send(finishMsg{})
	<-v.done
	return v.err
}

// LineRenderer is the progress.Renderer for non-terminal output. It prints
// one line per status change and nothing for repeated statuses.
type LineRenderer struct {
	out io.Writer

	mu   sync.Mutex
	last map[string]progress.Status
}

var _ progress.Renderer = (*LineRenderer)(nil)

// NewLineRenderer creates a LineRenderer writing to out.
func NewLineRenderer(out io.Writer) *LineRenderer {
	return &LineRenderer{out: out, last: make(map[string]progress.Status)}
}

// Render implements progress.Renderer.
func (r *LineRenderer) Render(rows []progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range rows {
		id := e.WorkerKind + "/" + e.WorkerID
		if r.last[id] == e.Status {
			continue
		}
		r.last[id] = e.Status
		fmt.Fprintf(r.out, "%s %s %s: %s %s\n",
			e.Time.UTC().Format(time.TimeOnly), e.WorkerKind, e.WorkerID, e.Status, e.Message)
	}
}
