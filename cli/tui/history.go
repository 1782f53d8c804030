package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Kovercrosser/easy-cold-storage-uploader/ledger"
)

const historyTableHeight = 12

// HistoryModel is a Bubble Tea model browsing ledger records. The detail
// pane follows the table cursor.
type HistoryModel struct {
	records  []ledger.Record
	table    table.Model
	quitting bool
}

// NewHistoryModel creates a history model over records, newest first.
func NewHistoryModel(records []ledger.Record) HistoryModel {
	columns := []table.Column{
		{Title: "Uploaded (UTC)", Width: 19},
		{Title: "Type", Width: 7},
		{Title: "File", Width: 34},
		{Title: "Size", Width: 10},
		{Title: "Dry run", Width: 7},
	}
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, historyRow(r))
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(historyTableHeight),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(s)

	return HistoryModel{records: records, table: t}
}

func historyRow(r ledger.Record) table.Row {
	dry := ""
	if r.Info.DryRun {
		dry = "yes"
	}
	return table.Row{
		r.UploadedAt.UTC().Format(time.DateTime),
		string(r.TransferType),
		r.Info.FileName,
		humanize.IBytes(uint64(max(r.Info.Size, 0))),
		dry,
	}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Transfer history (%d)", len(m.records))))
	b.WriteString("\n")
	if len(m.records) == 0 {
		b.WriteString(MutedStyle.Render("(no transfers recorded)"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n\n")
		b.WriteString(m.renderDetail(m.records[m.table.Cursor()]))
	}
	b.WriteString(HelpStyle.Render("↑/↓ select • q quit"))
	return b.String()
}

func (m HistoryModel) renderDetail(r ledger.Record) string {
	fields := [][2]string{
		{"Record", r.ID},
		{"Archive", r.Info.ArchiveID},
		{"Location", r.Info.Location},
		{"Checksum", r.Info.Checksum},
		{"Vault", r.Info.Vault},
		{"Region", r.Info.Region},
		{"Filters", r.Extension()},
		{"Parts", fmt.Sprintf("%d", r.Info.Parts)},
	}
	var b strings.Builder
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		b.WriteString(LabelStyle.Render(f[0]))
		b.WriteString(ValueStyle.Render(f[1]))
		b.WriteString("\n")
	}
	return b.String()
}

// RunHistoryTUI runs the history browser.
func RunHistoryTUI(records []ledger.Record) error {
	p := tea.NewProgram(NewHistoryModel(records), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderHistoryStatic renders the history view without a running program.
func RenderHistoryStatic(records []ledger.Record) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewHistoryModel(records).View())
}
