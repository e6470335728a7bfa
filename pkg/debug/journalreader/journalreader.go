// The journalreader command is an interactive browser for journal files:
// a navigable list of records with a per-record detail view.
//
// Usage:
//
//	journalreader <journal-base-or-file>
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"keelstore/pkg/debug/ui"
	"keelstore/pkg/journal"
	"keelstore/pkg/primitives"
)

type entry struct {
	address primitives.JournalAddress
	ts      primitives.Timestamp
	kind    journal.Type
	summary string
	detail  string
}

type entriesLoadedMsg struct {
	entries []entry
	err     error
}

type model struct {
	path       string
	entries    []entry
	cursor     int
	detailMode bool
	viewport   viewport.Model
	width      int
	height     int
	err        error
}

func initialModel(path string) model {
	return model{path: path}
}

func (m model) Init() tea.Cmd {
	return loadEntries(m.path)
}

type collector struct {
	entries []entry
}

func (c *collector) VisitRecord(address primitives.JournalAddress, ts primitives.Timestamp,
	recordType journal.Type, decoded any) error {
	c.entries = append(c.entries, entry{
		address: address,
		ts:      ts,
		kind:    recordType,
		summary: summarize(recordType, decoded),
		detail:  fmt.Sprintf("%+v", decoded),
	})
	return nil
}

func (c *collector) VisitEOF(address primitives.JournalAddress) error {
	c.entries = append(c.entries, entry{address: address, summary: "abnormal end of file"})
	return nil
}

func summarize(recordType journal.Type, decoded any) string {
	switch r := decoded.(type) {
	case journal.JH:
		return fmt.Sprintf("block %d, blockSize %d", r.BaseAddress, r.BlockSize)
	case journal.JE:
		return fmt.Sprintf("block end at %d", r.CurrentAddress)
	case journal.IV:
		return fmt.Sprintf("volume %q handle %d", r.Name, r.Handle)
	case journal.IT:
		return fmt.Sprintf("tree %q handle %d", r.TreeName, r.Handle)
	case journal.PA:
		return fmt.Sprintf("page %d, %d bytes", r.PageAddress, len(r.Image))
	case journal.PM:
		return fmt.Sprintf("%d page map entries", len(r.Entries))
	case journal.TM:
		return fmt.Sprintf("%d transaction map entries", len(r.Entries))
	case journal.CP:
		return fmt.Sprintf("checkpoint, base %d", r.BaseAddress)
	case journal.TS:
		return fmt.Sprintf("transaction start %d", r.StartTimestamp)
	case journal.TC:
		return "transaction commit"
	case journal.SR:
		return fmt.Sprintf("store tree %d, %d key bytes, %d value bytes", r.TreeHandle, len(r.Key), len(r.Value))
	case journal.DR:
		return fmt.Sprintf("delete range tree %d", r.TreeHandle)
	case journal.DT:
		return fmt.Sprintf("drop tree %d", r.TreeHandle)
	}
	return recordType.String()
}

func loadEntries(path string) tea.Cmd {
	return func() tea.Msg {
		scanner, err := journal.NewScanner(journal.ScanOptions{Path: path})
		if err != nil {
			return entriesLoadedMsg{err: err}
		}
		c := &collector{}
		if err := scanner.Scan(c); err != nil {
			return entriesLoadedMsg{err: err}
		}
		return entriesLoadedMsg{entries: c.entries}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case entriesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.entries = msg.entries
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		if m.detailMode {
			switch {
			case key.Matches(msg, ui.CommonKeys.Back):
				m.detailMode = false
				return m, nil
			case key.Matches(msg, ui.CommonKeys.Quit):
				return m, tea.Quit
			}
		} else {
			switch {
			case key.Matches(msg, ui.CommonKeys.Quit):
				return m, tea.Quit
			case key.Matches(msg, ui.CommonKeys.Up):
				if m.cursor > 0 {
					m.cursor--
				}
			case key.Matches(msg, ui.CommonKeys.Down):
				if m.cursor < len(m.entries)-1 {
					m.cursor++
				}
			case key.Matches(msg, ui.CommonKeys.Select):
				if m.cursor < len(m.entries) {
					m.detailMode = true
					m.viewport.SetContent(m.renderDetail())
				}
			}
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.err != nil {
		return ui.ErrorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if len(m.entries) == 0 {
		return "Loading journal records...\n"
	}

	var b strings.Builder
	b.WriteString(ui.TitleStyle.Render("Journal Record Viewer") + "\n\n")

	if m.detailMode {
		b.WriteString(m.viewport.View())
		b.WriteString("\n\n")
		b.WriteString(ui.HelpStyle.Render("esc: back | q: quit"))
	} else {
		b.WriteString(m.renderList())
	}
	b.WriteString("\n" + ui.HelpStyle.Render(fmt.Sprintf("%s | %d records", m.path, len(m.entries))))
	return b.String()
}

func (m model) renderList() string {
	var b strings.Builder
	b.WriteString(ui.HeaderStyle.Render(fmt.Sprintf(" Records: %d ", len(m.entries))) + "\n\n")

	start := m.cursor - 10
	if start < 0 {
		start = 0
	}
	end := start + 20
	if end > len(m.entries) {
		end = len(m.entries)
	}
	for i := start; i < end; i++ {
		line := m.formatLine(m.entries[i], i)
		if i == m.cursor {
			line = ui.SelectedItemStyle.Render("▶ " + line)
		} else {
			line = ui.ItemStyle.Render("  " + line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("↑/↓: navigate | enter: details | q: quit"))
	return b.String()
}

func (m model) formatLine(e entry, index int) string {
	kind := e.kind.String()
	if e.kind == 0 {
		kind = "~~"
	}
	typeStyle := lipgloss.NewStyle().Foreground(colorFor(e.kind)).Bold(true)
	return fmt.Sprintf("[%4d] %s │ %s %s │ %s %s │ %s",
		index+1,
		typeStyle.Render(kind),
		ui.LabelStyle.Render("addr:"), ui.ValueStyle.Render(fmt.Sprintf("%d", e.address)),
		ui.LabelStyle.Render("ts:"), ui.ValueStyle.Render(fmt.Sprintf("%d", e.ts)),
		e.summary)
}

func colorFor(kind journal.Type) lipgloss.AdaptiveColor {
	switch kind {
	case journal.TypeTS, journal.TypeTC:
		return ui.SuccessColor
	case journal.TypeSR, journal.TypeDR, journal.TypeDT:
		return ui.SecondaryColor
	case journal.TypePA, journal.TypePM, journal.TypeTM:
		return ui.PrimaryColor
	case journal.TypeJH, journal.TypeJE, journal.TypeCP:
		return ui.WarningColor
	default:
		return ui.MutedColor
	}
}

func (m model) renderDetail() string {
	e := m.entries[m.cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", ui.LabelStyle.Render("Type:"), e.kind)
	fmt.Fprintf(&b, "%s %d\n", ui.LabelStyle.Render("Address:"), e.address)
	fmt.Fprintf(&b, "%s %d\n\n", ui.LabelStyle.Render("Timestamp:"), e.ts)
	b.WriteString(ui.DetailStyle.Render(e.detail))
	return b.String()
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: journalreader <journal-base-or-file>")
		os.Exit(1)
	}
	p := tea.NewProgram(initialModel(os.Args[1]), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
