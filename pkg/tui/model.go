// Package tui renders a live view of decoded telemetry: one row per channel
// with its latest value, plus the tail of the device's out-of-band output.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"telemetry/pkg/logger"
	"telemetry/pkg/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)
)

const maxLogLines = 200

type eventMsg protocol.Event

type closedMsg struct{}

type row struct {
	channel logger.Channel
	value   any
	updated time.Time
}

// Model is the bubbletea model for the live view.
type Model struct {
	events <-chan protocol.Event
	title  string

	rows    map[uint8]*row
	order   []uint8
	log     []string
	partial string

	headers  int
	packets  int
	oobBytes uint64
	last     time.Time
	closed   bool

	width  int
	height int
	now    func() time.Time
}

// New builds a model fed from events. defs seeds the table when a header was
// seen before the view started.
func New(title string, events <-chan protocol.Event, defs []protocol.Definition) Model {
	m := Model{
		events: events,
		title:  title,
		rows:   make(map[uint8]*row),
		now:    time.Now,
	}
	m.setDefinitions(defs)
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan protocol.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.log = nil
			m.partial = ""
		}
		return m, nil

	case eventMsg:
		m.apply(protocol.Event(msg))
		return m, waitForEvent(m.events)

	case closedMsg:
		m.closed = true
		return m, nil
	}
	return m, nil
}

func (m *Model) apply(ev protocol.Event) {
	m.last = ev.Timestamp
	if m.last.IsZero() {
		m.last = m.now()
	}
	if ev.IsOutOfBand() {
		m.oobBytes += uint64(len(ev.OutOfBand))
		m.appendLog(string(ev.OutOfBand))
		return
	}

	m.packets++
	switch pkt := ev.Packet.(type) {
	case *protocol.HeaderPacket:
		m.headers++
		m.setDefinitions(pkt.Definitions)
	case *protocol.DataPacket:
		for _, s := range pkt.Samples {
			if r, ok := m.rows[s.DataID]; ok {
				r.value = s.Value
				r.updated = m.last
			}
		}
	}
}

func (m *Model) setDefinitions(defs []protocol.Definition) {
	m.rows = make(map[uint8]*row, len(defs))
	m.order = make([]uint8, 0, len(defs))
	for _, def := range defs {
		m.rows[def.ID()] = &row{channel: logger.Describe(def)}
		m.order = append(m.order, def.ID())
	}
}

// appendLog splits text into lines, holding back an unterminated tail until
// the rest of the line arrives.
func (m *Model) appendLog(text string) {
	text = m.partial + strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	m.partial = lines[len(lines)-1]
	m.log = append(m.log, lines[:len(lines)-1]...)
	if over := len(m.log) - maxLogLines; over > 0 {
		m.log = m.log[over:]
	}
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(" " + m.title + " "))
	sb.WriteString("\n\n")
	sb.WriteString(m.renderChannels())
	sb.WriteString("\n")
	sb.WriteString(m.renderLog())
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	return sb.String()
}

func (m Model) renderChannels() string {
	if len(m.order) == 0 {
		return dimStyle.Render("waiting for header…") + "\n"
	}
	cols := []string{"ID", "NAME", "VALUE", "UNITS", "TYPE"}
	table := [][]string{cols}
	for _, id := range m.order {
		r := m.rows[id]
		value := "-"
		if r.value != nil {
			value = formatValue(r.value)
		}
		table = append(table, []string{r.channel.ID, r.channel.Display, value, r.channel.Units, r.channel.Type})
	}

	widths := make([]int, len(cols))
	for _, line := range table {
		for i, cell := range line {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	for n, line := range table {
		style := rowStyle
		switch {
		case n == 0:
			style = headerCellStyle
		case m.rows[m.order[n-1]].value == nil:
			style = staleStyle
		}
		cells := make([]string, len(line))
		for i, cell := range line {
			cells[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		sb.WriteString(style.Render(strings.Join(cells, "  ")))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderLog() string {
	lines := m.log
	if m.partial != "" {
		lines = append(lines[:len(lines):len(lines)], m.partial)
	}
	limit := 8
	if m.height > 0 {
		limit = max(m.height-len(m.order)-8, 3)
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	if len(lines) == 0 {
		return dimStyle.Render("no device output") + "\n"
	}
	return logStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func (m Model) renderStatus() string {
	parts := []string{
		fmt.Sprintf("packets: %s", humanize.Comma(int64(m.packets))),
		fmt.Sprintf("headers: %d", m.headers),
		fmt.Sprintf("text: %s", humanize.Bytes(m.oobBytes)),
	}
	if !m.last.IsZero() {
		parts = append(parts, "last: "+humanize.RelTime(m.last, m.now(), "ago", "from now"))
	}
	if m.closed {
		parts = append(parts, "stream closed")
	}
	parts = append(parts, "q: quit  c: clear log")
	return statusBarStyle.Render(strings.Join(parts, "  |  "))
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return humanize.FtoaWithDigits(n, 4)
	case uint64:
		return humanize.Comma(int64(n))
	case []any:
		parts := make([]string, len(n))
		for i, e := range n {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}
