// Package tui is a terminal viewer for the relay's bridge stream.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/presence-relay/relay/internal/rpc"
)

const helpMarkdown = `# relay-tui

Live view of every activity the relay is broadcasting on its bridge.

| Key | Action |
|-----|--------|
| j / ↓ | next activity |
| k / ↑ | previous activity |
| ? | toggle this help |
| esc | close help |
| q | quit |

Activities come from two places:

- **clients** that called ` + "`SET_ACTIVITY`" + ` over IPC or WebSocket
- **detected games** found by the process scanner

Elapsed time counts from ` + "`timestamps.start`" + ` when the activity has one.
`

type tickMsg time.Time

// Entry is one row: the latest activity published for a socket.
type Entry struct {
	SocketID string
	PID      int
	Activity map[string]any
	Seen     time.Time
}

// Title picks the most descriptive label the activity carries.
func (e Entry) Title() string {
	for _, k := range []string{"name", "details", "state"} {
		if s, ok := e.Activity[k].(string); ok && s != "" {
			return s
		}
	}
	if id, ok := e.Activity["application_id"].(string); ok && id != "" {
		return id
	}
	return e.SocketID
}

// Started returns timestamps.start in milliseconds, if present.
func (e Entry) Started() (time.Time, bool) {
	ts, ok := e.Activity["timestamps"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	switch v := ts["start"].(type) {
	case float64:
		return time.UnixMilli(int64(v)), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(n), true
		}
	}
	return time.Time{}, false
}

type Model struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	keys   KeyMap
	now    func() time.Time

	width  int
	height int

	entries  map[string]*Entry
	order    []string
	selected int

	connected bool
	showHelp  bool
	help      string
}

func New(client *Client) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:  client,
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.client.Listen(m.ctx), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help = ""
		if m.showHelp {
			m.help = m.renderHelp()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tick()

	case ConnectedMsg:
		m.connected = true
		// The bridge replays its cache on connect.
		m.entries = make(map[string]*Entry)
		m.rebuildOrder()
		return m, m.client.ReadLoop()

	case DisconnectedMsg:
		m.connected = false
		return m, m.client.Listen(m.ctx)

	case EventMsg:
		m.apply(msg.Event)
		return m, m.client.ReadLoop()
	}
	return m, nil
}

func (m *Model) apply(ev rpc.ActivityEvent) {
	if ev.Activity == nil {
		delete(m.entries, ev.SocketID)
	} else {
		e := &Entry{SocketID: ev.SocketID, Activity: ev.Activity, Seen: m.now()}
		if ev.PID != nil {
			e.PID = *ev.PID
		}
		m.entries[ev.SocketID] = e
	}
	m.rebuildOrder()
}

func (m *Model) rebuildOrder() {
	m.order = m.order[:0]
	for id := range m.entries {
		m.order = append(m.order, id)
	}
	sort.Slice(m.order, func(i, j int) bool {
		a, b := m.entries[m.order[i]], m.entries[m.order[j]]
		if ta, tb := strings.ToLower(a.Title()), strings.ToLower(b.Title()); ta != tb {
			return ta < tb
		}
		return a.SocketID < b.SocketID
	})
	if m.selected >= len(m.order) {
		m.selected = max(len(m.order)-1, 0)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		m.client.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		if m.showHelp && m.help == "" {
			m.help = m.renderHelp()
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.showHelp = false
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if len(m.order) > 0 {
			m.selected = (m.selected + 1) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.order) > 0 {
			m.selected = (m.selected - 1 + len(m.order)) % len(m.order)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	status := offlineStyle.Render("● reconnecting")
	if m.connected {
		status = onlineStyle.Render("● connected")
	}
	b.WriteString(titleStyle.Render("relay") + "  " + status + "  " + dimStyle.Render(fmt.Sprintf("%d active", len(m.order))))
	b.WriteString("\n\n")

	if m.showHelp {
		help := m.help
		if help == "" {
			help = m.renderHelp()
		}
		b.WriteString(help)
		return b.String()
	}

	if len(m.order) == 0 {
		b.WriteString(dimStyle.Render("no activities"))
	} else {
		rows := make([]string, 0, len(m.order))
		for i, id := range m.order {
			rows = append(rows, m.renderRow(m.entries[id], i == m.selected))
		}
		b.WriteString(panelStyle.Render(strings.Join(rows, "\n")))
		if e := m.entries[m.order[m.selected]]; e != nil {
			b.WriteString("\n" + dimStyle.Render("socket "+e.SocketID))
		}
	}

	b.WriteString("\n" + dimStyle.Render("? help  q quit"))
	return b.String()
}

func (m Model) renderRow(e *Entry, selected bool) string {
	cursor := "  "
	title := e.Title()
	if selected {
		cursor = "▸ "
		title = selectedStyle.Render(title)
	}
	cols := []string{cursor + title}
	if e.PID != 0 {
		cols = append(cols, dimStyle.Render("pid "+strconv.Itoa(e.PID)))
	}
	if start, ok := e.Started(); ok {
		cols = append(cols, formatElapsed(m.now().Sub(start)))
	}
	return strings.Join(cols, "  ")
}

func (m Model) renderHelp() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle("dark"), glamour.WithWordWrap(width-4))
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d", mins, secs)
}
