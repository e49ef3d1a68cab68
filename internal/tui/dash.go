// internal/tui/dash.go
//
// Live run dashboard built on bubbletea's Elm-style loop:
//
// 1. Model: the dashboard state (current play/task, per-host counters)
// 2. Update: folds run events arriving from the event bridge into the state
// 3. View: renders the state with lipgloss
//
// The dashboard subscribes to the event router with the run wildcard, so it
// can be opened before a run starts and will attach to whatever run arrives.

package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/converge/internal/eventbridge"
	"github.com/kingrea/converge/internal/logbook"
	"github.com/kingrea/converge/internal/report"
)

const (
	eventLogLimit = 12

	// The logbook viewport shows the most recent tailLines entries, polled
	// once a second.
	tailLines    = 64
	tailHeight   = 8
	tailInterval = time.Second
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22bb66"))
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ddaa22"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#dd4444"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type eventMsg eventbridge.Event

type streamClosedMsg struct{}

type tailMsg []string

// Dash is the live run dashboard model.
type Dash struct {
	events  <-chan eventbridge.Event
	logbook *logbook.Logbook

	spinner   spinner.Model
	viewport  viewport.Model
	tailReady bool
	width     int
	height    int

	runID     string
	playbook  string
	checkMode bool
	play      string
	task      string
	stats     map[string]report.HostStats
	log       []string
	done      bool
	closed    bool
}

// NewDash builds a dashboard reading from an event stream, normally a
// wildcard router subscription. A non-nil logbook adds a live tail viewport
// below the event log.
func NewDash(events <-chan eventbridge.Event, lb *logbook.Logbook) *Dash {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return &Dash{
		events:   events,
		logbook:  lb,
		spinner:  sp,
		viewport: viewport.New(72, tailHeight),
		stats:    map[string]report.HostStats{},
	}
}

// Init starts the spinner, the event pump, and the logbook poll.
func (d *Dash) Init() tea.Cmd {
	cmds := []tea.Cmd{d.spinner.Tick, d.waitForEvent()}
	if cmd := d.pollTail(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// pollTail re-reads the logbook tail on a fixed cadence. The logbook is
// shared between processes through the filesystem, so polling is how lines
// written by a concurrent run become visible.
func (d *Dash) pollTail() tea.Cmd {
	if d.logbook == nil {
		return nil
	}
	return tea.Tick(tailInterval, func(time.Time) tea.Msg {
		return tailMsg(d.logbook.Tail(tailLines))
	})
}

func (d *Dash) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-d.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(evt)
	}
}

// Update folds messages into the model.
func (d *Dash) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		if msg.Width > 4 {
			d.viewport.Width = msg.Width - 4
		}
		return d, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		}
		var cmd tea.Cmd
		d.viewport, cmd = d.viewport.Update(msg)
		return d, cmd

	case tailMsg:
		atBottom := d.viewport.AtBottom()
		d.viewport.SetContent(strings.Join(msg, "\n"))
		if atBottom {
			d.viewport.GotoBottom()
		}
		d.tailReady = len(msg) > 0
		return d, d.pollTail()

	case eventMsg:
		d.apply(eventbridge.Event(msg))
		return d, d.waitForEvent()

	case streamClosedMsg:
		d.closed = true
		return d, nil

	case spinner.TickMsg:
		if d.done || d.closed {
			return d, nil
		}
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}
	return d, nil
}

// apply folds one run event into the dashboard state.
func (d *Dash) apply(evt eventbridge.Event) {
	switch evt.Type {
	case eventbridge.TypeRunStart:
		d.runID = evt.RunID
		d.stats = map[string]report.HostStats{}
		d.log = nil
		d.done = false
		var payload struct {
			Playbook  string `json:"playbook"`
			CheckMode bool   `json:"check_mode"`
		}
		if len(evt.Payload) > 0 {
			_ = json.Unmarshal(evt.Payload, &payload)
		}
		d.playbook = payload.Playbook
		d.checkMode = payload.CheckMode
		d.appendLog(fmt.Sprintf("run %s started", shortID(evt.RunID)))

	case eventbridge.TypePlayStart:
		d.play = evt.Play
		d.task = ""
		d.appendLog("play: " + evt.Play)

	case eventbridge.TypeTaskStart:
		d.task = evt.Task

	case eventbridge.TypeHandlerTriggered:
		d.task = evt.Task
		d.appendLog("handler: " + evt.Task)

	case eventbridge.TypeTaskOK:
		d.bump(evt.Host, func(s *report.HostStats) { s.OK++ })

	case eventbridge.TypeTaskChanged:
		d.bump(evt.Host, func(s *report.HostStats) { s.OK++; s.Changed++ })
		d.appendLog(fmt.Sprintf("changed: %s (%s)", evt.Host, evt.Task))

	case eventbridge.TypeTaskSkipped:
		d.bump(evt.Host, func(s *report.HostStats) { s.Skipped++ })

	case eventbridge.TypeTaskFailed:
		d.bump(evt.Host, func(s *report.HostStats) { s.Failed++ })
		d.appendLog(fmt.Sprintf("FAILED: %s (%s)", evt.Host, evt.Task))

	case eventbridge.TypeHostUnreachable:
		d.bump(evt.Host, func(s *report.HostStats) { s.Unreachable++ })
		d.appendLog("UNREACHABLE: " + evt.Host)

	case eventbridge.TypeRunRecap:
		d.done = true
		d.task = ""
		var stats map[string]report.HostStats
		if len(evt.Payload) > 0 && json.Unmarshal(evt.Payload, &stats) == nil && len(stats) > 0 {
			d.stats = stats
		}
		d.appendLog(fmt.Sprintf("run %s finished", shortID(evt.RunID)))
	}
}

func (d *Dash) bump(host string, fn func(*report.HostStats)) {
	if host == "" {
		return
	}
	stats := d.stats[host]
	fn(&stats)
	d.stats[host] = stats
}

func (d *Dash) appendLog(line string) {
	d.log = append(d.log, line)
	if len(d.log) > eventLogLimit {
		d.log = d.log[len(d.log)-eventLogLimit:]
	}
}

func (d *Dash) hosts() []string {
	hosts := make([]string, 0, len(d.stats))
	for host := range d.stats {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// View renders the dashboard.
func (d *Dash) View() string {
	var b strings.Builder

	title := "converge dash"
	if d.runID != "" {
		title = fmt.Sprintf("converge dash · run %s", shortID(d.runID))
	}
	if d.checkMode {
		title += " · check mode"
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	var status string
	switch {
	case d.done:
		status = "finished"
	case d.closed:
		status = "stream closed"
	case d.runID == "":
		status = d.spinner.View() + " waiting for a run"
	default:
		status = d.spinner.View() + " running"
		if d.play != "" {
			status += " · play: " + d.play
		}
		if d.task != "" {
			status += " · task: " + d.task
		}
	}
	b.WriteString(boxStyle.Render(status))
	b.WriteString("\n")

	if len(d.stats) > 0 {
		b.WriteString(boxStyle.Render(d.renderHosts()))
		b.WriteString("\n")
	}
	if len(d.log) > 0 {
		b.WriteString(boxStyle.Render(strings.Join(d.log, "\n")))
		b.WriteString("\n")
	}
	if d.tailReady {
		b.WriteString(boxStyle.Render(footerStyle.Render("logbook") + "\n" + d.viewport.View()))
		b.WriteString("\n")
	}
	b.WriteString(footerStyle.Render("q: quit"))
	return b.String()
}

func (d *Dash) renderHosts() string {
	lines := make([]string, 0, len(d.stats))
	for _, host := range d.hosts() {
		stats := d.stats[host]
		cells := []string{
			fmt.Sprintf("%-24s", host),
			okStyle.Render(fmt.Sprintf("ok=%d", stats.OK)),
			changedStyle.Render(fmt.Sprintf("changed=%d", stats.Changed)),
			failedStyle.Render(fmt.Sprintf("failed=%d", stats.Failed+stats.Unreachable)),
			skippedStyle.Render(fmt.Sprintf("skipped=%d", stats.Skipped)),
		}
		lines = append(lines, strings.Join(cells, "  "))
	}
	return strings.Join(lines, "\n")
}

// Done reports whether a recap has been seen. The dash command checks it
// after the program exits to tell a finished run from a closed-early one.
func (d *Dash) Done() bool {
	return d.done
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
