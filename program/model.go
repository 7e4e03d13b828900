package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"
	"github.com/keilerkonzept/topk/heap"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/channel"
	"github.com/keilerkonzept/live-score-monitor/internal/config"
	"github.com/keilerkonzept/live-score-monitor/internal/metrics"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
	"github.com/keilerkonzept/live-score-monitor/internal/snapshot"
	"github.com/keilerkonzept/live-score-monitor/internal/traffic"
)

var (
	selectedColor = styles.AdaptiveColor{Light: "0", Dark: "9"}
	borderColor   = styles.AdaptiveColor{Light: "#555", Dark: "#555"}
	selectedFg    = styles.NewStyle().Foreground(selectedColor)
	borderFg      = styles.NewStyle().Foreground(borderColor)
	statsFg       = styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
	plotStyle     = styles.NewStyle().
			BorderStyle(styles.NormalBorder()).
			Foreground(borderColor).
			BorderForeground(borderColor)
)

// shownPayloads is how many ranked payloads the stats pane lists.
const shownPayloads = 3

type phase int

const (
	waiting phase = iota
	streaming
	finished
)

type (
	acceptedMsg struct{ conn *channel.Conn }
	receivedMsg struct {
		msg channel.Message
		err error
		at  time.Time
	}
	resumeMsg    struct{}
	StatsTickMsg time.Time
	errMsg       struct{ err error }
)

type model struct {
	cfg *config.Config

	width, height  int
	leftPaneWidth  int
	rightPaneWidth int

	ctx      context.Context
	cancel   context.CancelFunc
	listener *channel.Listener
	conn     *channel.Conn

	registry *series.Registry
	anim     *animator.Animator
	surface  *brailleSurface
	stats    *metrics.Stats
	traffic  *traffic.Tracker

	phase     phase
	paused    bool
	pending   bool
	described bool
	topK      []heap.Item
	notice    string
	err       error

	list      list.Model
	listStyle styles.Style
	spinner   spinner.Model
	help      help.Model
}

func newModel(parent context.Context, cfg *config.Config, reg *series.Registry, listener *channel.Listener, st *metrics.Stats, tr *traffic.Tracker) (*model, error) {
	const (
		defaultWidth  = 80
		defaultHeight = 20
	)

	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = styles.NewStyle().
		Border(styles.NormalBorder(), false, false, false, true).
		BorderForeground(borderColor).
		Foreground(selectedColor).
		Padding(0, 0, 0, 1)
	d.Styles.SelectedDesc = d.Styles.SelectedTitle.
		Foreground(selectedColor)
	d.ShowDescription = true

	l := list.New(slotItems(reg), d, defaultWidth/2-2, defaultHeight)
	l.Styles.NoItems = l.Styles.NoItems.Padding(0, 2)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedFg

	surface := newBrailleSurface(defaultWidth/2-2, defaultHeight-3)
	anim := animator.New(reg, surface, st)
	if err := anim.Initialize(cfg.Bounds()); err != nil {
		return nil, errors.Wrap(err, "initialize animator")
	}

	ctx, cancel := context.WithCancel(parent)
	m := &model{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		listener: listener,
		registry: reg,
		anim:     anim,
		surface:  surface,
		stats:    st,
		traffic:  tr,
		list:     l,
		spinner:  sp,
		help:     help.New(),
	}
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(defaultWidth, 40)
	return m, nil
}

type slotItem struct {
	slot    int
	name    string
	summary string
}

func (i slotItem) Title() string       { return fmt.Sprintf("#%d %s", i.slot, i.name) }
func (i slotItem) Description() string { return "   " + i.summary }
func (i slotItem) FilterValue() string { return i.name }

func slotItems(reg *series.Registry) []list.Item {
	items := make([]list.Item, 0, reg.Len())
	for slot, name := range reg.Names() {
		items = append(items, slotItem{slot: slot, name: shortName(name)})
	}
	return items
}

// describeSlots fills in the per-series summary. It runs after the registry is
// frozen, from the first frame on.
func (m *model) describeSlots() {
	items := m.list.Items()
	for i, it := range items {
		s, err := m.registry.Get(i)
		if err != nil {
			continue
		}
		si := it.(slotItem)
		si.summary = summarize(s)
		items[i] = si
	}
	m.list.SetItems(items)
}

func summarize(s series.TimeSeries) string {
	best, err := stats.Max(stats.Float64Data(s.Scores))
	if err != nil {
		return fmt.Sprintf("%d pts", s.Len())
	}
	mean, _ := stats.Mean(stats.Float64Data(s.Scores))
	return fmt.Sprintf("%d pts  %.0f min  best %.1f  mean %.1f", s.Len(), s.Span(), best, mean)
}

// shortName keeps the run directory and file name, e.g. logs-53m/MsPacman-v0_log.
func shortName(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) {
		return filepath.Base(path)
	}
	return dir + "/" + filepath.Base(path)
}

func (m *model) acceptCmd() tui.Cmd {
	return func() tui.Msg {
		conn, err := m.listener.Accept(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return acceptedMsg{conn}
	}
}

// receiveCmd blocks for exactly one message. The next one is only asked
// for after this one has been handled, so receiving and drawing alternate.
func receiveCmd(conn *channel.Conn) tui.Cmd {
	return func() tui.Msg {
		msg, err := conn.Receive()
		return receivedMsg{msg: msg, err: err, at: time.Now()}
	}
}

func doStatsTick() tui.Cmd {
	return tui.Every(time.Second, func(t time.Time) tui.Msg {
		return StatsTickMsg(t)
	})
}

func (m *model) Init() tui.Cmd {
	return tui.Batch(m.spinner.Tick, m.acceptCmd(), doStatsTick())
}

func (m *model) Update(msg tui.Msg) (tui.Model, tui.Cmd) {
	switch msg := msg.(type) {
	case errMsg:
		if m.ctx.Err() == nil {
			m.err = msg.err
		}
		return m, tui.Quit
	case acceptedMsg:
		m.conn = msg.conn
		m.phase = streaming
		m.notice = "producer " + msg.conn.RemoteAddr().String()
		log.WithField("remote", msg.conn.RemoteAddr().String()).Info("streaming")
		return m, receiveCmd(m.conn)
	case receivedMsg:
		return m, m.handleReceived(msg)
	case resumeMsg:
		return m, m.nextReceive()
	case StatsTickMsg:
		m.topK = m.traffic.Top(time.Time(msg), shownPayloads)
		return m, doStatsTick()
	case spinner.TickMsg:
		if m.phase != waiting {
			return m, nil
		}
		var cmd tui.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tui.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tui.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tui.Quit
		case key.Matches(msg, keys.Pause):
			return m, m.togglePause()
		case key.Matches(msg, keys.Export):
			m.export()
			return m, nil
		case key.Matches(msg, keys.Stats):
			m.stats.SetEnabled(!m.stats.Enabled())
			return m, nil
		case key.Matches(msg, keys.Up, keys.Down):
			var cmd tui.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m *model) handleReceived(r receivedMsg) tui.Cmd {
	if r.err != nil {
		if errors.Is(r.err, channel.ErrChannelClosed) || errors.Is(r.err, channel.ErrReceiveTimeout) {
			log.WithError(r.err).Info("channel finished, stopping")
			m.phase = finished
			return tui.Quit
		}
		m.err = r.err
		return tui.Quit
	}
	m.traffic.Observe(r.msg.Payload, r.at)

	frame, err := m.anim.OnMessage(r.msg)
	if err != nil {
		m.err = err
		return tui.Quit
	}
	if !frame.Redrawn {
		log.WithField("payload", r.msg.Payload).Debug("ignored message")
		return m.nextReceive()
	}
	if !m.described {
		m.describeSlots()
		m.described = true
	}
	m.list.Select(frame.Slot)
	if m.cfg.FramePause <= 0 {
		return m.nextReceive()
	}
	return tui.Tick(m.cfg.FramePause, func(time.Time) tui.Msg { return resumeMsg{} })
}

func (m *model) nextReceive() tui.Cmd {
	if m.paused {
		m.pending = true
		return nil
	}
	m.pending = false
	return receiveCmd(m.conn)
}

func (m *model) togglePause() tui.Cmd {
	m.paused = !m.paused
	if !m.paused && m.pending {
		return m.nextReceive()
	}
	return nil
}

func (m *model) export() {
	if m.cfg.SnapshotDir == "" {
		m.notice = "export needs --snapshot-dir"
		return
	}
	path := filepath.Join(m.cfg.SnapshotDir, fmt.Sprintf("export-%s.png", time.Now().Format("20060102-150405")))
	if err := snapshot.Render(path, m.surface.plotted(), m.anim.Bounds(), 0, 0); err != nil {
		log.WithError(err).Warn("export failed")
		m.notice = "export failed: " + err.Error()
		return
	}
	m.notice = "exported " + path
}

func (m *model) resize(width, height int) {
	m.width, m.height = width, height
	m.leftPaneWidth, m.rightPaneWidth = computePaneWidths(width, 40)

	// title + 4 metric lines + traffic line, status and help
	bottomLines := 8
	available := max(1, m.height-bottomLines)
	leftW := max(1, m.leftWidth())
	rightW := max(1, m.rightWidth())

	m.list.SetSize(leftW, available)
	m.listStyle = styles.NewStyle().Width(leftW).Height(available)

	// plot canvas + 1 label line inside a border (2 lines)
	m.surface.resize(max(1, rightW-2), max(1, available-3))
}

func (m *model) leftWidth() int {
	if m.leftPaneWidth > 0 {
		return m.leftPaneWidth
	}
	left, _ := computePaneWidths(m.width, 40)
	return left
}

func (m *model) rightWidth() int {
	if m.rightPaneWidth > 0 {
		return m.rightPaneWidth
	}
	_, right := computePaneWidths(m.width, 40)
	return right
}

func (m *model) View() string {
	left := m.listStyle.Render(m.list.View())
	canvas := m.surface.String()
	if canvas == "" {
		sb := emptyPlot(m.rightWidth()-2, m.list.Height()-2)
		canvas = sb.String()
	}
	right := plotStyle.Render(styles.JoinVertical(styles.Top, canvas, m.axisLabels()))
	view := styles.JoinHorizontal(styles.Top, left, right)

	if m.err != nil {
		errStyle := styles.NewStyle().Foreground(styles.AdaptiveColor{Light: "1", Dark: "9"})
		return styles.JoinVertical(styles.Left, view, errStyle.Render("ERROR: "+m.err.Error()), m.help.View(keys))
	}
	return styles.JoinVertical(styles.Left, view, m.statusLine(), statsFg.Render(m.statsBlock()), m.help.View(keys))
}

func (m *model) axisLabels() string {
	b := m.anim.Bounds()
	w := max(0, m.rightWidth()-2)
	leftLabel := fmt.Sprintf("%g min", b.XMin)
	rightLabel := fmt.Sprintf("%g min", b.XMax)
	mid := fmt.Sprintf("score %g..%g", b.YMin, b.YMax)
	if s := m.surface.plotted(); s != nil {
		mid = shortName(s.Name) + "  " + mid
	}
	gap := w - len(leftLabel) - len(rightLabel) - len(mid)
	if gap < 2 {
		return " " + selectedFg.Render(mid)
	}
	leftGap := gap / 2
	return borderFg.Render(leftLabel) +
		strings.Repeat(" ", leftGap) +
		selectedFg.Render(mid) +
		strings.Repeat(" ", gap-leftGap) +
		borderFg.Render(rightLabel)
}

func (m *model) statusLine() string {
	switch m.phase {
	case waiting:
		return fmt.Sprintf("%s waiting for producer on %s", m.spinner.View(), m.cfg.Addr)
	case finished:
		return "channel closed"
	}
	status := "STREAMING"
	if m.paused {
		status = "PAUSED"
	}
	line := fmt.Sprintf("%s  slot %d/%d", status, m.anim.CurrentSlot(), m.anim.Slots())
	if m.notice != "" {
		line += "  " + borderFg.Render(m.notice)
	}
	return line
}

func (m *model) statsBlock() string {
	if !m.stats.Enabled() {
		return "stats off (s to resume)"
	}
	snap := m.stats.Snapshot()
	last := "-"
	if snap.LastSlot >= 0 {
		last = fmt.Sprint(snap.LastSlot)
	}
	payloads := make([]string, 0, shownPayloads)
	for _, it := range m.topK[:min(len(m.topK), shownPayloads)] {
		payloads = append(payloads, fmt.Sprintf("%q x%d", it.Item, it.Count))
	}
	top := "-"
	if len(payloads) > 0 {
		top = strings.Join(payloads, ", ")
	}
	lines := []string{
		fmt.Sprintf("messages: %d advance, %d other (%.1f/min)", snap.Advances, snap.Unknowns, snap.PerMinute),
		fmt.Sprintf("frames: %d  last slot: %s", snap.Frames, last),
		fmt.Sprintf("redraw avg/max: %s / %s", formatMetricDuration(snap.Render.Avg), formatMetricDuration(snap.Render.Max)),
		fmt.Sprintf("message gap avg: %s  rejected peers: %d", snap.Gaps.Avg.Round(time.Millisecond), snap.Rejected),
		"recent payloads: " + top,
	}
	return strings.Join(lines, "\n")
}

// shutdown releases the surface and unblocks any pending accept/receive.
func (m *model) shutdown() {
	m.cancel()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	_ = m.listener.Close()
	if err := m.anim.Close(); err != nil {
		log.WithError(err).Warn("release surface")
	}
}
