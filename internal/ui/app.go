package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/otel"
)

// inputMode is what the prompt bar is collecting.
type inputMode int

const (
	inputNone inputMode = iota
	inputFilter
	inputCount
)

// Options wires an App.
type Options struct {
	Engine *engine.Engine
	Prefs  Prefs            // optional; persists the view policy
	Ring   *otel.RingBuffer // optional; enables the debug overlay
	Events *otel.Logger     // optional
	Trace  bool             // emit a trace event per handled message
	Host   string           // wiki host shown in the header
}

type notice struct {
	text  string
	level engine.NoticeLevel
}

// App is the root Bubble Tea model.
// App does not hold feed contents. It reads them from the engine in View,
// and forwards every message it does not own to engine.Update.
type App struct {
	engine *engine.Engine
	prefs  Prefs
	ring   *otel.RingBuffer
	events *otel.Logger
	trace  bool
	host   string

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	input   textinput.Model

	mode       inputMode
	filterMode engine.FilterMode

	focus     pane
	cursors   [paneCount]int
	lastCount int

	notice    *notice
	noticeSeq uint64

	detail    *detail
	showDebug bool

	width  int
	height int
	ready  bool
}

// NewApp creates the dashboard around a configured engine.
func NewApp(opts Options) App {
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	sp.Style = MetaItem

	in := textinput.New()
	in.Prompt = ""
	in.CharLimit = 120

	lastCount := engine.DefaultCount
	if n, ok := opts.Engine.Policy().Window.Count(); ok {
		lastCount = n
	}

	return App{
		engine:    opts.Engine,
		prefs:     opts.Prefs,
		ring:      opts.Ring,
		events:    opts.Events,
		trace:     opts.Trace && opts.Events != nil,
		host:      opts.Host,
		keys:      defaultKeyMap(),
		help:      help.New(),
		spinner:   sp,
		input:     in,
		lastCount: lastCount,
	}
}

// Init starts the engine and the spinner.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.engine.Init(), a.spinner.Tick)
}

// Update handles one message. Any change to the view policy is persisted.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	start := time.Now()
	before := a.engine.Policy()
	a, cmd := a.update(msg)
	a.clampCursors()
	if a.trace {
		a.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindMsgHandled, Comp: "ui", Msg: fmt.Sprintf("%T", msg), Dur: time.Since(start)})
	}
	if after := a.engine.Policy(); after != before && a.prefs != nil {
		cmd = tea.Batch(cmd, savePolicy(a.prefs, after))
	}
	return a, cmd
}

func (a App) update(msg tea.Msg) (App, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.ready = true
		return a, nil

	case engine.NoticeMsg:
		if msg.Clear {
			if a.notice != nil && a.notice.level == engine.NoticeError {
				a.notice = nil
			}
			return a, nil
		}
		a.noticeSeq++
		a.notice = &notice{text: msg.Text, level: msg.Level}
		seq := a.noticeSeq
		return a, tea.Tick(noticeTTL, func(time.Time) tea.Msg { return noticeExpired{seq: seq} })

	case noticeExpired:
		if msg.seq == a.noticeSeq {
			a.notice = nil
		}
		return a, nil

	case engine.DiffLoaded:
		if a.detail != nil && a.detail.entry.Revision == msg.Revision {
			a.detail.load(msg)
		}
		return a, nil

	case prefsSaved:
		if msg.err != nil {
			logging.Warn("save view policy", "err", msg.err)
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, a.engine.Update(msg)
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (App, tea.Cmd) {
	if a.events != nil {
		a.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindKeyPress, Comp: "ui", Msg: msg.String()})
	}

	if a.mode != inputNone {
		return a.handleInputKey(msg)
	}

	if a.detail != nil {
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a.quit()
		case key.Matches(msg, a.keys.Back), key.Matches(msg, a.keys.Open):
			a.detail = nil
		case key.Matches(msg, a.keys.Down):
			a.detail.scrollBy(1)
		case key.Matches(msg, a.keys.Up):
			a.detail.scrollBy(-1)
		}
		return a, nil
	}

	if a.showDebug {
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a.quit()
		case key.Matches(msg, a.keys.Debug), key.Matches(msg, a.keys.Back):
			a.showDebug = false
		}
		return a, nil
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		return a.quit()

	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll

	case key.Matches(msg, a.keys.Back):
		a.help.ShowAll = false

	case key.Matches(msg, a.keys.Debug):
		a.showDebug = a.ring != nil

	case key.Matches(msg, a.keys.NextPane):
		a.focus = (a.focus + 1) % paneCount

	case key.Matches(msg, a.keys.PrevPane):
		a.focus = (a.focus + paneCount - 1) % paneCount

	case key.Matches(msg, a.keys.Down):
		a.cursors[a.focus]++

	case key.Matches(msg, a.keys.Up):
		a.cursors[a.focus]--

	case key.Matches(msg, a.keys.Top):
		a.cursors[a.focus] = 0

	case key.Matches(msg, a.keys.Bottom):
		a.cursors[a.focus] = a.paneLen(a.focus) - 1

	case key.Matches(msg, a.keys.Open):
		return a.openDetail()

	case key.Matches(msg, a.keys.Filter):
		return a.openInput(inputFilter)

	case key.Matches(msg, a.keys.Clear):
		return a, a.engine.SetFilter(engine.Filter{})

	case key.Matches(msg, a.keys.Count):
		return a.openInput(inputCount)

	case key.Matches(msg, a.keys.Window):
		cmd := a.cycleWindow()
		return a, cmd

	case key.Matches(msg, a.keys.Sort):
		return a, a.engine.SetSort(a.engine.Policy().Sort.Next())

	case key.Matches(msg, a.keys.Anon):
		return a, a.engine.SetAnonOnly(!a.engine.Policy().AnonOnly)

	case key.Matches(msg, a.keys.TopKind):
		next := engine.FeedTopEditors
		if a.engine.TopKind() == engine.FeedTopEditors {
			next = engine.FeedTopEdited
		}
		a.cursors[paneTop] = 0
		return a, a.engine.SetTopKind(next)

	case key.Matches(msg, a.keys.Refresh):
		return a, a.engine.Refresh()
	}

	return a, nil
}

func (a App) quit() (App, tea.Cmd) {
	a.engine.Close()
	return a, tea.Quit
}

// handleInputKey feeds the prompt bar. Filter text is queued on every
// change so the engine applies it once typing pauses.
func (a App) handleInputKey(msg tea.KeyMsg) (App, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return a.quit()

	case tea.KeyEsc:
		mode := a.mode
		a.closeInput()
		if mode == inputFilter {
			// Re-applying the active filter cancels a queued one.
			return a, a.engine.SetFilter(a.engine.Policy().Filter)
		}
		return a, nil

	case tea.KeyEnter:
		value := a.input.Value()
		mode := a.mode
		a.closeInput()
		if mode == inputFilter {
			return a, a.engine.SetFilter(engine.NewFilter(a.filterMode, value))
		}
		w, err := engine.ParseCount(value, a.engine.Policy().Window)
		if err != nil {
			logging.Debug("count rejected", "input", value, "err", err)
			return a, nil
		}
		a.lastCount, _ = w.Count()
		return a, a.engine.SetWindow(w)

	case tea.KeyTab:
		if a.mode != inputFilter {
			return a, nil
		}
		if a.filterMode == engine.FilterByUser {
			a.filterMode = engine.FilterByArticle
		} else {
			a.filterMode = engine.FilterByUser
		}
		return a, a.engine.QueueFilter(engine.NewFilter(a.filterMode, a.input.Value()))
	}

	prev := a.input.Value()
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	if a.mode == inputFilter && a.input.Value() != prev {
		cmd = tea.Batch(cmd, a.engine.QueueFilter(engine.NewFilter(a.filterMode, a.input.Value())))
	}
	return a, cmd
}

func (a App) openInput(mode inputMode) (App, tea.Cmd) {
	a.mode = mode
	a.input.Reset()
	switch mode {
	case inputFilter:
		f := a.engine.Policy().Filter
		a.filterMode = f.Mode
		if a.filterMode == engine.FilterNone {
			a.filterMode = engine.FilterByUser
		}
		a.input.SetValue(f.Term)
		a.input.Placeholder = "user or article"
	case inputCount:
		a.input.Placeholder = "1-500"
	}
	cmd := a.input.Focus()
	return a, cmd
}

func (a *App) closeInput() {
	a.mode = inputNone
	a.input.Blur()
}

// cycleWindow steps Count → 1h → 24h → 7d → Count. The count restored is
// the last one used.
func (a *App) cycleWindow() tea.Cmd {
	cur := a.engine.Policy().Window
	var next engine.Window
	var err error
	if n, ok := cur.Count(); ok {
		a.lastCount = n
		next, err = engine.PeriodWindow(engine.Period1h)
	} else {
		p, _ := cur.Period()
		switch p {
		case engine.Period1h:
			next, err = engine.PeriodWindow(engine.Period24h)
		case engine.Period24h:
			next, err = engine.PeriodWindow(engine.Period7d)
		default:
			next, err = engine.CountWindow(a.lastCount)
		}
	}
	if err != nil {
		logging.Warn("cycle window", "err", err)
		return nil
	}
	return a.engine.SetWindow(next)
}

func (a App) openDetail() (App, tea.Cmd) {
	entries := a.engine.Entries(a.focus.feed(a.engine.TopKind()))
	c := a.cursors[a.focus]
	if c < 0 || c >= len(entries) || !entries[c].HasDiff() {
		return a, nil
	}
	e := entries[c]
	a.detail = &detail{entry: e, loading: true}
	return a, a.engine.Diff(e.Revision)
}

func (a App) paneLen(p pane) int {
	return a.engine.State(p.feed(a.engine.TopKind())).Len
}

// clampCursors keeps every cursor on a row after stores change size.
func (a *App) clampCursors() {
	for p := pane(0); p < paneCount; p++ {
		n := a.paneLen(p)
		if a.cursors[p] >= n {
			a.cursors[p] = n - 1
		}
		if a.cursors[p] < 0 {
			a.cursors[p] = 0
		}
	}
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	header := a.renderHeader()
	footer := StatusBar.Width(a.width).Render(a.help.View(a.keys))

	var bars []string
	if a.notice != nil {
		style := NoticeStyle
		if a.notice.level == engine.NoticeError {
			style = ErrorStyle
		}
		bars = append(bars, style.Width(a.width).Render(a.notice.text))
	}
	if a.mode != inputNone {
		bars = append(bars, a.renderInputBar())
	}

	bodyHeight := a.height - lipgloss.Height(header) - lipgloss.Height(footer) - len(bars)
	if bodyHeight < panelChrome+1 {
		bodyHeight = panelChrome + 1
	}

	var body string
	switch {
	case a.detail != nil:
		body = a.detail.view(a.width, bodyHeight)
	case a.showDebug:
		body = debugOverlay(a.ring, a.engine.Stats(), a.engine.ConnState(), a.width, bodyHeight)
		footer = debugStatusBar(a.width)
	default:
		body = a.renderBody(a.width, bodyHeight)
	}

	parts := append([]string{header}, bars...)
	parts = append(parts, body, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a App) renderHeader() string {
	title := Header.Render("edisco")
	if a.host != "" {
		title += MetaItem.Render(" " + a.host)
	}
	return title + "  " + a.liveIndicator() + "  " + MetaItem.Render(a.engine.Policy().String())
}

func (a App) liveIndicator() string {
	switch a.engine.ConnState() {
	case engine.Connected:
		if !a.engine.Policy().Sort.Chronological() {
			return LiveConnecting.Render("● live (paused)")
		}
		return LiveOn.Render("● live")
	case engine.Connecting:
		return LiveConnecting.Render("◌ connecting")
	default:
		return LiveOff.Render("○ offline")
	}
}

func (a App) renderInputBar() string {
	var label, hint string
	if a.mode == inputFilter {
		label = "filter " + a.filterMode.String() + ": "
		hint = "  tab user/article · enter apply · esc cancel"
	} else {
		label = "show last: "
		hint = "  enter apply · esc cancel"
	}
	return FilterBar.Width(a.width).Render(FilterBarPrompt.Render(label) + a.input.View() + FilterBarCount.Render(hint))
}

// renderBody lays out the panels: recent edits on the left, the four
// ranked panels stacked on the right. Narrow terminals get the focused
// panel only.
func (a App) renderBody(width, height int) string {
	if width < 80 {
		return a.renderPane(a.focus, width, height)
	}

	leftWidth := width * 3 / 5
	rightWidth := width - leftWidth
	left := a.renderPane(paneRecent, leftWidth, height)

	side := []pane{paneTop, paneViewed, paneTalk, paneNew}
	each := height / len(side)
	rights := make([]string, len(side))
	for i, p := range side {
		h := each
		if i == len(side)-1 {
			h = height - each*(len(side)-1)
		}
		rights[i] = a.renderPane(p, rightWidth, h)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, strings.Join(rights, "\n"))
}
