// Package engine reconciles the push stream and the pull snapshots into one
// bounded, deduplicated, ordered store per feed under a mutable view policy.
//
// The Engine is driven entirely by Bubble Tea messages. Update runs on the
// program's single event loop, so stores, the id-sets and the policy need
// no locks; network reads, pulls and timers run inside tea.Cmds and report
// back as messages.
package engine

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/otel"
)

// DefaultDebounce is the quiet period before filter text takes effect.
const DefaultDebounce = 500 * time.Millisecond

// DefaultFetchTimeout bounds a single pull.
const DefaultFetchTimeout = 30 * time.Second

// maxPending bounds pushes queued behind an in-flight pull.
const maxPending = MaxCount

// Cadences holds the periodic resync intervals.
type Cadences struct {
	LiveMerge   time.Duration
	Top         time.Duration
	TopViewed   time.Duration
	Talk        time.Duration
	NewArticles time.Duration
}

// DefaultCadences returns the dashboard's standard intervals.
func DefaultCadences() Cadences {
	return Cadences{
		LiveMerge:   60 * time.Second,
		Top:         30 * time.Second,
		TopViewed:   10 * time.Minute,
		Talk:        60 * time.Second,
		NewArticles: 60 * time.Second,
	}
}

// tickFunc schedules msg after d. Tests substitute a recorder.
type tickFunc func(d time.Duration, msg tea.Msg) tea.Cmd

func teaTick(d time.Duration, msg tea.Msg) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return msg })
}

// Config wires an Engine.
type Config struct {
	Fetcher        Fetcher
	Dialer         Dialer // nil disables the push stream
	StreamURL      string
	ReconnectDelay time.Duration
	Debounce       time.Duration
	FetchTimeout   time.Duration
	Cadences       Cadences
	Policy         Policy       // zero value means DefaultPolicy
	Events         *otel.Logger // optional

	tick tickFunc
}

// FeedState is the observable status of one feed.
type FeedState struct {
	Loaded  bool
	Loading bool
	Err     error // set only when the first load failed
	Len     int
}

// Stats counts push outcomes since start.
type Stats struct {
	Received   int
	Merged     int
	Duplicates int
	Suppressed int
	Filtered   int
	Queued     int
}

type feedState struct {
	store   *FeedStore
	issued  uint64 // generation of the newest pull issued
	settled uint64 // highest generation that has come back
	applied uint64 // generation whose snapshot the store holds
	loaded  bool
	err     error
	pending []model.Entry
}

func (f *feedState) inFlight() bool {
	return f.issued > f.settled
}

// Engine is the feed reconciliation engine. Create with New; it must only be
// used from the Bubble Tea goroutine.
type Engine struct {
	fetcher  Fetcher
	events   *otel.Logger
	tick     tickFunc
	debounce time.Duration
	timeout  time.Duration
	cadences Cadences

	policy  Policy
	epoch   uint64
	topKind FeedID
	feeds   map[FeedID]*feedState
	sup     *Supervisor

	filterSeq    uint64
	queuedFilter Filter

	stats Stats
}

// New creates an Engine. Nothing runs until Init's command is executed.
func New(cfg Config) *Engine {
	tick := cfg.tick
	if tick == nil {
		tick = teaTick
	}
	policy := cfg.Policy
	if policy.Window.IsZero() {
		policy.Window = DefaultPolicy().Window
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Cadences == (Cadences{}) {
		cfg.Cadences = DefaultCadences()
	}

	e := &Engine{
		fetcher:  cfg.Fetcher,
		events:   cfg.Events,
		tick:     tick,
		debounce: cfg.Debounce,
		timeout:  cfg.FetchTimeout,
		cadences: cfg.Cadences,
		policy:   policy,
		topKind:  FeedTopEdited,
		feeds:    make(map[FeedID]*feedState, len(AllFeeds)),
	}
	for _, f := range AllFeeds {
		e.feeds[f] = &feedState{store: NewFeedStore()}
	}
	e.sup = newSupervisor(cfg.StreamURL, cfg.Dialer, cfg.ReconnectDelay, tick)
	return e
}

// Init connects the push stream, loads every visible feed and arms the
// periodic triggers.
func (e *Engine) Init() tea.Cmd {
	cmds := []tea.Cmd{e.sup.Connect(), e.resync()}
	for _, t := range allTriggers {
		cmds = append(cmds, e.arm(t))
	}
	return tea.Batch(cmds...)
}

// Close drops the push connection.
func (e *Engine) Close() {
	e.sup.Close()
}

// Update applies one message. Messages the engine does not own return nil.
func (e *Engine) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case snapshotMsg:
		return e.handleSnapshot(msg)

	case cadenceMsg:
		return e.handleCadence(msg.trigger)

	case debounceMsg:
		if msg.seq != e.filterSeq {
			return nil
		}
		return e.applyPolicy(Policy{
			Window:   e.policy.Window,
			Filter:   e.queuedFilter,
			Sort:     e.policy.Sort,
			AnonOnly: e.policy.AnonOnly,
		})

	case connOpenedMsg:
		cmd, ok := e.sup.opened(msg)
		if !ok {
			return nil
		}
		e.emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindConnOpen, Comp: "engine", Msg: e.sup.url})
		return tea.Batch(cmd, notice(NoticeMsg{Clear: true}))

	case connClosedMsg:
		cmd, ok := e.sup.closed(msg)
		if !ok {
			return nil
		}
		e.emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindConnClose, Comp: "engine", Err: errString(msg.err), Count: e.sup.Failures()})
		return tea.Batch(cmd, notice(NoticeMsg{Text: "Live feed disconnected, reconnecting…", Level: NoticeError}))

	case reconnectMsg:
		cmd := e.sup.reconnect(msg)
		if cmd != nil {
			e.emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindConnRetry, Comp: "engine", Count: e.sup.Failures()})
		}
		return cmd

	case pushMsg:
		next, ok := e.sup.received(msg)
		if !ok {
			return nil
		}
		e.handlePush(msg.entry)
		return next
	}
	return nil
}

// Policy returns the active view policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ConnState returns the push connection state.
func (e *Engine) ConnState() ConnState {
	return e.sup.State()
}

// TopKind returns which ranked feed the top section shows.
func (e *Engine) TopKind() FeedID {
	return e.topKind
}

// Entries returns the feed's current contents, newest-first or rank order.
func (e *Engine) Entries(feed FeedID) []model.Entry {
	st, ok := e.feeds[feed]
	if !ok {
		return nil
	}
	return st.store.Entries()
}

// State returns the feed's load status.
func (e *Engine) State(feed FeedID) FeedState {
	st, ok := e.feeds[feed]
	if !ok {
		return FeedState{}
	}
	return FeedState{
		Loaded:  st.loaded,
		Loading: st.inFlight(),
		Err:     st.err,
		Len:     st.store.Len(),
	}
}

// Stats returns push counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// SetWindow switches between Count and Period windows.
func (e *Engine) SetWindow(w Window) tea.Cmd {
	if w.IsZero() {
		return nil
	}
	next := e.policy
	next.Window = w
	return e.applyPolicy(next)
}

// SetFilter applies a filter immediately and cancels any queued one.
func (e *Engine) SetFilter(f Filter) tea.Cmd {
	e.filterSeq++
	next := e.policy
	next.Filter = NewFilter(f.Mode, f.Term)
	return e.applyPolicy(next)
}

// QueueFilter applies f once no further QueueFilter call has arrived for
// the debounce window.
func (e *Engine) QueueFilter(f Filter) tea.Cmd {
	e.filterSeq++
	e.queuedFilter = NewFilter(f.Mode, f.Term)
	return e.tick(e.debounce, debounceMsg{seq: e.filterSeq})
}

// SetSort changes the sort mode. Non-chronological modes suppress pushes
// but keep the connection open.
func (e *Engine) SetSort(s SortMode) tea.Cmd {
	next := e.policy
	next.Sort = s
	return e.applyPolicy(next)
}

// SetAnonOnly toggles the anonymous-only flag.
func (e *Engine) SetAnonOnly(on bool) tea.Cmd {
	next := e.policy
	next.AnonOnly = on
	return e.applyPolicy(next)
}

// SetTopKind switches the top section between top-edited and top-editors
// and loads it.
func (e *Engine) SetTopKind(feed FeedID) tea.Cmd {
	if feed != FeedTopEdited && feed != FeedTopEditors {
		return nil
	}
	if feed == e.topKind {
		return nil
	}
	e.topKind = feed
	return e.fetch(feed, modeReplace)
}

// Refresh reloads every visible feed. Stores keep their contents until the
// replacements arrive.
func (e *Engine) Refresh() tea.Cmd {
	return e.resync()
}

// Diff looks up the diff for a revision.
func (e *Engine) Diff(revision int64) tea.Cmd {
	fetcher, timeout := e.fetcher, e.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		html, err := fetcher.Diff(ctx, revision)
		return DiffLoaded{Revision: revision, HTML: html, Err: err}
	}
}

// applyPolicy installs next if it differs from the active policy, then
// invalidates every store and resyncs.
func (e *Engine) applyPolicy(next Policy) tea.Cmd {
	if next == e.policy {
		return nil
	}
	e.policy = next
	e.epoch++
	for _, st := range e.feeds {
		st.store.Clear()
		st.pending = nil
		st.loaded = false
		st.err = nil
	}
	e.emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPolicyChange, Comp: "engine", Msg: next.String()})
	return e.resync()
}

// visibleFeeds lists the feeds a resync loads.
func (e *Engine) visibleFeeds() []FeedID {
	return []FeedID{FeedRecent, e.topKind, FeedTopViewed, FeedTopTalk, FeedNewArticles}
}

func (e *Engine) resync() tea.Cmd {
	feeds := e.visibleFeeds()
	cmds := make([]tea.Cmd, 0, len(feeds))
	for _, f := range feeds {
		cmds = append(cmds, e.fetch(f, modeReplace))
	}
	return tea.Batch(cmds...)
}

// fetch issues a pull tagged with a fresh generation.
func (e *Engine) fetch(feed FeedID, mode mergeMode) tea.Cmd {
	st := e.feeds[feed]
	st.issued++
	gen, epoch := st.issued, e.epoch
	req := RequestFor(feed, e.policy)
	fetcher, timeout := e.fetcher, e.timeout

	e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStart, Comp: "engine", Source: string(feed)})

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		entries, err := fetcher.Fetch(ctx, req)
		return snapshotMsg{
			feed:    feed,
			gen:     gen,
			epoch:   epoch,
			mode:    mode,
			entries: entries,
			err:     err,
			dur:     time.Since(start),
		}
	}
}

func (e *Engine) handleSnapshot(msg snapshotMsg) tea.Cmd {
	st, ok := e.feeds[msg.feed]
	if !ok {
		return nil
	}
	if msg.gen > st.settled {
		st.settled = msg.gen
	}

	var cmd tea.Cmd
	switch {
	case msg.epoch != e.epoch || msg.gen <= st.applied:
		e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStale, Comp: "engine", Source: string(msg.feed)})

	case msg.err != nil:
		if !st.loaded {
			st.err = msg.err
		}
		e.emit(otel.Event{Level: otel.LevelError, Kind: otel.KindFetchError, Comp: "engine", Source: string(msg.feed), Err: msg.err.Error(), Dur: msg.dur})
		cmd = notice(NoticeMsg{Text: "Could not load " + string(msg.feed), Level: NoticeError})

	default:
		limit := StoreLimit(msg.feed, e.policy)
		count := len(msg.entries)
		if msg.mode == modeMerge && st.loaded {
			count = st.store.MergeBatch(msg.entries, limit)
		} else {
			st.store.Replace(msg.entries, limit)
		}
		st.applied = msg.gen
		st.loaded = true
		st.err = nil
		e.emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindFetchComplete, Comp: "engine", Source: string(msg.feed), Count: count, Dur: msg.dur})
	}

	if !st.inFlight() && len(st.pending) > 0 {
		pending := st.pending
		st.pending = nil
		for _, entry := range pending {
			e.mergePush(entry)
		}
	}
	return cmd
}

// handlePush gates a pushed entry and merges it into the recent feed, or
// queues it behind an in-flight pull.
func (e *Engine) handlePush(entry model.Entry) {
	e.stats.Received++
	if !e.policy.Sort.Chronological() {
		e.stats.Suppressed++
		e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPushSuppressed, Comp: "engine", Msg: entry.ID})
		return
	}

	st := e.feeds[FeedRecent]
	if st.inFlight() {
		if len(st.pending) == maxPending {
			st.pending = st.pending[1:]
		}
		st.pending = append(st.pending, entry)
		e.stats.Queued++
		e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPushQueued, Comp: "engine", Msg: entry.ID})
		return
	}
	e.mergePush(entry)
}

// mergePush applies the push path under the current policy. Period windows
// are snapshot-only, so pushes are not merged into them.
func (e *Engine) mergePush(entry model.Entry) {
	if !e.policy.Sort.Chronological() {
		e.stats.Suppressed++
		return
	}
	n, ok := e.policy.Window.Count()
	if !ok || !e.policy.Admits(entry) {
		e.stats.Filtered++
		return
	}

	store := e.feeds[FeedRecent].store
	switch {
	case store.Contains(entry.ID):
		e.stats.Duplicates++
		e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPushDuplicate, Comp: "engine", Msg: entry.ID})
	case store.Push(entry, n):
		e.stats.Merged++
		e.emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindPushMerged, Comp: "engine", Msg: entry.ID})
	}
}

func (e *Engine) handleCadence(t trigger) tea.Cmd {
	next := e.arm(t)

	var feed FeedID
	mode := modeReplace
	switch t {
	case triggerLiveMerge:
		feed = FeedRecent
		if _, isCount := e.policy.Window.Count(); isCount && e.policy.Sort.Chronological() {
			mode = modeMerge
		}
	case triggerTop:
		feed = e.topKind
	case triggerViewed:
		feed = FeedTopViewed
	case triggerTalk:
		feed = FeedTopTalk
	case triggerNew:
		feed = FeedNewArticles
	}

	if e.feeds[feed].inFlight() {
		return next
	}
	return tea.Batch(next, e.fetch(feed, mode))
}

func (e *Engine) arm(t trigger) tea.Cmd {
	return e.tick(e.interval(t), cadenceMsg{trigger: t})
}

func (e *Engine) interval(t trigger) time.Duration {
	switch t {
	case triggerTop:
		return e.cadences.Top
	case triggerViewed:
		return e.cadences.TopViewed
	case triggerTalk:
		return e.cadences.Talk
	case triggerNew:
		return e.cadences.NewArticles
	default:
		return e.cadences.LiveMerge
	}
}

func (e *Engine) emit(ev otel.Event) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}

func notice(n NoticeMsg) tea.Cmd {
	return func() tea.Msg { return n }
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
