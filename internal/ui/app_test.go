package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/store"
)

// stubFetcher serves canned feeds and diffs.
type stubFetcher struct {
	feeds map[engine.FeedID][]model.Entry
	errs  map[engine.FeedID]error
	diff  string
}

func (f stubFetcher) Fetch(_ context.Context, req engine.Request) ([]model.Entry, error) {
	if err := f.errs[req.Feed]; err != nil {
		return nil, err
	}
	return f.feeds[req.Feed], nil
}

func (f stubFetcher) Diff(context.Context, int64) (string, error) {
	return f.diff, nil
}

type memPrefs struct {
	m map[string]string
}

func (p *memPrefs) Preference(_ context.Context, key string) (string, error) {
	v, ok := p.m[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (p *memPrefs) SetPreference(_ context.Context, key, value string) error {
	p.m[key] = value
	return nil
}

func sampleRecent() []model.Entry {
	now := time.Now()
	return []model.Entry{
		{ID: "3", Kind: model.KindEdit, Timestamp: now, Title: "חיפה", User: "Dovi", Revision: 903, SizeDelta: 12},
		{ID: "2", Kind: model.KindEdit, Timestamp: now.Add(-time.Minute), Title: "עכו", User: "192.0.2.1", Anonymous: true, Revision: 902},
		{ID: "1", Kind: model.KindEdit, Timestamp: now.Add(-2 * time.Minute), Title: "ירושלים", User: "Noa", Revision: 901, SizeDelta: -40},
	}
}

func newTestApp(t *testing.T, f stubFetcher, prefs Prefs) App {
	t.Helper()
	eng := engine.New(engine.Config{Fetcher: f})
	app := NewApp(Options{Engine: eng, Prefs: prefs, Host: "he.wikipedia.org"})
	return send(app, sizeMsg())
}

func sizeMsg() tea.WindowSizeMsg {
	return tea.WindowSizeMsg{Width: 120, Height: 40}
}

// send applies one message and discards the returned command.
func send(app App, msg tea.Msg) App {
	m, _ := app.Update(msg)
	return m.(App)
}

// press applies a key and returns the command it produced.
func press(app App, k string) (App, tea.Cmd) {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		msg = tea.KeyMsg{Type: tea.KeyShiftTab}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	m, cmd := app.Update(msg)
	return m.(App), cmd
}

func typeText(app App, s string) App {
	for _, r := range s {
		app, _ = press(app, string(r))
	}
	return app
}

// run executes cmd and feeds its messages back, following batches. Only
// call it with commands that do not schedule timers.
func run(app App, cmd tea.Cmd) App {
	if cmd == nil {
		return app
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			app = run(app, c)
		}
		return app
	}
	if msg == nil {
		return app
	}
	return send(app, msg)
}

func loaded(t *testing.T, f stubFetcher) App {
	t.Helper()
	app := newTestApp(t, f, nil)
	return run(app, app.engine.Refresh())
}

func TestAppNavigation(t *testing.T) {
	app := loaded(t, stubFetcher{feeds: map[engine.FeedID][]model.Entry{engine.FeedRecent: sampleRecent()}})

	for i := 0; i < 5; i++ {
		app, _ = press(app, "j")
	}
	if app.cursors[paneRecent] != 2 {
		t.Errorf("cursor should clamp at last row, got %d", app.cursors[paneRecent])
	}

	app, _ = press(app, "k")
	if app.cursors[paneRecent] != 1 {
		t.Errorf("k should move up, got %d", app.cursors[paneRecent])
	}

	app, _ = press(app, "g")
	if app.cursors[paneRecent] != 0 {
		t.Errorf("g should jump to first, got %d", app.cursors[paneRecent])
	}

	app, _ = press(app, "G")
	if app.cursors[paneRecent] != 2 {
		t.Errorf("G should jump to last, got %d", app.cursors[paneRecent])
	}

	app, _ = press(app, "tab")
	if app.focus != paneTop {
		t.Errorf("tab should focus the top panel, got %d", app.focus)
	}
	app, _ = press(app, "shift+tab")
	app, _ = press(app, "shift+tab")
	if app.focus != paneNew {
		t.Errorf("shift+tab should wrap to the last panel, got %d", app.focus)
	}
}

func TestAppNoticeExpiresBySeq(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	app = send(app, engine.NoticeMsg{Text: "first"})
	app = send(app, engine.NoticeMsg{Text: "second"})

	app = send(app, noticeExpired{seq: 1})
	if app.notice == nil || app.notice.text != "second" {
		t.Fatalf("stale expiry must not clear a newer notice, got %+v", app.notice)
	}

	app = send(app, noticeExpired{seq: 2})
	if app.notice != nil {
		t.Errorf("notice should be cleared, got %+v", app.notice)
	}
}

func TestAppNoticeClearDropsOnlyErrors(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	app = send(app, engine.NoticeMsg{Text: "saved"})
	app = send(app, engine.NoticeMsg{Clear: true})
	if app.notice == nil {
		t.Fatal("clear should keep an info notice")
	}

	app = send(app, engine.NoticeMsg{Text: "Live feed disconnected", Level: engine.NoticeError})
	app = send(app, engine.NoticeMsg{Clear: true})
	if app.notice != nil {
		t.Errorf("clear should drop the connection notice, got %+v", app.notice)
	}
}

func TestAppCountPrompt(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	app, _ = press(app, "n")
	if app.mode != inputCount {
		t.Fatalf("n should open the count prompt")
	}
	app = typeText(app, "abc")
	app, _ = press(app, "enter")

	if got := app.engine.Policy().Window.String(); got != "50" {
		t.Errorf("invalid count should keep the previous window, got %s", got)
	}
	if app.notice != nil {
		t.Errorf("invalid count should not raise a notice, got %+v", app.notice)
	}
	if app.mode != inputNone {
		t.Error("enter should close the prompt")
	}

	app, _ = press(app, "n")
	app = typeText(app, "9000")
	app, _ = press(app, "enter")
	if n, _ := app.engine.Policy().Window.Count(); n != engine.MaxCount {
		t.Errorf("count should clamp to %d, got %d", engine.MaxCount, n)
	}

	app, _ = press(app, "n")
	app = typeText(app, "120")
	app, _ = press(app, "enter")
	if n, _ := app.engine.Policy().Window.Count(); n != 120 {
		t.Errorf("count = %d, want 120", n)
	}
}

func TestAppFilterPrompt(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	app, _ = press(app, "/")
	app = typeText(app, "Dovi")
	app, _ = press(app, "enter")

	want := engine.Filter{Mode: engine.FilterByUser, Term: "Dovi"}
	if got := app.engine.Policy().Filter; got != want {
		t.Errorf("filter = %+v, want %+v", got, want)
	}

	// Esc abandons the edit and keeps the applied filter.
	app, _ = press(app, "/")
	if app.input.Value() != "Dovi" {
		t.Errorf("prompt should start with the active term, got %q", app.input.Value())
	}
	app, _ = press(app, "tab")
	if app.filterMode != engine.FilterByArticle {
		t.Errorf("tab should switch to article matching")
	}
	app = typeText(app, "x")
	app, _ = press(app, "esc")
	if got := app.engine.Policy().Filter; got != want {
		t.Errorf("esc changed the filter to %+v", got)
	}

	app, _ = press(app, "x")
	if app.engine.Policy().Filter.Active() {
		t.Error("x should clear the filter")
	}
}

func TestAppCycleWindow(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	var seen []string
	for i := 0; i < 4; i++ {
		app, _ = press(app, "w")
		seen = append(seen, app.engine.Policy().Window.String())
	}

	if got := strings.Join(seen, ","); got != "1h,24h,7d,50" {
		t.Errorf("window cycle = %s", got)
	}
}

func TestAppSortAnonAndTopKind(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	app, _ = press(app, "s")
	if app.engine.Policy().Sort != engine.SortSizeDesc {
		t.Errorf("s should cycle to largest first, got %s", app.engine.Policy().Sort)
	}

	app, _ = press(app, "a")
	if !app.engine.Policy().AnonOnly {
		t.Error("a should enable anonymous only")
	}

	app, _ = press(app, "t")
	if app.engine.TopKind() != engine.FeedTopEditors {
		t.Errorf("t should switch to editors, got %s", app.engine.TopKind())
	}
	app, _ = press(app, "t")
	if app.engine.TopKind() != engine.FeedTopEdited {
		t.Errorf("t should switch back, got %s", app.engine.TopKind())
	}
}

func TestAppPersistsPolicyChanges(t *testing.T) {
	prefs := &memPrefs{m: map[string]string{}}
	app := newTestApp(t, stubFetcher{}, prefs)

	app, _ = press(app, "j")
	if len(prefs.m) != 0 {
		t.Fatal("navigation must not save the policy")
	}

	app, cmd := press(app, "s")
	app = run(app, cmd)

	got := LoadPolicy(context.Background(), prefs)
	if got.Sort != engine.SortSizeDesc {
		t.Errorf("saved sort = %s, want largest first", got.Sort)
	}
	if got != app.engine.Policy() {
		t.Errorf("saved policy %v differs from active %v", got, app.engine.Policy())
	}
}

func TestAppOpenDetail(t *testing.T) {
	f := stubFetcher{
		feeds: map[engine.FeedID][]model.Entry{engine.FeedRecent: sampleRecent()},
		diff:  `<tr><td class="diff-deletedline"><div>old line</div></td><td class="diff-addedline"><div>new line</div></td></tr>`,
	}
	app := loaded(t, f)

	app, cmd := press(app, "enter")
	if app.detail == nil || !app.detail.loading {
		t.Fatal("enter should open a loading detail view")
	}
	if !strings.Contains(app.View(), "Loading diff") {
		t.Error("detail should show loading state")
	}

	// A late diff for another revision is ignored.
	app = send(app, engine.DiffLoaded{Revision: 1, HTML: f.diff})
	if !app.detail.loading {
		t.Error("diff for another revision must not be applied")
	}

	app = run(app, cmd)
	view := app.View()
	if !strings.Contains(view, "+ new line") || !strings.Contains(view, "− old line") {
		t.Errorf("detail should render diff lines, got:\n%s", view)
	}

	app, _ = press(app, "esc")
	if app.detail != nil {
		t.Error("esc should close the detail view")
	}
}

func TestAppOpenDetailNeedsRevision(t *testing.T) {
	ranked := []model.Entry{{ID: "article:חיפה", Title: "חיפה", Score: 7, Rank: 1}}
	app := loaded(t, stubFetcher{feeds: map[engine.FeedID][]model.Entry{engine.FeedTopEdited: ranked}})

	app, _ = press(app, "tab")
	app, cmd := press(app, "enter")

	if app.detail != nil || cmd != nil {
		t.Error("ranked rows have no diff to open")
	}
}

func TestAppViewPlaceholders(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)
	if !strings.Contains(app.View(), "Loading") {
		t.Error("unloaded panels should show a loading placeholder")
	}

	f := stubFetcher{
		feeds: map[engine.FeedID][]model.Entry{engine.FeedRecent: sampleRecent()},
		errs:  map[engine.FeedID]error{engine.FeedTopViewed: errors.New("boom")},
	}
	app = loaded(t, f)
	view := app.View()

	for _, want := range []string{"Recent edits", "חיפה", "Could not load: boom", "Nothing here yet.", "he.wikipedia.org", "last 50"} {
		if !strings.Contains(view, want) {
			t.Errorf("view should contain %q, got:\n%s", want, view)
		}
	}
}

func TestAppViewBeforeResize(t *testing.T) {
	eng := engine.New(engine.Config{Fetcher: stubFetcher{}})
	app := NewApp(Options{Engine: eng})
	if app.View() != "Loading..." {
		t.Errorf("View before the first resize = %q", app.View())
	}
}

func TestAppQuit(t *testing.T) {
	app := newTestApp(t, stubFetcher{}, nil)

	_, cmd := press(app, "q")

	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
