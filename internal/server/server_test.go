package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/otel"
	"github.com/abelbrown/edisco/internal/wiki"
)

// fakeWiki records the queries it receives and counts calls per method.
type fakeWiki struct {
	mu       sync.Mutex
	calls    map[string]int
	edits    []wiki.EditsQuery
	ranks    []wiki.RankQuery
	changes  []model.Change
	pages    []model.RankedPage
	editors  []model.RankedEditor
	viewed   []model.ViewedPage
	diffs    map[int64]string
	err      error
	searched string
}

func (f *fakeWiki) called(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
}

func (f *fakeWiki) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeWiki) RecentEdits(_ context.Context, q wiki.EditsQuery) ([]model.Change, error) {
	f.called("recent")
	f.mu.Lock()
	f.edits = append(f.edits, q)
	f.mu.Unlock()
	return f.changes, f.err
}

func (f *fakeWiki) NewArticles(_ context.Context, limit int, period wiki.Period, anonOnly bool, user, title string) ([]model.Change, error) {
	f.called("new")
	return f.changes, f.err
}

func (f *fakeWiki) rank(name string, q wiki.RankQuery) {
	f.called(name)
	f.mu.Lock()
	f.ranks = append(f.ranks, q)
	f.mu.Unlock()
}

func (f *fakeWiki) TopEdited(_ context.Context, q wiki.RankQuery) ([]model.RankedPage, error) {
	f.rank("edited", q)
	return f.pages, f.err
}

func (f *fakeWiki) TopTalkPages(_ context.Context, q wiki.RankQuery) ([]model.RankedPage, error) {
	f.rank("talk", q)
	return f.pages, f.err
}

func (f *fakeWiki) TopEditors(_ context.Context, q wiki.RankQuery) ([]model.RankedEditor, error) {
	f.rank("editors", q)
	return f.editors, f.err
}

func (f *fakeWiki) TopViewed(_ context.Context, q wiki.RankQuery) ([]model.ViewedPage, error) {
	f.rank("viewed", q)
	return f.viewed, f.err
}

func (f *fakeWiki) Diff(_ context.Context, revid int64) (string, error) {
	f.called("diff")
	if f.err != nil {
		return "", f.err
	}
	html, ok := f.diffs[revid]
	if !ok {
		return "", wiki.ErrNoDiff
	}
	return html, nil
}

func (f *fakeWiki) Search(_ context.Context, word string, period wiki.Period) ([]model.Change, error) {
	f.called("search")
	f.mu.Lock()
	f.searched = word + "/" + string(period)
	f.mu.Unlock()
	return f.changes, f.err
}

var sampleChanges = []model.Change{
	{Type: "edit", Title: "חיפה", PageID: 10, RevID: 900, RCID: 12, User: "Dovi", OldLen: 100, NewLen: 130,
		Timestamp: "2024-03-01T12:00:10Z", Comment: "/* היסטוריה */ הרחבה"},
	{Type: "new", Title: "עכו העתיקה", PageID: 11, RevID: 899, RCID: 11, User: "192.0.2.7", NewLen: 500,
		Timestamp: "2024-03-01T12:00:05Z"},
}

func newTestServer(t *testing.T, fw *fakeWiki, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	opts.Wiki = fw
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func get(t *testing.T, target string) (int, string) {
	t.Helper()
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRecentPassesQueryAndIsNotCached(t *testing.T) {
	fw := &fakeWiki{changes: sampleChanges}
	_, ts := newTestServer(t, fw, Options{})

	status, body := get(t, ts.URL+"/api/recent?anon_only=true&user=%20Dovi%20&sort=size_desc")
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Results []model.Change `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, sampleChanges, resp.Results)

	get(t, ts.URL+"/api/recent?period=1h")
	assert.Equal(t, 2, fw.count("recent"))
	assert.Equal(t, []wiki.EditsQuery{
		{Limit: 50, AnonOnly: true, User: "Dovi", Sort: "size_desc"},
		{Limit: 0, Period: wiki.Period1h},
	}, fw.edits)
}

func TestEmptyResultsAreAList(t *testing.T) {
	_, ts := newTestServer(t, &fakeWiki{}, Options{})

	for _, path := range []string{"/api/recent", "/api/top-edited", "/api/top-editors", "/api/top-viewed", "/api/new-articles", "/api/top-talk-pages"} {
		status, body := get(t, ts.URL+path)
		assert.Equal(t, http.StatusOK, status, path)
		assert.JSONEq(t, `{"results":[]}`, body, path)
	}
}

func TestRankedResponsesAreCached(t *testing.T) {
	fw := &fakeWiki{pages: []model.RankedPage{{PageID: 1, Title: "חיפה", Count: 4, LastTimestamp: "2024-03-01T12:00:00Z"}}}
	_, ts := newTestServer(t, fw, Options{})

	_, first := get(t, ts.URL+"/api/top-edited?limit=10&period=7d")
	_, second := get(t, ts.URL+"/api/top-edited?period=7d&limit=10")
	get(t, ts.URL+"/api/top-edited?limit=11&period=7d")

	assert.Equal(t, first, second)
	assert.Equal(t, 2, fw.count("edited"), "query order does not matter, values do")
	assert.Equal(t, wiki.RankQuery{Limit: 10, Period: wiki.Period7d}, fw.ranks[0])
}

func TestRankedDefaults(t *testing.T) {
	fw := &fakeWiki{}
	_, ts := newTestServer(t, fw, Options{})

	get(t, ts.URL+"/api/top-editors")
	get(t, ts.URL+"/api/top-viewed?limit=9000&title="+url.QueryEscape("חיפה"))

	assert.Equal(t, wiki.RankQuery{Limit: 25, Period: wiki.Period24h}, fw.ranks[0])
	assert.Equal(t, wiki.RankQuery{Limit: wiki.RecentMaxFetch, Period: wiki.Period24h, Title: "חיפה"}, fw.ranks[1])
}

func TestBadParametersAre400(t *testing.T) {
	fw := &fakeWiki{}
	_, ts := newTestServer(t, fw, Options{})

	for _, path := range []string{
		"/api/recent?limit=abc",
		"/api/recent?limit=-1",
		"/api/top-edited?period=30d",
		"/api/new-articles?anon_only=maybe",
		"/api/diff?revid=x",
		"/api/diff",
		"/api/search?q=a&period=1y",
	} {
		status, body := get(t, ts.URL+path)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, body, `"error"`, path)
	}
	assert.Empty(t, fw.calls)
}

func TestUpstreamErrorIs502AndNotCached(t *testing.T) {
	fw := &fakeWiki{err: &wiki.APIError{Endpoint: "recentchanges", Status: 503}}
	_, ts := newTestServer(t, fw, Options{})

	status, body := get(t, ts.URL+"/api/top-talk-pages")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.JSONEq(t, `{"error":"recentchanges: HTTP 503"}`, body)

	get(t, ts.URL+"/api/top-talk-pages")
	assert.Equal(t, 2, fw.count("talk"))
}

func TestDiff(t *testing.T) {
	fw := &fakeWiki{diffs: map[int64]string{900: `<tr><td class="diff-addedline">x</td></tr>`}}
	_, ts := newTestServer(t, fw, Options{})

	status, body := get(t, ts.URL+"/api/diff?revid=900")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"diff":"<tr><td class=\"diff-addedline\">x</td></tr>"}`, body)

	_, body = get(t, ts.URL+"/api/diff?revid=901")
	assert.JSONEq(t, `{"diff":""}`, body)

	get(t, ts.URL+"/api/diff?revid=900")
	assert.Equal(t, 2, fw.count("diff"))
}

func TestSearch(t *testing.T) {
	fw := &fakeWiki{changes: sampleChanges[:1]}
	_, ts := newTestServer(t, fw, Options{})

	_, body := get(t, ts.URL+"/api/search?q=%20%20")
	assert.JSONEq(t, `{"results":[]}`, body)
	assert.Zero(t, fw.count("search"))

	status, _ := get(t, ts.URL+"/api/search?q="+url.QueryEscape("נמל"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "נמל/7d", fw.searched)

	get(t, ts.URL+"/api/search?period=24h&q="+url.QueryEscape("נמל"))
	assert.Equal(t, "נמל/24h", fw.searched)
}

func TestAtomFeed(t *testing.T) {
	fw := &fakeWiki{changes: sampleChanges}
	_, ts := newTestServer(t, fw, Options{Host: "he.wikipedia.org"})

	resp, err := http.Get(ts.URL + "/feed.atom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/atom+xml")

	feed, err := gofeed.NewParser().Parse(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "atom", feed.FeedType)
	assert.Equal(t, "Edisco: recent edits on he.wikipedia.org", feed.Title)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "חיפה", feed.Items[0].Title)
	assert.Equal(t, "https://he.wikipedia.org/w/index.php?diff=900", feed.Items[0].Link)
	assert.Contains(t, feed.Items[0].Description, "+30 bytes")
	require.NotEmpty(t, feed.Items[1].Authors)
	assert.Equal(t, "192.0.2.7", feed.Items[1].Authors[0].Name)
	assert.Equal(t, wiki.EditsQuery{Limit: feedItems}, fw.edits[0])
}

func TestHealthAndMetrics(t *testing.T) {
	events := otel.NewNullLogger()
	t.Cleanup(events.Close)
	_, ts := newTestServer(t, &fakeWiki{}, Options{Events: events})

	status, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, events.SessionID(), health["session"])

	_, exposition := get(t, ts.URL+"/metrics")
	assert.Contains(t, exposition, `edisco_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestDebugEventsServesRing(t *testing.T) {
	events := otel.NewNullLogger()
	ring := otel.NewRingBuffer(16)
	events.SetRingBuffer(ring)
	t.Cleanup(events.Close)
	_, ts := newTestServer(t, &fakeWiki{}, Options{Events: events, Ring: ring})

	get(t, ts.URL+"/api/top-edited")
	require.Eventually(t, func() bool { return ring.Len() > 0 }, time.Second, 5*time.Millisecond)

	_, body := get(t, ts.URL+"/debug/events?n=50")
	assert.Contains(t, body, string(otel.KindHTTPRequest))
	assert.True(t, strings.Contains(body, `"/api/top-edited"`))
}

func TestUnknownRouteIs404(t *testing.T) {
	_, ts := newTestServer(t, &fakeWiki{}, Options{})
	status, _ := get(t, ts.URL+"/api/nope")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(Options{Wiki: &fakeWiki{}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunReportsListenError(t *testing.T) {
	s := New(Options{Wiki: &fakeWiki{}})
	err := s.Run(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
