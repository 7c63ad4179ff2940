package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/edisco/internal/model"
)

var testNow = time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

// fakeWiki serves canned action API, pageviews and stream responses and
// records every request.
type fakeWiki struct {
	t  *testing.T
	mu sync.Mutex

	// changes are newest first; images is keyed by page id or title and
	// views by "YYYY/MM/DD".
	changes  []model.Change
	images   map[string]string
	diffs    map[int64]string
	views    map[string][]topArticle
	sse      []string
	apiError bool
	requests []*http.Request
}

func (f *fakeWiki) record(r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
}

func (f *fakeWiki) count(match func(*http.Request) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if match(r) {
			n++
		}
	}
	return n
}

func isQuery(kind string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		q := r.URL.Query()
		return q.Get("list") == kind || q.Get("prop") == kind
	}
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	assert.NotEmpty(f.t, r.Header.Get("User-Agent"))

	switch {
	case r.URL.Path == "/w/api.php":
		f.serveAPI(w, r)
	case strings.HasPrefix(r.URL.Path, "/rest/metrics/pageviews/top/he.wikipedia/all-access/"):
		day := strings.TrimPrefix(r.URL.Path, "/rest/metrics/pageviews/top/he.wikipedia/all-access/")
		articles, ok := f.views[day]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []any{map[string]any{"articles": articles}},
		})
	case r.URL.Path == "/stream":
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range f.sse {
			fmt.Fprintln(w, line)
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWiki) serveAPI(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if f.apiError {
		w.Write([]byte(`{"error":{"code":"ratelimited","info":"slow down"}}`))
		return
	}
	switch {
	case q.Get("list") == "recentchanges":
		f.serveChanges(w, q)
	case q.Get("prop") == "pageimages":
		pages := map[string]any{}
		for i, key := range strings.Split(q.Get("pageids")+q.Get("titles"), "|") {
			page := map[string]any{"title": key}
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				page["pageid"] = id
				page["title"] = "page " + key
			}
			if src, ok := f.images[key]; ok {
				page["thumbnail"] = map[string]any{"source": src}
			}
			pages[strconv.Itoa(-1-i)] = page
		}
		json.NewEncoder(w).Encode(map[string]any{"query": map[string]any{"pages": pages}})
	case q.Get("prop") == "revisions":
		var revs []any
		for _, s := range strings.Split(q.Get("revids"), "|") {
			id, _ := strconv.ParseInt(s, 10, 64)
			rev := map[string]any{"revid": id, "diff": map[string]any{"from": id - 1}}
			if body, ok := f.diffs[id]; ok {
				rev["diff"] = map[string]any{"from": id - 1, "to": id, "*": body}
			}
			revs = append(revs, rev)
		}
		json.NewEncoder(w).Encode(map[string]any{"query": map[string]any{
			"pages": map[string]any{"1": map[string]any{"revisions": revs}},
		}})
	default:
		http.Error(w, "unexpected query", http.StatusBadRequest)
	}
}

// serveChanges pages over f.changes, honoring rcstart, rcend, rcnamespace,
// rctype and rclimit, with rccontinue as an offset.
func (f *fakeWiki) serveChanges(w http.ResponseWriter, q map[string][]string) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	ns, _ := strconv.Atoi(get("rcnamespace"))
	var rows []model.Change
	for _, ch := range f.changes {
		if ch.NS != ns {
			continue
		}
		if s := get("rcstart"); s != "" && ch.Timestamp > s {
			continue
		}
		if e := get("rcend"); e != "" && ch.Timestamp < e {
			continue
		}
		if get("rctype") == "new" && ch.Type != "new" {
			continue
		}
		if strings.Contains(get("rcshow"), "anon") && !ch.IsAnon() {
			continue
		}
		rows = append(rows, ch)
	}

	offset, _ := strconv.Atoi(get("rccontinue"))
	limit, _ := strconv.Atoi(get("rclimit"))
	end := min(offset+limit, len(rows))
	resp := map[string]any{"query": map[string]any{"recentchanges": rows[offset:end]}}
	if end < len(rows) {
		resp["continue"] = map[string]string{"rccontinue": strconv.Itoa(end), "continue": "-||"}
	}
	json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, f *fakeWiki, thumbs ThumbnailCache) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		APIURL:     srv.URL + "/w/api.php",
		RestURL:    srv.URL + "/rest",
		StreamURL:  srv.URL + "/stream",
		RateLimit:  1000,
		Burst:      100,
		Thumbnails: thumbs,
	})
	c.now = func() time.Time { return testNow }
	return c
}

// change builds an article edit minutes before testNow.
func change(rcid int64, minutesAgo int, title, user string, delta int) model.Change {
	return model.Change{
		Type:      "edit",
		Title:     title,
		PageID:    1000 + rcid,
		RevID:     5000 + rcid,
		RCID:      rcid,
		User:      user,
		OldLen:    1000,
		NewLen:    1000 + delta,
		Timestamp: mwTime(testNow.Add(-time.Duration(minutesAgo) * time.Minute)),
	}
}

func rcids(changes []model.Change) []int64 {
	out := make([]int64, len(changes))
	for i, ch := range changes {
		out[i] = ch.RCID
	}
	return out
}

type memThumbs struct {
	mu    sync.Mutex
	m     map[string]string
	saves int
}

func (m *memThumbs) GetThumbnails(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := m.m[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memThumbs) SaveThumbnails(_ context.Context, thumbs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = map[string]string{}
	}
	for k, v := range thumbs {
		m.m[k] = v
	}
	m.saves++
	return nil
}

func TestRecentChangesPagesWithContinue(t *testing.T) {
	f := &fakeWiki{}
	for i := 0; i < 1200; i++ {
		f.changes = append(f.changes, change(int64(5000-i), i, "עמוד", "u", 1))
	}
	c := newTestClient(t, f, nil)

	got, err := c.RecentChanges(context.Background(), RecentQuery{Max: 1100})

	require.NoError(t, err)
	assert.Len(t, got, 1100)
	assert.Equal(t, int64(5000), got[0].RCID)
	assert.Equal(t, int64(3901), got[1099].RCID)
	assert.Equal(t, 3, f.count(isQuery("recentchanges")))
}

func TestRecentEditsFiltersSortsAndAttachesImages(t *testing.T) {
	f := &fakeWiki{
		changes: []model.Change{
			change(3, 1, "חיפה", "Dovi", 10),
			change(2, 2, "עכו", "Dovi", 500),
			change(1, 3, "ירושלים", "Other", -40),
		},
		images: map[string]string{"1003": "https://upload.example/haifa.jpg"},
	}
	thumbs := &memThumbs{}
	c := newTestClient(t, f, thumbs)
	ctx := context.Background()

	got, err := c.RecentEdits(ctx, EditsQuery{Limit: 50, User: "dovi", Sort: "size_desc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, rcids(got))
	assert.Equal(t, "https://upload.example/haifa.jpg", got[1].Thumbnail)
	assert.Empty(t, got[0].Thumbnail)

	// Images now come from the cache.
	before := f.count(isQuery("pageimages"))
	_, err = c.RecentEdits(ctx, EditsQuery{Limit: 50, User: "dovi"})
	require.NoError(t, err)
	assert.Equal(t, before, f.count(isQuery("pageimages")))

	asc, err := c.RecentEdits(ctx, EditsQuery{Limit: 3, Sort: "size_asc"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, rcids(asc))
}

func TestRecentEditsPeriodBoundsRange(t *testing.T) {
	f := &fakeWiki{changes: []model.Change{
		change(3, 10, "a", "u", 1),
		change(2, 50, "b", "u", 1),
		change(1, 90, "c", "u", 1),
	}}
	c := newTestClient(t, f, nil)

	got, err := c.RecentEdits(context.Background(), EditsQuery{Period: Period1h})

	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, rcids(got))
}

func TestWeekIsFetchedInChunks(t *testing.T) {
	f := &fakeWiki{}
	for day := 0; day < 7; day++ {
		f.changes = append(f.changes, change(int64(100-day), day*24*60+30, "p", "u", 1))
	}
	c := newTestClient(t, f, nil)

	got, err := c.RecentEdits(context.Background(), EditsQuery{Period: Period7d})

	require.NoError(t, err)
	assert.Equal(t, []int64{100, 99, 98, 97, 96, 95, 94}, rcids(got))
	assert.Equal(t, weekChunks, f.count(isQuery("recentchanges")))
}

func TestRankPages(t *testing.T) {
	changes := []model.Change{
		change(6, 1, "B", "x", 0),
		change(5, 2, "A", "x", 0),
		change(4, 3, "A", "y", 0),
		change(3, 4, "B", "x", 0),
		change(2, 5, "C", "z", 0),
		change(1, 6, "A", "y", 0),
	}

	pages := RankPages(changes)

	require.Len(t, pages, 3)
	assert.Equal(t, "A", pages[0].Title)
	assert.Equal(t, 2, pages[0].Count)
	assert.Equal(t, "B", pages[1].Title, "ties keep most recent activity first")
	assert.Equal(t, changes[0].Timestamp, pages[1].LastTimestamp)
	assert.Equal(t, "C", pages[2].Title)
}

func TestRankEditors(t *testing.T) {
	changes := []model.Change{
		change(4, 1, "A", "y", 0),
		change(3, 2, "B", "x", 0),
		change(2, 3, "C", "x", 0),
		change(1, 4, "D", "z", 0),
	}
	assert.Equal(t, []model.RankedEditor{
		{User: "x", Count: 2}, {User: "y", Count: 1}, {User: "z", Count: 1},
	}, RankEditors(changes))
}

func TestTopEditedSortByDate(t *testing.T) {
	f := &fakeWiki{changes: []model.Change{
		change(4, 1, "recent-single", "a", 0),
		change(3, 5, "busy", "a", 0),
		change(2, 6, "busy", "b", 0),
		change(1, 7, "busy", "c", 0),
	}}
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	byCount, err := c.TopEdited(ctx, RankQuery{})
	require.NoError(t, err)
	assert.Equal(t, "busy", byCount[0].Title)

	byDate, err := c.TopEdited(ctx, RankQuery{Sort: "date"})
	require.NoError(t, err)
	assert.Equal(t, "recent-single", byDate[0].Title)

	limited, err := c.TopEdited(ctx, RankQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTopTalkPagesUseSubjectImages(t *testing.T) {
	talk := change(1, 1, "שיחה:חיפה", "a", 5)
	talk.NS = talkNamespace
	article := change(2, 1, "חיפה", "a", 5)
	f := &fakeWiki{
		changes: []model.Change{talk, article},
		images:  map[string]string{"חיפה": "https://upload.example/haifa.jpg"},
	}
	c := newTestClient(t, f, nil)

	pages, err := c.TopTalkPages(context.Background(), RankQuery{})

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "שיחה:חיפה", pages[0].Title)
	assert.Equal(t, "https://upload.example/haifa.jpg", pages[0].Thumbnail)
}

func TestTopEditorsFilterByUser(t *testing.T) {
	f := &fakeWiki{changes: []model.Change{
		change(3, 1, "A", "Dovi", 0),
		change(2, 2, "B", "Dana", 0),
		change(1, 3, "C", "Dana", 0),
	}}
	c := newTestClient(t, f, nil)

	editors, err := c.TopEditors(context.Background(), RankQuery{User: "dov"})

	require.NoError(t, err)
	assert.Equal(t, []model.RankedEditor{{User: "Dovi", Count: 1}}, editors)
}

func TestNewArticles(t *testing.T) {
	created := change(2, 30, "ערך חדש", "a", 900)
	created.Type = "new"
	f := &fakeWiki{changes: []model.Change{created, change(1, 40, "ישן", "b", 3)}}
	c := newTestClient(t, f, nil)

	got, err := c.NewArticles(context.Background(), 25, PeriodNone, false, "", "")

	require.NoError(t, err)
	assert.Equal(t, []int64{2}, rcids(got))
}

func TestTopViewedSumsWeekAndExcludesSpecialPages(t *testing.T) {
	f := &fakeWiki{views: map[string][]topArticle{}}
	for i := 0; i < 7; i++ {
		day := testNow.AddDate(0, 0, -1-i).Format("2006/01/02")
		f.views[day] = []topArticle{
			{Article: "עמוד_ראשי", Views: 100000},
			{Article: "מיוחד:חיפוש", Views: 50000},
			{Article: "תל_אביב", Views: 300},
			{Article: "חיפה", Views: 200 + i*50},
		}
	}
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	week, err := c.TopViewed(ctx, RankQuery{Period: Period7d})
	require.NoError(t, err)
	require.Len(t, week, 2)
	assert.Equal(t, model.ViewedPage{Title: "חיפה", Views: 2450, Rank: 1, APITitle: "חיפה"}, week[0])
	assert.Equal(t, "תל אביב", week[1].Title)
	assert.Equal(t, "תל_אביב", week[1].APITitle)
	assert.Equal(t, 2, week[1].Rank)

	day, err := c.TopViewed(ctx, RankQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "תל אביב", day[0].Title)
	assert.Equal(t, 300, day[0].Views)
}

func TestTopViewedAllDaysFailing(t *testing.T) {
	c := newTestClient(t, &fakeWiki{}, nil)
	_, err := c.TopViewed(context.Background(), RankQuery{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

const sampleDiff = `<tr><td class="diff-marker" data-marker="−"></td><td class="diff-deletedline"><div>העיר <del class="diffchange">הישנה</del></div></td>` +
	`<td class="diff-marker" data-marker="+"></td><td class="diff-addedline"><div>העיר <ins class="diffchange">החדשה</ins></div></td></tr>` +
	`<tr><td class="diff-context"><div>שורה קבועה</div></td></tr>`

func TestDiff(t *testing.T) {
	f := &fakeWiki{diffs: map[int64]string{5001: sampleDiff + `<script>alert(1)</script>`}}
	c := newTestClient(t, f, nil)
	ctx := context.Background()

	html, err := c.Diff(ctx, 5001)
	require.NoError(t, err)
	assert.Contains(t, html, `class="diff-addedline"`)
	assert.Contains(t, html, `data-marker="+"`)
	assert.NotContains(t, html, "<script")

	_, err = c.Diff(ctx, 5002)
	assert.ErrorIs(t, err, ErrNoDiff)
}

func TestParseDiffClassify(t *testing.T) {
	lines, err := ParseDiff(sampleDiff)
	require.NoError(t, err)

	assert.Equal(t, []string{"העיר החדשה"}, lines.Added)
	assert.Equal(t, []string{"העיר הישנה"}, lines.Removed)

	for word, want := range map[string]string{"החדשה": StatusAdded, "הישנה": StatusRemoved, "קבועה": StatusUnknown} {
		got, ok := lines.Classify(word)
		assert.True(t, ok, word)
		assert.Equal(t, want, got, word)
	}
	_, ok := lines.Classify("נעדר")
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	f := &fakeWiki{
		changes: []model.Change{
			change(3, 10, "חיפה", "a", 5),
			change(2, 20, "עכו", "b", -5),
			change(1, 30, "צפת", "c", 0),
		},
		diffs: map[int64]string{
			5003: `<tr><td class="diff-addedline"><div>נמל חדש</div></td></tr>`,
			5002: `<tr><td class="diff-deletedline"><div>נמל עתיק</div></td></tr>`,
			5001: `<tr><td class="diff-addedline"><div>הר</div></td></tr>`,
		},
	}
	c := newTestClient(t, f, nil)

	hits, err := c.Search(context.Background(), "נמל", PeriodNone)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(3), hits[0].RCID)
	assert.Equal(t, StatusAdded, hits[0].Status)
	assert.Equal(t, StatusRemoved, hits[1].Status)

	none, err := c.Search(context.Background(), "  ", Period24h)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMediaWikiErrorPayload(t *testing.T) {
	c := newTestClient(t, &fakeWiki{apiError: true}, nil)

	_, err := c.RecentChanges(context.Background(), RecentQuery{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ratelimited", apiErr.Code)
}

func TestStreamFiltersEvents(t *testing.T) {
	f := &fakeWiki{sse: []string{
		"event: message",
		`id: [{"topic":"eqiad.mediawiki.recentchange"}]`,
		`data: {"id":1,"type":"edit","server_name":"he.wikipedia.org","title":"חיפה"}`,
		"",
		`data: {"id":2,"type":"edit","server_name":"en.wikipedia.org","title":"Haifa"}`,
		`data: {"id":3,"type":"log","server_name":"he.wikipedia.org"}`,
		`data: {not json`,
		`data: {"id":4,"type":"edit","server_name":"he.wikipedia.org","title":"עכו"}`,
	}}
	c := newTestClient(t, f, nil)

	var ids []int
	err := c.Stream(context.Background(), func(raw json.RawMessage) error {
		var ev struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &ev))
		ids = append(ids, ev.ID)
		return nil
	})

	assert.Error(t, err, "stream ends when upstream closes")
	assert.Equal(t, []int{1, 4}, ids)
}

func TestParsePeriod(t *testing.T) {
	for _, s := range []string{"", "1h", "24h", "7d"} {
		p, err := ParsePeriod(s)
		require.NoError(t, err)
		assert.Equal(t, Period(s), p)
	}
	_, err := ParsePeriod("30d")
	assert.Error(t, err)
	assert.Equal(t, 7*24*time.Hour, Period7d.Duration())
}
