package wiki

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

const (
	// maxPage is the largest rclimit MediaWiki grants to anonymous clients.
	maxPage = 500

	// RecentMaxFetch bounds the rows scanned for /api/recent.
	RecentMaxFetch = 500

	weekChunks    = 28
	weekChunkSpan = 6 * time.Hour

	propsFull = "ids|title|user|timestamp|comment|sizes|flags"
	propsLean = "ids|title|user|timestamp"
)

// RecentQuery selects recent changes. Start is the newer bound and End the
// older one, matching rcstart and rcend; zero means unbounded.
type RecentQuery struct {
	Start     time.Time
	End       time.Time
	Max       int
	Namespace int
	AnonOnly  bool
	NoBots    bool
	NewOnly   bool
	Props     string
}

// RecentChanges pages through list=recentchanges until q.Max rows have been
// read or the range is exhausted. Rows come back newest first.
//
// A failure after the first page ends paging and returns what was read.
func (c *Client) RecentChanges(ctx context.Context, q RecentQuery) ([]model.Change, error) {
	if q.Max <= 0 {
		q.Max = maxPage
	}
	if q.Props == "" {
		q.Props = propsFull
	}

	var out []model.Change
	cont := url.Values{}
	for len(out) < q.Max {
		params := url.Values{}
		params.Set("list", "recentchanges")
		params.Set("rcprop", q.Props)
		params.Set("rcnamespace", strconv.Itoa(q.Namespace))
		params.Set("rclimit", strconv.Itoa(min(maxPage, q.Max-len(out))))
		if !q.Start.IsZero() {
			params.Set("rcstart", mwTime(q.Start))
		}
		if !q.End.IsZero() {
			params.Set("rcend", mwTime(q.End))
		}
		switch {
		case q.AnonOnly && q.NoBots:
			params.Set("rcshow", "anon|!bot")
		case q.AnonOnly:
			params.Set("rcshow", "anon")
		case q.NoBots:
			params.Set("rcshow", "!bot")
		}
		if q.NewOnly {
			params.Set("rctype", "new")
		}
		for k, v := range cont {
			params[k] = v
		}

		var resp struct {
			Continue map[string]string `json:"continue"`
			Query    struct {
				RecentChanges []model.Change `json:"recentchanges"`
			} `json:"query"`
		}
		if err := c.query(ctx, "recentchanges", params, &resp); err != nil {
			if len(out) == 0 {
				return nil, err
			}
			logging.Warn("recentchanges paging stopped early", "have", len(out), "err", err)
			break
		}

		batch := resp.Query.RecentChanges
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		if len(resp.Continue) == 0 {
			break
		}
		cont = url.Values{}
		for k, v := range resp.Continue {
			cont.Set(k, v)
		}
	}
	if len(out) > q.Max {
		out = out[:q.Max]
	}
	return out, nil
}

// changesFor reads up to max changes within period. A week is split into
// six-hour chunks fetched concurrently, each capped at max(200, max/20).
func (c *Client) changesFor(ctx context.Context, period Period, q RecentQuery) ([]model.Change, error) {
	now := c.now()
	if period != Period7d {
		if d := period.Duration(); d > 0 {
			q.End = now.Add(-d)
		}
		return c.RecentChanges(ctx, q)
	}

	total := q.Max
	q.Max = max(200, total/20)

	chunks := make([][]model.Change, weekChunks)
	errs := make([]error, weekChunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := 0; i < weekChunks; i++ {
		chunk := q
		chunk.Start = now.Add(-time.Duration(i) * weekChunkSpan)
		chunk.End = now.Add(-time.Duration(i+1) * weekChunkSpan)
		g.Go(func() error {
			chunks[i], errs[i] = c.RecentChanges(gctx, chunk)
			return nil
		})
	}
	g.Wait()

	var all []model.Change
	failed := 0
	for i, chunk := range chunks {
		if errs[i] != nil {
			failed++
			logging.Warn("week chunk failed", "chunk", i, "err", errs[i])
			continue
		}
		all = append(all, chunk...)
	}
	if failed == weekChunks {
		return nil, errs[0]
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp > all[j].Timestamp
	})
	if len(all) > total {
		all = all[:total]
	}
	return all, nil
}

// EditsQuery is the /api/recent request.
type EditsQuery struct {
	Limit    int // 0 with a period means every row in the period
	Period   Period
	AnonOnly bool
	User     string
	Title    string
	Sort     string // "date", "size_desc" or "size_asc"
}

// RecentEdits returns article edits for /api/recent, filtered, sorted and
// with page images attached.
func (c *Client) RecentEdits(ctx context.Context, q EditsQuery) ([]model.Change, error) {
	fetch := RecentMaxFetch
	if q.Period == PeriodNone && q.User == "" && q.Title == "" && q.Limit > 0 {
		fetch = min(q.Limit, RecentMaxFetch)
	}

	changes, err := c.changesFor(ctx, q.Period, RecentQuery{Max: fetch, AnonOnly: q.AnonOnly})
	if err != nil {
		return nil, err
	}

	changes = filterChanges(changes, q.User, q.Title)
	sortChanges(changes, q.Sort)
	if q.Limit > 0 && len(changes) > q.Limit {
		changes = changes[:q.Limit]
	}
	c.attachThumbnails(ctx, changes)
	return changes, nil
}

func filterChanges(changes []model.Change, user, title string) []model.Change {
	if user == "" && title == "" {
		return changes
	}
	out := make([]model.Change, 0, len(changes))
	for _, ch := range changes {
		if !model.Match(ch.User, user) || !model.Match(ch.Title, title) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// sortChanges orders by size delta for the size sorts; "date" keeps the
// upstream newest-first order.
func sortChanges(changes []model.Change, by string) {
	switch by {
	case "size_desc":
		sort.SliceStable(changes, func(i, j int) bool {
			return changes[i].SizeDelta() > changes[j].SizeDelta()
		})
	case "size_asc":
		sort.SliceStable(changes, func(i, j int) bool {
			return changes[i].SizeDelta() < changes[j].SizeDelta()
		})
	}
}

// NewArticles returns page creations in the main namespace.
func (c *Client) NewArticles(ctx context.Context, limit int, period Period, anonOnly bool, user, title string) ([]model.Change, error) {
	if limit <= 0 {
		limit = 25
	}
	if period == PeriodNone {
		period = Period24h
	}
	q := RecentQuery{
		End:      c.now().Add(-period.Duration()),
		Max:      limit,
		NewOnly:  true,
		AnonOnly: anonOnly,
		Props:    propsFull + "|tags",
	}
	if user != "" || title != "" {
		q.Max = RecentMaxFetch
	}

	changes, err := c.RecentChanges(ctx, q)
	if err != nil {
		return nil, err
	}
	changes = filterChanges(changes, user, title)
	if len(changes) > limit {
		changes = changes[:limit]
	}
	c.attachThumbnails(ctx, changes)
	return changes, nil
}
