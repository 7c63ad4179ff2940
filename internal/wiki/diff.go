package wiki

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

const (
	diffChunk = 50

	// SearchScan is how many recent edits a search inspects.
	SearchScan = 500
)

// Search hit statuses.
const (
	StatusAdded   = "added"
	StatusRemoved = "removed"
	StatusUnknown = "unknown"
)

type revisionsResponse struct {
	Query struct {
		Pages map[string]struct {
			Revisions []struct {
				RevID int64 `json:"revid"`
				Diff  struct {
					Body string `json:"*"`
				} `json:"diff"`
			} `json:"revisions"`
		} `json:"pages"`
	} `json:"query"`
}

// diffs returns the diff table rows for each revision that has one.
func (c *Client) diffs(ctx context.Context, revids []int64) (map[int64]string, error) {
	ids := make([]string, len(revids))
	for i, id := range revids {
		ids[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("prop", "revisions")
	params.Set("rvdiffto", "prev")
	params.Set("revids", strings.Join(ids, "|"))

	var resp revisionsResponse
	if err := c.query(ctx, "revisions", params, &resp); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(revids))
	for _, page := range resp.Query.Pages {
		for _, rev := range page.Revisions {
			if rev.Diff.Body != "" {
				out[rev.RevID] = rev.Diff.Body
			}
		}
	}
	return out, nil
}

// Diff returns the sanitized diff of revid against its parent.
func (c *Client) Diff(ctx context.Context, revid int64) (string, error) {
	found, err := c.diffs(ctx, []int64{revid})
	if err != nil {
		return "", err
	}
	html, ok := found[revid]
	if !ok {
		return "", ErrNoDiff
	}
	return SanitizeDiff(html), nil
}

var diffPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("table", "tbody", "tr", "td", "th", "colgroup", "col", "ins", "del", "div", "span", "br")
	p.AllowAttrs("class").OnElements("table", "tr", "td", "th", "col", "ins", "del", "div", "span")
	p.AllowAttrs("colspan", "data-marker").OnElements("td", "th")
	return p
}()

// SanitizeDiff strips everything but the table markup MediaWiki diffs use.
func SanitizeDiff(html string) string {
	return diffPolicy.Sanitize(html)
}

// DiffLines is the text of a diff's changed rows.
type DiffLines struct {
	Added   []string
	Removed []string
	Context []string
}

// ParseDiff extracts line text from diff table rows.
func ParseDiff(html string) (DiffLines, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table>" + html + "</table>"))
	if err != nil {
		return DiffLines{}, err
	}
	var lines DiffLines
	doc.Find("td.diff-addedline").Each(func(_ int, s *goquery.Selection) {
		lines.Added = append(lines.Added, strings.TrimSpace(s.Text()))
	})
	doc.Find("td.diff-deletedline").Each(func(_ int, s *goquery.Selection) {
		lines.Removed = append(lines.Removed, strings.TrimSpace(s.Text()))
	})
	doc.Find("td.diff-context").Each(func(_ int, s *goquery.Selection) {
		lines.Context = append(lines.Context, strings.TrimSpace(s.Text()))
	})
	return lines, nil
}

// Classify reports whether word was added or removed by the diff, or
// "unknown" when it only appears in context. ok is false when the word does
// not appear at all.
func (d DiffLines) Classify(word string) (status string, ok bool) {
	has := func(lines []string) bool {
		for _, l := range lines {
			if strings.Contains(l, word) {
				return true
			}
		}
		return false
	}
	switch {
	case has(d.Added):
		return StatusAdded, true
	case has(d.Removed):
		return StatusRemoved, true
	case has(d.Context):
		return StatusUnknown, true
	}
	return "", false
}

// Search scans the latest article edits in period (24h or, by default, 7d)
// for word in their diffs. Hits carry Status.
func (c *Client) Search(ctx context.Context, word string, period Period) ([]model.Change, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, nil
	}
	if period != Period24h {
		period = Period7d
	}

	changes, err := c.RecentChanges(ctx, RecentQuery{
		End: c.now().Add(-period.Duration()),
		Max: SearchScan,
	})
	if err != nil {
		return nil, err
	}

	revids := make([]int64, 0, len(changes))
	for _, ch := range changes {
		if ch.RevID > 0 {
			revids = append(revids, ch.RevID)
		}
	}

	var mu sync.Mutex
	bodies := make(map[int64]string, len(revids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(revids); start += diffChunk {
		chunk := revids[start:min(start+diffChunk, len(revids))]
		g.Go(func() error {
			found, err := c.diffs(gctx, chunk)
			if err != nil {
				logging.Warn("diff batch failed", "revisions", len(chunk), "err", err)
				return nil
			}
			mu.Lock()
			for id, body := range found {
				bodies[id] = body
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var hits []model.Change
	for _, ch := range changes {
		body, ok := bodies[ch.RevID]
		if !ok || !strings.Contains(body, word) {
			continue
		}
		lines, err := ParseDiff(body)
		if err != nil {
			continue
		}
		status, ok := lines.Classify(word)
		if !ok {
			// The word is only in markup, e.g. an attribute.
			status = StatusUnknown
		}
		ch.Status = status
		hits = append(hits, ch)
	}
	c.attachThumbnails(ctx, hits)
	return hits, nil
}
