package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

// Titles left out of the most-viewed list: the main page and the
// Special: and Wikipedia: namespaces.
var (
	excludedTitles   = map[string]bool{"עמוד_ראשי": true, "Main_Page": true, "-": true}
	excludedPrefixes = []string{"מיוחד:", "ויקיפדיה:", "Special:", "Wikipedia:"}
)

func excludedFromViews(title string) bool {
	if excludedTitles[title] {
		return true
	}
	for _, p := range excludedPrefixes {
		if strings.HasPrefix(title, p) {
			return true
		}
	}
	return false
}

type topArticle struct {
	Article string `json:"article"`
	Views   int    `json:"views"`
}

// project is the pageviews project name, e.g. "he.wikipedia".
func (c *Client) project() string {
	return strings.TrimSuffix(c.wiki, ".org")
}

func (c *Client) topViewsOn(ctx context.Context, day time.Time) ([]topArticle, error) {
	u := fmt.Sprintf("%s/metrics/pageviews/top/%s/all-access/%s",
		c.rest, url.PathEscape(c.project()), day.UTC().Format("2006/01/02"))
	raw, err := c.getRaw(ctx, "pageviews", u)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Items []struct {
			Articles []topArticle `json:"articles"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("pageviews: decode response: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return resp.Items[0].Articles, nil
}

// TopViewed returns the most viewed articles of yesterday, or of the last
// seven full days summed when the period is 7d. Pageviews are published
// daily, so 1h and 24h both mean yesterday.
func (c *Client) TopViewed(ctx context.Context, q RankQuery) ([]model.ViewedPage, error) {
	q = q.normalized()
	days := 1
	if q.Period == Period7d {
		days = 7
	}
	yesterday := c.now().UTC().AddDate(0, 0, -1)

	perDay := make([][]topArticle, days)
	errs := make([]error, days)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < days; i++ {
		g.Go(func() error {
			perDay[i], errs[i] = c.topViewsOn(gctx, yesterday.AddDate(0, 0, -i))
			return nil
		})
	}
	g.Wait()

	views := make(map[string]int)
	var order []string
	failed := 0
	for i, articles := range perDay {
		if errs[i] != nil {
			failed++
			logging.Warn("pageviews day failed", "day", yesterday.AddDate(0, 0, -i).Format(time.DateOnly), "err", errs[i])
			continue
		}
		for _, a := range articles {
			if excludedFromViews(a.Article) {
				continue
			}
			if _, ok := views[a.Article]; !ok {
				order = append(order, a.Article)
			}
			views[a.Article] += a.Views
		}
	}
	if failed == days {
		return nil, errs[0]
	}

	sort.SliceStable(order, func(i, j int) bool {
		return views[order[i]] > views[order[j]]
	})

	var pages []model.ViewedPage
	for _, article := range order {
		display := spaced(article)
		if !model.Match(display, q.Title) {
			continue
		}
		pages = append(pages, model.ViewedPage{
			Title:    display,
			Views:    views[article],
			Rank:     len(pages) + 1,
			APITitle: article,
		})
		if len(pages) == q.Limit {
			break
		}
	}
	c.attachViewedThumbnails(ctx, pages)
	return pages, nil
}
