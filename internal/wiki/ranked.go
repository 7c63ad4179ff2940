package wiki

import (
	"context"
	"sort"

	"github.com/abelbrown/edisco/internal/model"
)

// Aggregation windows: how many recent edits a ranking scans.
const (
	rankScan        = 2000
	rankScanWeek    = 10000
	editorsScan     = 5000
	editorsScanWeek = 25000

	talkNamespace = 1
)

// RankQuery is the request shared by the ranked endpoints.
type RankQuery struct {
	Limit    int
	Period   Period
	AnonOnly bool
	User     string
	Title    string
	Sort     string // "count" (default) or "date"; pages only
}

func (q RankQuery) normalized() RankQuery {
	if q.Limit <= 0 {
		q.Limit = 25
	}
	if q.Period == PeriodNone {
		q.Period = Period24h
	}
	return q
}

// TopEdited ranks articles by distinct editors.
func (c *Client) TopEdited(ctx context.Context, q RankQuery) ([]model.RankedPage, error) {
	return c.rankPages(ctx, q.normalized(), 0)
}

// TopTalkPages ranks talk pages by distinct editors. Page images come from
// the subject article.
func (c *Client) TopTalkPages(ctx context.Context, q RankQuery) ([]model.RankedPage, error) {
	return c.rankPages(ctx, q.normalized(), talkNamespace)
}

func (c *Client) rankPages(ctx context.Context, q RankQuery, ns int) ([]model.RankedPage, error) {
	scan := rankScan
	if q.Period == Period7d {
		scan = rankScanWeek
	}
	changes, err := c.changesFor(ctx, q.Period, RecentQuery{
		Max:       scan,
		Namespace: ns,
		AnonOnly:  q.AnonOnly,
		Props:     propsLean,
	})
	if err != nil {
		return nil, err
	}
	changes = filterChanges(changes, q.User, q.Title)

	pages := RankPages(changes)
	if q.Sort == "date" {
		sort.SliceStable(pages, func(i, j int) bool {
			return pages[i].LastTimestamp > pages[j].LastTimestamp
		})
	}
	if len(pages) > q.Limit {
		pages = pages[:q.Limit]
	}

	if ns == talkNamespace {
		c.attachTalkThumbnails(ctx, pages)
	} else {
		c.attachPageThumbnails(ctx, pages)
	}
	return pages, nil
}

// RankPages counts distinct users per title over newest-first changes and
// orders by that count. Ties keep the order in which titles were first seen,
// so the more recently active page wins.
func RankPages(changes []model.Change) []model.RankedPage {
	index := make(map[string]int)
	users := make([]map[string]struct{}, 0)
	var pages []model.RankedPage

	for _, ch := range changes {
		if ch.Title == "" || ch.User == "" {
			continue
		}
		i, ok := index[ch.Title]
		if !ok {
			i = len(pages)
			index[ch.Title] = i
			pages = append(pages, model.RankedPage{
				PageID:        ch.PageID,
				Title:         ch.Title,
				LastTimestamp: ch.Timestamp,
			})
			users = append(users, make(map[string]struct{}))
		}
		users[i][ch.User] = struct{}{}
	}
	for i := range pages {
		pages[i].Count = len(users[i])
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Count > pages[j].Count
	})
	return pages
}

// TopEditors ranks users by edit count.
func (c *Client) TopEditors(ctx context.Context, q RankQuery) ([]model.RankedEditor, error) {
	q = q.normalized()
	scan := editorsScan
	if q.Period == Period7d {
		scan = editorsScanWeek
	}
	changes, err := c.changesFor(ctx, q.Period, RecentQuery{
		Max:      scan,
		AnonOnly: q.AnonOnly,
		Props:    propsLean,
	})
	if err != nil {
		return nil, err
	}
	changes = filterChanges(changes, q.User, q.Title)

	editors := RankEditors(changes)
	if len(editors) > q.Limit {
		editors = editors[:q.Limit]
	}
	return editors, nil
}

// RankEditors counts edits per user, most active first. Ties keep first-seen
// order.
func RankEditors(changes []model.Change) []model.RankedEditor {
	index := make(map[string]int)
	var editors []model.RankedEditor
	for _, ch := range changes {
		if ch.User == "" {
			continue
		}
		i, ok := index[ch.User]
		if !ok {
			i = len(editors)
			index[ch.User] = i
			editors = append(editors, model.RankedEditor{User: ch.User})
		}
		editors[i].Count++
	}
	sort.SliceStable(editors, func(i, j int) bool {
		return editors[i].Count > editors[j].Count
	})
	return editors
}
