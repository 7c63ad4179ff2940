package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/wiki"
)

const (
	atomType  = "application/atom+xml; charset=utf-8"
	feedItems = 50
)

func (s *Server) handleAtom(w http.ResponseWriter, r *http.Request) {
	s.cached(w, r, feedTTL, atomType, func(ctx context.Context) ([]byte, error) {
		changes, err := s.wiki.RecentEdits(ctx, wiki.EditsQuery{Limit: feedItems})
		if err != nil {
			return nil, err
		}
		atom, err := s.buildFeed(changes, time.Now()).ToAtom()
		if err != nil {
			return nil, fmt.Errorf("render atom: %w", err)
		}
		return []byte(atom), nil
	})
}

// buildFeed renders changes, newest first, as a feed linking each edit to
// its diff on the wiki.
func (s *Server) buildFeed(changes []model.Change, now time.Time) *feeds.Feed {
	site := "https://" + s.host
	items := make([]*feeds.Item, 0, len(changes))
	for _, ch := range changes {
		e, err := ch.Entry()
		if err != nil {
			continue
		}
		link := e.DiffURL(site)
		if link == "" {
			link = site + "/wiki/" + url.PathEscape(strings.ReplaceAll(ch.Title, " ", "_"))
		}

		items = append(items, &feeds.Item{
			Id:          link,
			Title:       ch.Title,
			Link:        &feeds.Link{Href: link},
			Author:      &feeds.Author{Name: e.DisplayUser("unknown")},
			Description: describe(e),
			Created:     e.Timestamp,
			Updated:     e.Timestamp,
		})
	}

	return &feeds.Feed{
		Title:       "Edisco: recent edits on " + s.host,
		Link:        &feeds.Link{Href: site + "/wiki/Special:RecentChanges"},
		Description: "Recent article edits on " + s.host,
		Author:      &feeds.Author{Name: "Edisco"},
		Created:     now.UTC(),
		Updated:     now.UTC(),
		Items:       items,
	}
}

func describe(e model.Entry) string {
	delta := fmt.Sprintf("%+d bytes", e.SizeDelta)
	if e.Comment == "" {
		return delta
	}
	return e.Comment + " (" + delta + ")"
}
