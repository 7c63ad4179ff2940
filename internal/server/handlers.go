package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/otel"
	"github.com/abelbrown/edisco/internal/wiki"
)

const (
	jsonType = "application/json"

	defaultRecentLimit = 50
	defaultLimit       = 25
	maxLimit           = wiki.RecentMaxFetch
	defaultEventsShown = 100
)

// listQuery holds the parameters shared by the list endpoints.
type listQuery struct {
	limit    int
	period   wiki.Period
	anonOnly bool
	user     string
	title    string
	sort     string
}

func parseListQuery(r *http.Request, defLimit int, defPeriod wiki.Period) (listQuery, error) {
	v := r.URL.Query()
	q := listQuery{
		limit:  defLimit,
		period: defPeriod,
		user:   strings.TrimSpace(v.Get("user")),
		title:  strings.TrimSpace(v.Get("title")),
		sort:   v.Get("sort"),
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.limit = min(n, maxLimit)
	}
	if s := v.Get("period"); s != "" {
		p, err := wiki.ParsePeriod(s)
		if err != nil {
			return q, err
		}
		q.period = p
	}
	if s := v.Get("anon_only"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, fmt.Errorf("invalid anon_only %q", s)
		}
		q.anonOnly = b
	}
	return q, nil
}

func (q listQuery) rank() wiki.RankQuery {
	return wiki.RankQuery{
		Limit:    q.limit,
		Period:   q.period,
		AnonOnly: q.anonOnly,
		User:     q.user,
		Title:    q.title,
		Sort:     q.sort,
	}
}

// renderResults wraps xs as {"results": [...]}, never null.
func renderResults[T any](xs []T, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if xs == nil {
		xs = []T{}
	}
	return json.Marshal(map[string]any{"results": xs})
}

// cached writes the body stored under the request's path and query, or
// renders, stores and writes it. A zero ttl bypasses the cache.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, ttl time.Duration, contentType string,
	render func(ctx context.Context) ([]byte, error)) {

	ctx := r.Context()
	key := r.URL.Path + "?" + r.URL.Query().Encode()

	if ttl > 0 {
		body, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logging.Warn("cache read failed", "key", key, "err", err)
		}
		s.metrics.CacheLookup(ok)
		if ok {
			s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindCacheHit, Comp: "server", Source: r.URL.Path})
			writeBody(w, http.StatusOK, contentType, body)
			return
		}
		s.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindCacheMiss, Comp: "server", Source: r.URL.Path})
	}

	body, err := render(ctx)
	if err != nil {
		s.upstreamFailed(w, r, err)
		return
	}
	if ttl > 0 {
		if err := s.cache.Set(ctx, key, body, ttl); err != nil {
			logging.Warn("cache write failed", "key", key, "err", err)
		}
	}
	writeBody(w, http.StatusOK, contentType, body)
}

func (s *Server) upstreamFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logging.Debug("client went away", "route", r.URL.Path)
		return
	}
	logging.Error("upstream request failed", "route", r.URL.Path, "err", err)
	s.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindError, Comp: "server", Source: r.URL.Path, Err: err.Error()})
	writeError(w, http.StatusBadGateway, err)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultRecentLimit, wiki.PeriodNone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// A period without an explicit limit means every edit in the period.
	if q.period != wiki.PeriodNone && !r.URL.Query().Has("limit") {
		q.limit = 0
	}
	s.cached(w, r, 0, jsonType, func(ctx context.Context) ([]byte, error) {
		changes, err := s.wiki.RecentEdits(ctx, wiki.EditsQuery{
			Limit:    q.limit,
			Period:   q.period,
			AnonOnly: q.anonOnly,
			User:     q.user,
			Title:    q.title,
			Sort:     q.sort,
		})
		return renderResults(changes, err)
	})
}

func (s *Server) handleNewArticles(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultLimit, wiki.Period24h)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cached(w, r, newTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		changes, err := s.wiki.NewArticles(ctx, q.limit, q.period, q.anonOnly, q.user, q.title)
		return renderResults(changes, err)
	})
}

func (s *Server) handleTopEdited(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultLimit, wiki.Period24h)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cached(w, r, rankedTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		pages, err := s.wiki.TopEdited(ctx, q.rank())
		return renderResults(pages, err)
	})
}

func (s *Server) handleTopTalk(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultLimit, wiki.Period24h)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cached(w, r, rankedTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		pages, err := s.wiki.TopTalkPages(ctx, q.rank())
		return renderResults(pages, err)
	})
}

func (s *Server) handleTopEditors(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultLimit, wiki.Period24h)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cached(w, r, rankedTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		editors, err := s.wiki.TopEditors(ctx, q.rank())
		return renderResults(editors, err)
	})
}

func (s *Server) handleTopViewed(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r, defaultLimit, wiki.Period24h)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cached(w, r, rankedTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		pages, err := s.wiki.TopViewed(ctx, q.rank())
		return renderResults(pages, err)
	})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("revid")
	revid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || revid <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid revid %q", raw))
		return
	}
	s.cached(w, r, diffTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		html, err := s.wiki.Diff(ctx, revid)
		if errors.Is(err, wiki.ErrNoDiff) {
			html, err = "", nil
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"diff": html})
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	word := strings.TrimSpace(v.Get("q"))
	if word == "" {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
		return
	}
	period := wiki.Period7d
	if s := v.Get("period"); s != "" {
		p, err := wiki.ParsePeriod(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		period = p
	}
	s.cached(w, r, searchTTL, jsonType, func(ctx context.Context) ([]byte, error) {
		hits, err := s.wiki.Search(ctx, word, period)
		return renderResults(hits, err)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"wiki":    s.host,
		"session": s.events.SessionID(),
		"clients": s.hub.Len(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := defaultEventsShown
	if raw := r.URL.Query().Get("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	events := []otel.Event{}
	if s.ring != nil {
		if last := s.ring.Last(n); last != nil {
			events = last
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
