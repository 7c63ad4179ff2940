package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

// FeedID names one pulled feed.
type FeedID string

const (
	FeedRecent      FeedID = "recent"
	FeedTopEdited   FeedID = "top-edited"
	FeedTopEditors  FeedID = "top-editors"
	FeedTopViewed   FeedID = "top-viewed"
	FeedTopTalk     FeedID = "top-talk"
	FeedNewArticles FeedID = "new-articles"
)

// AllFeeds lists every feed in display order.
var AllFeeds = []FeedID{FeedRecent, FeedTopEdited, FeedTopEditors, FeedTopViewed, FeedTopTalk, FeedNewArticles}

// Path returns the pull endpoint serving the feed.
func (f FeedID) Path() string {
	switch f {
	case FeedTopTalk:
		return "/api/top-talk-pages"
	default:
		return "/api/" + string(f)
	}
}

// rankedLimit is the row count the ranked feeds and new articles request.
const rankedLimit = 25

// newArticlesWeekLimit is the new-articles row count for the 7d period.
const newArticlesWeekLimit = 100

// Request is one serialized pull.
type Request struct {
	Feed   FeedID
	Params url.Values
}

// StoreLimit returns the bound a store built under p must respect for feed,
// or 0 when the window is a period.
func StoreLimit(feed FeedID, p Policy) int {
	n, ok := p.Window.Count()
	if !ok {
		return 0
	}
	if feed == FeedRecent {
		return n
	}
	return min(n, rankedLimit)
}

// RequestFor serializes the policy for one feed. Every feed receives
// anon_only and the filter term even where the server treats them as no-ops.
func RequestFor(feed FeedID, p Policy) Request {
	v := url.Values{}
	n, isCount := p.Window.Count()
	period, isPeriod := p.Window.Period()
	if !isPeriod {
		period = Period24h
	}

	switch feed {
	case FeedRecent:
		if isCount {
			v.Set("limit", strconv.Itoa(n))
		} else {
			v.Set("period", string(period))
		}
		v.Set("sort", p.Sort.Param())
	case FeedNewArticles:
		limit := rankedLimit
		if period == Period7d {
			limit = newArticlesWeekLimit
		}
		if isCount {
			limit = min(limit, n)
		}
		v.Set("limit", strconv.Itoa(limit))
		v.Set("period", string(period))
	default:
		limit := rankedLimit
		if isCount {
			limit = min(limit, n)
		}
		v.Set("limit", strconv.Itoa(limit))
		v.Set("period", string(period))
	}

	v.Set("anon_only", strconv.FormatBool(p.AnonOnly))
	switch p.Filter.Mode {
	case FilterByUser:
		v.Set("user", p.Filter.Term)
	case FilterByArticle:
		v.Set("title", p.Filter.Term)
	}
	return Request{Feed: feed, Params: v}
}

// Fetcher pulls snapshots and diffs from the query surface.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]model.Entry, error)
	Diff(ctx context.Context, revision int64) (string, error)
}

// HTTPFetcher is the Fetcher backed by an `edisco serve` instance.
type HTTPFetcher struct {
	base   string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for the server at baseURL.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		base: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs the pull and decodes its results. Non-success statuses and
// transport or decode failures are reported as *FetchError. Individual rows
// that fail to normalize are skipped.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) ([]model.Entry, error) {
	var body struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := f.getJSON(ctx, req.Feed, req.Feed.Path()+"?"+req.Params.Encode(), &body); err != nil {
		return nil, err
	}

	decode := decoderFor(req.Feed)
	entries := make([]model.Entry, 0, len(body.Results))
	for i, raw := range body.Results {
		e, err := decode(raw, i+1)
		if err != nil {
			logging.Debug("skipping undecodable row", "feed", req.Feed, "err", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Diff returns the sanitized diff HTML for a revision, "" when there is none.
func (f *HTTPFetcher) Diff(ctx context.Context, revision int64) (string, error) {
	var body struct {
		Diff string `json:"diff"`
	}
	path := "/api/diff?revid=" + strconv.FormatInt(revision, 10)
	if err := f.getJSON(ctx, "diff", path, &body); err != nil {
		return "", err
	}
	return body.Diff, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, feed FeedID, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+path, nil)
	if err != nil {
		return &FetchError{Feed: feed, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchError{Feed: feed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{Feed: feed, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Feed: feed, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

type rowDecoder func(raw json.RawMessage, rank int) (model.Entry, error)

func decoderFor(feed FeedID) rowDecoder {
	switch feed {
	case FeedTopEdited, FeedTopTalk:
		return model.DecodeRankedPage
	case FeedTopEditors:
		return model.DecodeRankedEditor
	case FeedTopViewed:
		return model.DecodeViewedPage
	default:
		return func(raw json.RawMessage, _ int) (model.Entry, error) {
			return model.DecodePullChange(raw)
		}
	}
}
