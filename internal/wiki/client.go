// Package wiki reads Hebrew Wikipedia activity from the MediaWiki action
// API, the Wikimedia pageviews REST API and EventStreams.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/edisco/internal/logging"
)

// Period is a lookback window accepted by the feed endpoints.
type Period string

const (
	PeriodNone Period = ""
	Period1h   Period = "1h"
	Period24h  Period = "24h"
	Period7d   Period = "7d"
)

// ParsePeriod accepts "", "1h", "24h" and "7d".
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodNone, Period1h, Period24h, Period7d:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Duration returns the lookback, 0 for PeriodNone.
func (p Period) Duration() time.Duration {
	switch p {
	case Period1h:
		return time.Hour
	case Period24h:
		return 24 * time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// ThumbnailCache persists page images between requests.
type ThumbnailCache interface {
	GetThumbnails(ctx context.Context, keys []string) (map[string]string, error)
	SaveThumbnails(ctx context.Context, thumbs map[string]string) error
}

// Observer is told about every upstream request.
type Observer interface {
	ObserveUpstream(endpoint string, err error, d time.Duration)
}

// Options configures a Client. Zero fields take the Hebrew Wikipedia
// defaults.
type Options struct {
	Wiki       string // host, e.g. "he.wikipedia.org"
	APIURL     string
	RestURL    string
	StreamURL  string
	UserAgent  string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	Burst      int
	Thumbnails ThumbnailCache
	Observer   Observer
	HTTPClient *http.Client
}

// Client talks to Wikimedia. Safe for concurrent use.
type Client struct {
	wiki       string
	api        string
	rest       string
	stream     string
	ua         string
	http       *http.Client
	streamHTTP *http.Client
	limiter    *rate.Limiter
	thumbs     ThumbnailCache
	observer   Observer
	now        func() time.Time
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.Wiki == "" {
		opts.Wiki = "he.wikipedia.org"
	}
	if opts.APIURL == "" {
		opts.APIURL = "https://" + opts.Wiki + "/w/api.php"
	}
	if opts.RestURL == "" {
		opts.RestURL = "https://wikimedia.org/api/rest_v1"
	}
	if opts.StreamURL == "" {
		opts.StreamURL = "https://stream.wikimedia.org/v2/stream/recentchange"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Edisco/1.0 (https://github.com/abelbrown/edisco)"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	// The stream is long-lived; only the context ends it.
	streamHTTP := &http.Client{Transport: hc.Transport}

	return &Client{
		wiki:       opts.Wiki,
		api:        opts.APIURL,
		rest:       strings.TrimRight(opts.RestURL, "/"),
		stream:     opts.StreamURL,
		ua:         opts.UserAgent,
		http:       hc,
		streamHTTP: streamHTTP,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		thumbs:     opts.Thumbnails,
		observer:   opts.Observer,
		now:        time.Now,
	}
}

// Wiki returns the wiki host the client reads.
func (c *Client) Wiki() string {
	return c.wiki
}

// query calls the action API with params plus format=json and decodes the
// response into out.
func (c *Client) query(ctx context.Context, endpoint string, params url.Values, out any) error {
	params.Set("action", "query")
	params.Set("format", "json")

	var envelope struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	raw, err := c.getRaw(ctx, endpoint, c.api+"?"+params.Encode())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return &APIError{Endpoint: endpoint, Code: envelope.Error.Code, Info: envelope.Error.Info}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// getRaw performs a rate-limited GET and returns the body of a 2xx response.
func (c *Client) getRaw(ctx context.Context, endpoint, rawURL string) (body []byte, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveUpstream(endpoint, err, time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	logging.Debug("upstream", "endpoint", endpoint, "bytes", len(body), "took", time.Since(start))
	return body, nil
}

// mwTime formats t the way rcstart and rcend expect.
func mwTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
