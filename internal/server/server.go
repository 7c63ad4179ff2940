// Package server is the HTTP surface of `edisco serve`: JSON pull endpoints
// backed by the Wikimedia client, the /ws/live push stream and an Atom
// export of recent edits.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/abelbrown/edisco/internal/cache"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/metrics"
	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/otel"
	"github.com/abelbrown/edisco/internal/wiki"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Response cache lifetimes.
const (
	rankedTTL = 300 * time.Second
	newTTL    = 60 * time.Second
	searchTTL = 60 * time.Second
	feedTTL   = 60 * time.Second
	diffTTL   = time.Hour // revisions never change
)

// Wiki is the upstream the handlers query. *wiki.Client satisfies it.
type Wiki interface {
	RecentEdits(ctx context.Context, q wiki.EditsQuery) ([]model.Change, error)
	NewArticles(ctx context.Context, limit int, period wiki.Period, anonOnly bool, user, title string) ([]model.Change, error)
	TopEdited(ctx context.Context, q wiki.RankQuery) ([]model.RankedPage, error)
	TopTalkPages(ctx context.Context, q wiki.RankQuery) ([]model.RankedPage, error)
	TopEditors(ctx context.Context, q wiki.RankQuery) ([]model.RankedEditor, error)
	TopViewed(ctx context.Context, q wiki.RankQuery) ([]model.ViewedPage, error)
	Diff(ctx context.Context, revid int64) (string, error)
	Search(ctx context.Context, word string, period wiki.Period) ([]model.Change, error)
}

// Options configures a Server. Only Wiki is required.
type Options struct {
	Wiki    Wiki
	Host    string // wiki host used for links, e.g. "he.wikipedia.org"
	Cache   cache.Cache
	Hub     *Hub
	Metrics *metrics.Metrics
	Events  *otel.Logger
	Ring    *otel.RingBuffer // served at /debug/events when set
}

// Server routes requests to the wiki client, the response cache and the hub.
type Server struct {
	wiki    Wiki
	host    string
	cache   cache.Cache
	hub     *Hub
	metrics *metrics.Metrics
	events  *otel.Logger
	ring    *otel.RingBuffer
	started time.Time
	mux     *http.ServeMux
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	if opts.Host == "" {
		opts.Host = "he.wikipedia.org"
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory(time.Minute)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Events == nil {
		opts.Events = otel.NewNullLogger()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(DefaultClientBuffer, opts.Metrics, opts.Events)
	}

	s := &Server{
		wiki:    opts.Wiki,
		host:    opts.Host,
		cache:   opts.Cache,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		events:  opts.Events,
		ring:    opts.Ring,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /api/recent", s.handleRecent)
	s.handle("GET /api/new-articles", s.handleNewArticles)
	s.handle("GET /api/top-edited", s.handleTopEdited)
	s.handle("GET /api/top-talk-pages", s.handleTopTalk)
	s.handle("GET /api/top-editors", s.handleTopEditors)
	s.handle("GET /api/top-viewed", s.handleTopViewed)
	s.handle("GET /api/diff", s.handleDiff)
	s.handle("GET /api/search", s.handleSearch)
	s.handle("GET /feed.atom", s.handleAtom)
	s.handle("GET /healthz", s.handleHealth)
	s.handle("GET /debug/events", s.handleEvents)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	// Upgraded connections are long-lived; they are counted by the hub.
	s.mux.HandleFunc("GET /ws/live", s.hub.serveWS)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the push hub, for wiring a relay to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.StandardLog("http"),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", "timeout", ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logging.Error("encode response", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response"}`)
	}
	writeBody(w, status, "application/json", body)
}

func writeBody(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
