package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/otel"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handle registers h under pattern ("GET /path"), instrumented by path.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	s.mux.Handle(pattern, s.instrument(route, h))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		took := time.Since(start)

		s.metrics.ObserveHTTP(route, rec.status, took)
		s.events.Emit(otel.Event{
			Level:  otel.LevelDebug,
			Kind:   otel.KindHTTPRequest,
			Comp:   "server",
			Source: route,
			Status: rec.status,
			Dur:    took,
		})
		logging.Debug("request", "route", route, "query", r.URL.RawQuery, "status", rec.status, "took", took)
	})
}
