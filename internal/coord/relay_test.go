package coord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/edisco/internal/metrics"
)

// scriptedStream emits one batch of events per call, then fails. After the
// script runs out it blocks until ctx ends.
type scriptedStream struct {
	batches [][]string
	calls   atomic.Int32
}

func (s *scriptedStream) Stream(ctx context.Context, fn func(json.RawMessage) error) error {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.batches) {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, ev := range s.batches[n] {
		if err := fn(json.RawMessage(ev)); err != nil {
			return err
		}
	}
	return errors.New("connection reset")
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) Broadcast(msg []byte) {
	s.mu.Lock()
	s.msgs = append(s.msgs, string(msg))
	s.mu.Unlock()
}

func (s *recordingSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func TestRelayForwardsAndReconnects(t *testing.T) {
	stream := &scriptedStream{batches: [][]string{
		{`{"id":1}`, `{"id":2}`},
		{},
		{`{"id":3}`},
	}}
	sink := &recordingSink{}
	m := metrics.New()
	r := NewRelay(stream, sink, Options{RetryDelay: time.Millisecond, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	require.Eventually(t, func() bool { return stream.calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	r.Wait()

	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}, sink.got())
	exposition := scrape(t, m)
	assert.Contains(t, exposition, "edisco_stream_events_total 3")
	assert.Contains(t, exposition, "edisco_stream_relay_reconnects_total 3")
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRelayStopsDuringRetryDelay(t *testing.T) {
	stream := &scriptedStream{batches: [][]string{{}}}
	r := NewRelay(stream, &recordingSink{}, Options{RetryDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.Eventually(t, func() bool { return stream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		cancel()
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop while waiting to reconnect")
	}
	assert.Equal(t, int32(1), stream.calls.Load())
}
