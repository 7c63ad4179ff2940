// Package coord runs the server's background upstream relay.
package coord

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/metrics"
	"github.com/abelbrown/edisco/internal/otel"
)

// DefaultRetryDelay is the pause before reopening a failed upstream stream.
const DefaultRetryDelay = 5 * time.Second

// Streamer reads the upstream edit stream, calling fn per event, until the
// stream fails or ctx ends.
type Streamer interface {
	Stream(ctx context.Context, fn func(json.RawMessage) error) error
}

// Sink receives every relayed event.
type Sink interface {
	Broadcast(msg []byte)
}

// Options configures a Relay. Events and Metrics are optional.
type Options struct {
	RetryDelay time.Duration
	Events     *otel.Logger
	Metrics    *metrics.Metrics
}

// Relay consumes the upstream stream once and hands each event to a Sink,
// reopening the stream after a fixed delay when it ends.
// Uses context cancellation as the only stop mechanism.
type Relay struct {
	stream  Streamer
	sink    Sink
	delay   time.Duration
	events  *otel.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewRelay creates a Relay from stream to sink.
func NewRelay(stream Streamer, sink Sink, opts Options) *Relay {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Events == nil {
		opts.Events = otel.NewNullLogger()
	}
	return &Relay{
		stream:  stream,
		sink:    sink,
		delay:   opts.RetryDelay,
		events:  opts.Events,
		metrics: opts.Metrics,
	}
}

// Start begins relaying in the background. Call with a cancellable context.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	for {
		r.events.Info(otel.KindRelayConnect, "relay", "")
		err := r.stream.Stream(ctx, r.forward)
		if ctx.Err() != nil {
			return
		}

		logging.Warn("upstream stream ended", "err", err, "retry_in", r.delay)
		r.events.Error(otel.KindRelayError, "relay", err)

		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		r.metrics.RelayReconnected()
	}
}

func (r *Relay) forward(raw json.RawMessage) error {
	r.sink.Broadcast(raw)
	r.metrics.EventRelayed()
	return nil
}
