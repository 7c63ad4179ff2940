// Package otel records structured operational events for edisco.
//
// Events are flat structs serialized one per line as JSONL. The Logger
// writes asynchronously through a buffered channel; an optional RingBuffer
// keeps the most recent events in memory for the dashboard's debug overlay
// and the server's /debug/events endpoint.
package otel

import (
	"encoding/json"
	"time"
)

// Level is event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind is "<subsystem>.<action>".
type EventKind string

const (
	// Push connection
	KindConnOpen  EventKind = "conn.open"
	KindConnClose EventKind = "conn.close"
	KindConnRetry EventKind = "conn.retry"

	// Pulls
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchError    EventKind = "fetch.error"
	KindFetchStale    EventKind = "fetch.stale"

	// Push path
	KindPushMerged     EventKind = "push.merged"
	KindPushDuplicate  EventKind = "push.duplicate"
	KindPushQueued     EventKind = "push.queued"
	KindPushSuppressed EventKind = "push.suppressed"

	KindPolicyChange EventKind = "policy.change"

	// Server
	KindHTTPRequest  EventKind = "http.request"
	KindUpstream     EventKind = "upstream.request"
	KindCacheHit     EventKind = "cache.hit"
	KindCacheMiss    EventKind = "cache.miss"
	KindStreamJoin   EventKind = "stream.client_join"
	KindStreamLeave  EventKind = "stream.client_leave"
	KindRelayConnect EventKind = "stream.relay_connect"
	KindRelayError   EventKind = "stream.relay_error"

	// Store
	KindStoreError EventKind = "store.error"

	// UI
	KindKeyPress EventKind = "ui.key"

	// System
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"

	KindMsgHandled EventKind = "trace.msg_handled"
)

// Event is one observability record. Only Kind is required.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"` // "engine", "server", "relay", "ui"
	SessionID string         `json:"session_id,omitempty"`
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"`
	Count     int            `json:"count,omitempty"`
	Source    string         `json:"source,omitempty"` // feed or route
	Status    int            `json:"status,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON writes Dur as dur_ms.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	p := plain(e)
	if e.Dur > 0 {
		p.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(p)
}
