package otel

import (
	"os"
	"sync/atomic"
)

var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("EDISCO_TRACE") != "")
}

// TraceEnabled reports whether EDISCO_TRACE is set. The dashboard passes
// it to ui.Options.Trace to record every message it handles.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

func setTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
