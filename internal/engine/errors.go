package engine

import (
	"fmt"
	"net/http"
)

// ConnectionError reports that the push stream closed or failed to open.
// The Supervisor recovers from it by redialing after a fixed delay.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "push stream closed"
	}
	return fmt.Sprintf("push stream %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError reports a failed pull. Status is the HTTP status when the
// server answered with a non-success code, zero for transport failures.
type FetchError struct {
	Feed   FeedID
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d %s", e.Feed, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("fetch %s: %v", e.Feed, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PolicyError rejects an invalid policy input. The previous value stays in
// effect and no notice is shown.
type PolicyError struct {
	Input  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid policy input %q: %s", e.Input, e.Reason)
}
