package wiki

import (
	"errors"
	"fmt"
)

// ErrNoDiff is returned when a revision has no diff against its parent,
// typically a page creation.
var ErrNoDiff = errors.New("revision has no diff")

// APIError is a failed upstream call: a non-2xx status or a MediaWiki
// error payload.
type APIError struct {
	Endpoint string
	Status   int    // HTTP status, 0 for a MediaWiki error payload
	Code     string // MediaWiki error code
	Info     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: mediawiki error %s: %s", e.Endpoint, e.Code, e.Info)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.Status)
}
