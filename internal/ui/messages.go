// Package ui provides the Bubble Tea dashboard for edisco.
package ui

import "time"

// noticeTTL is how long a notice stays on screen.
const noticeTTL = 5 * time.Second

// noticeExpired dismisses the notice with the matching seq. A newer notice
// bumps the seq, so an old timer never clears it.
type noticeExpired struct {
	seq uint64
}

// prefsSaved reports the result of persisting the view policy.
type prefsSaved struct {
	err error
}
