package engine

import (
	"time"

	"github.com/abelbrown/edisco/internal/model"
)

// Messages produced by engine commands. The unexported ones only ever
// travel from an engine command back into Engine.Update.

// mergeMode selects how a snapshot is applied.
type mergeMode int

const (
	modeReplace mergeMode = iota
	modeMerge
)

// snapshotMsg carries a completed pull. gen and epoch identify the request
// so stale results can be discarded.
type snapshotMsg struct {
	feed    FeedID
	gen     uint64
	epoch   uint64
	mode    mergeMode
	entries []model.Entry
	err     error
	dur     time.Duration
}

// trigger identifies one periodic cadence.
type trigger int

const (
	triggerLiveMerge trigger = iota
	triggerTop
	triggerViewed
	triggerTalk
	triggerNew
)

var allTriggers = []trigger{triggerLiveMerge, triggerTop, triggerViewed, triggerTalk, triggerNew}

// cadenceMsg fires a periodic trigger.
type cadenceMsg struct {
	trigger trigger
}

// debounceMsg fires when the filter input has been quiet for the debounce
// window. Only the latest seq applies.
type debounceMsg struct {
	seq uint64
}

type connOpenedMsg struct {
	epoch uint64
	conn  Conn
}

type connClosedMsg struct {
	epoch uint64
	err   error
}

type reconnectMsg struct {
	epoch uint64
}

type pushMsg struct {
	epoch uint64
	entry model.Entry
}

// NoticeLevel grades a transient notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// NoticeMsg asks the UI to show a transient, auto-dismissing notice.
type NoticeMsg struct {
	Text  string
	Level NoticeLevel
	// Clear dismisses any connection notice instead of showing one.
	Clear bool
}

// DiffLoaded carries the result of a detail lookup.
type DiffLoaded struct {
	Revision int64
	HTML     string
	Err      error
}
