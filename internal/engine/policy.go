package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/edisco/internal/model"
)

const (
	// MaxCount is the largest count window.
	MaxCount = 500

	// DefaultCount is the count window used on first start.
	DefaultCount = 50
)

// Period is a named recency window.
type Period string

const (
	Period1h  Period = "1h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
)

// Periods lists the valid periods, shortest first.
var Periods = []Period{Period1h, Period24h, Period7d}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Period1h, Period24h, Period7d:
		return p, nil
	}
	return "", &PolicyError{Input: s, Reason: "period must be 1h, 24h or 7d"}
}

// Duration returns the length of the period.
func (p Period) Duration() time.Duration {
	switch p {
	case Period1h:
		return time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Window is either Count(n) or Period(p), never both. The zero Window is
// invalid; use CountWindow or PeriodWindow.
type Window struct {
	count  int
	period Period
}

// CountWindow returns Count(n). n must be in [1, MaxCount].
func CountWindow(n int) (Window, error) {
	if n < 1 || n > MaxCount {
		return Window{}, &PolicyError{Input: strconv.Itoa(n), Reason: fmt.Sprintf("count must be between 1 and %d", MaxCount)}
	}
	return Window{count: n}, nil
}

// PeriodWindow returns Period(p).
func PeriodWindow(p Period) (Window, error) {
	if _, err := ParsePeriod(string(p)); err != nil {
		return Window{}, err
	}
	return Window{period: p}, nil
}

// ParseWindow parses "50" or "24h".
func ParseWindow(s string) (Window, error) {
	if p, err := ParsePeriod(s); err == nil {
		return Window{period: p}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Window{}, &PolicyError{Input: s, Reason: "not a count or period"}
	}
	return CountWindow(n)
}

// ParseCount parses a custom count typed by the user. Counts above MaxCount
// are clamped. Anything else invalid returns prev along with a PolicyError.
func ParseCount(text string, prev Window) (Window, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return prev, &PolicyError{Input: text, Reason: "not a number"}
	}
	if n > MaxCount {
		n = MaxCount
	}
	w, err := CountWindow(n)
	if err != nil {
		return prev, err
	}
	return w, nil
}

// Count returns n and true for a Count window.
func (w Window) Count() (int, bool) {
	return w.count, w.count > 0
}

// Period returns p and true for a Period window.
func (w Window) Period() (Period, bool) {
	return w.period, w.period != ""
}

// IsZero reports whether the window was never set.
func (w Window) IsZero() bool {
	return w.count == 0 && w.period == ""
}

// String renders the window the way ParseWindow reads it.
func (w Window) String() string {
	if w.period != "" {
		return string(w.period)
	}
	return strconv.Itoa(w.count)
}

// MarshalText implements encoding.TextMarshaler.
func (w Window) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Window) UnmarshalText(b []byte) error {
	parsed, err := ParseWindow(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// FilterMode selects which field a filter term matches.
type FilterMode int

const (
	FilterNone FilterMode = iota
	FilterByUser
	FilterByArticle
)

func (m FilterMode) String() string {
	switch m {
	case FilterByUser:
		return "user"
	case FilterByArticle:
		return "article"
	default:
		return "none"
	}
}

// Filter is a free-text term applied to users or article titles.
type Filter struct {
	Mode FilterMode
	Term string
}

// NewFilter builds a normalized filter. An empty term is FilterNone.
func NewFilter(mode FilterMode, term string) Filter {
	term = strings.TrimSpace(term)
	if term == "" || mode == FilterNone {
		return Filter{}
	}
	return Filter{Mode: mode, Term: term}
}

// Active reports whether the filter restricts anything.
func (f Filter) Active() bool {
	return f.Mode != FilterNone
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e model.Entry) bool {
	switch f.Mode {
	case FilterByUser:
		return model.Match(e.User, f.Term)
	case FilterByArticle:
		return model.Match(e.Title, f.Term)
	default:
		return true
	}
}

// SortMode orders the recent-edits feed.
type SortMode int

const (
	SortChronological SortMode = iota
	SortSizeDesc
	SortSizeAsc
)

// Chronological reports whether pushes may be merged under this mode.
func (s SortMode) Chronological() bool {
	return s == SortChronological
}

// Param is the wire value of the sort query parameter.
func (s SortMode) Param() string {
	switch s {
	case SortSizeDesc:
		return "size_desc"
	case SortSizeAsc:
		return "size_asc"
	default:
		return "date"
	}
}

// ParseSortMode reads a sort parameter. Unknown values are chronological.
func ParseSortMode(s string) SortMode {
	switch s {
	case "size_desc":
		return SortSizeDesc
	case "size_asc":
		return SortSizeAsc
	default:
		return SortChronological
	}
}

// Next cycles through the sort modes.
func (s SortMode) Next() SortMode {
	return (s + 1) % 3
}

func (s SortMode) String() string {
	switch s {
	case SortSizeDesc:
		return "largest first"
	case SortSizeAsc:
		return "smallest first"
	default:
		return "newest first"
	}
}

// Policy is the view policy every feed reads. It is a comparable value:
// two policies are the same effective policy iff they are ==.
type Policy struct {
	Window   Window
	Filter   Filter
	Sort     SortMode
	AnonOnly bool
}

// DefaultPolicy is Count(50), no filter, chronological, everyone.
func DefaultPolicy() Policy {
	return Policy{Window: Window{count: DefaultCount}}
}

// Admits reports whether a pushed entry belongs in a store built under p.
func (p Policy) Admits(e model.Entry) bool {
	if p.AnonOnly && !e.Anonymous {
		return false
	}
	return p.Filter.Matches(e)
}

// String summarizes the policy for the status bar.
func (p Policy) String() string {
	var b strings.Builder
	if n, ok := p.Window.Count(); ok {
		fmt.Fprintf(&b, "last %d", n)
	} else {
		per, _ := p.Window.Period()
		fmt.Fprintf(&b, "last %s", per)
	}
	b.WriteString(" · ")
	b.WriteString(p.Sort.String())
	if p.Filter.Active() {
		fmt.Fprintf(&b, " · %s~%q", p.Filter.Mode, p.Filter.Term)
	}
	if p.AnonOnly {
		b.WriteString(" · anonymous only")
	}
	return b.String()
}
