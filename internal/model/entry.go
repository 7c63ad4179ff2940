// Package model defines the canonical Entry shared by every feed and the
// pure mappings that turn push-stream and pull-API payloads into it.
//
// Normalization happens exactly once, at ingestion. Nothing downstream of
// this package ever looks at a wire field name.
package model

import (
	"regexp"
	"strings"
	"time"
)

// Kind identifies what an Entry describes.
type Kind int

const (
	KindEdit Kind = iota
	KindNewPage
	KindRankedArticle
	KindRankedEditor
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEdit:
		return "edit"
	case KindNewPage:
		return "new-page"
	case KindRankedArticle:
		return "ranked-article"
	case KindRankedEditor:
		return "ranked-editor"
	default:
		return "unknown"
	}
}

// Entry is one edit, new page, or ranked aggregate row.
// Zero values mean "absent": empty User is unknown, empty Comment is no
// summary, Revision 0 has no diff.
type Entry struct {
	ID        string
	Kind      Kind
	Timestamp time.Time // always UTC
	Title     string
	User      string
	Anonymous bool
	Comment   string
	SizeDelta int // new length minus old length
	Revision  int64
	PageID    int64
	Namespace int
	ServerURL string

	// Ranked feeds only.
	Score      int // distinct editors, edit count, or page views
	Rank       int // 1-based
	Thumbnail  string
	LastActive time.Time
}

// HasDiff reports whether the entry carries a revision usable for a diff lookup.
func (e Entry) HasDiff() bool {
	return e.Revision > 0
}

// sectionRe matches the "/* Section */" prefix MediaWiki writes into
// edit summaries for section edits.
var sectionRe = regexp.MustCompile(`/\*\s*(.*?)\s*\*/`)

// Section returns the section heading named in the edit summary, if any.
func (e Entry) Section() string {
	m := sectionRe.FindStringSubmatch(e.Comment)
	if m == nil {
		return ""
	}
	return m[1]
}

// DisplayUser returns the user name, or fallback for unknown users.
func (e Entry) DisplayUser(fallback string) string {
	if e.User == "" {
		return fallback
	}
	return e.User
}

// DiffURL returns the web URL of the entry's diff on the given wiki host
// ("https://he.wikipedia.org"). Returns "" when there is no revision.
func (e Entry) DiffURL(host string) string {
	if !e.HasDiff() {
		return ""
	}
	base := e.ServerURL
	if base == "" {
		base = host
	}
	return strings.TrimRight(base, "/") + "/w/index.php?diff=" + itoa64(e.Revision)
}

// IDs returns the ids of entries in order.
func IDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
