package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoID is returned when a payload carries no usable identifier.
var ErrNoID = errors.New("entry has no id")

// pushEvent is the EventStreams recentchange shape relayed by /ws/live.
type pushEvent struct {
	ID        *int64          `json:"id"`
	Type      string          `json:"type"`
	Namespace int             `json:"namespace"`
	Title     string          `json:"title"`
	Comment   string          `json:"comment"`
	Timestamp json.RawMessage `json:"timestamp"`
	User      string          `json:"user"`
	Length    *struct {
		Old int `json:"old"`
		New int `json:"new"`
	} `json:"length"`
	Revision *struct {
		Old int64 `json:"old"`
		New int64 `json:"new"`
	} `json:"revision"`
	ServerURL string `json:"server_url"`
}

// DecodePush maps one push-stream message to an Entry.
func DecodePush(data []byte) (Entry, error) {
	var ev pushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Entry{}, fmt.Errorf("decode push event: %w", err)
	}
	if ev.ID == nil {
		return Entry{}, ErrNoID
	}

	ts, err := ParseTimestamp(ev.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("push event %d: %w", *ev.ID, err)
	}

	e := Entry{
		ID:        strconv.FormatInt(*ev.ID, 10),
		Kind:      kindOf(ev.Type),
		Timestamp: ts,
		Title:     ev.Title,
		User:      ev.User,
		Anonymous: IsAnonymous(ev.User),
		Comment:   ev.Comment,
		Namespace: ev.Namespace,
		ServerURL: ev.ServerURL,
	}
	if ev.Length != nil {
		e.SizeDelta = ev.Length.New - ev.Length.Old
	}
	if ev.Revision != nil {
		e.Revision = ev.Revision.New
	}
	return e, nil
}

// Change is a MediaWiki list=recentchanges result row. The server returns
// these unchanged from /api/recent and /api/new-articles.
type Change struct {
	Type      string           `json:"type"`
	NS        int              `json:"ns"`
	Title     string           `json:"title"`
	PageID    int64            `json:"pageid,omitempty"`
	RevID     int64            `json:"revid,omitempty"`
	OldRevID  int64            `json:"old_revid,omitempty"`
	RCID      int64            `json:"rcid"`
	User      string           `json:"user,omitempty"`
	Anon      *json.RawMessage `json:"anon,omitempty"`
	Bot       *json.RawMessage `json:"bot,omitempty"`
	OldLen    int              `json:"oldlen"`
	NewLen    int              `json:"newlen"`
	Timestamp string           `json:"timestamp"`
	Comment   string           `json:"comment,omitempty"`
	Thumbnail string           `json:"thumbnail,omitempty"`
	Status    string           `json:"status,omitempty"` // search hits only
}

// IsAnon reports whether MediaWiki flagged the change as anonymous.
func (c Change) IsAnon() bool {
	return c.Anon != nil || IsAnonymous(c.User)
}

// SizeDelta returns newlen minus oldlen.
func (c Change) SizeDelta() int {
	return c.NewLen - c.OldLen
}

// Time parses the change timestamp, returning the zero time if malformed.
func (c Change) Time() time.Time {
	t, err := parseTimestampString(c.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Entry maps the change to the canonical shape.
func (c Change) Entry() (Entry, error) {
	if c.RCID == 0 {
		return Entry{}, ErrNoID
	}
	ts, err := parseTimestampString(c.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("change %d: %w", c.RCID, err)
	}
	return Entry{
		ID:        strconv.FormatInt(c.RCID, 10),
		Kind:      kindOf(c.Type),
		Timestamp: ts,
		Title:     c.Title,
		User:      c.User,
		Anonymous: c.IsAnon(),
		Comment:   c.Comment,
		SizeDelta: c.SizeDelta(),
		Revision:  c.RevID,
		PageID:    c.PageID,
		Namespace: c.NS,
		Thumbnail: c.Thumbnail,
	}, nil
}

// DecodePullChange maps one pulled recentchanges row to an Entry.
func DecodePullChange(raw json.RawMessage) (Entry, error) {
	var c Change
	if err := json.Unmarshal(raw, &c); err != nil {
		return Entry{}, fmt.Errorf("decode change: %w", err)
	}
	return c.Entry()
}

// RankedPage is a top-edited or top-talk aggregate row.
type RankedPage struct {
	PageID        int64  `json:"pageid,omitempty"`
	Title         string `json:"title"`
	Count         int    `json:"count"`
	LastTimestamp string `json:"last_timestamp,omitempty"`
	Thumbnail     string `json:"thumbnail,omitempty"`
}

// RankedEditor is a top-editors aggregate row.
type RankedEditor struct {
	User  string `json:"user"`
	Count int    `json:"count"`
}

// ViewedPage is a top-viewed aggregate row.
type ViewedPage struct {
	Title     string `json:"title"`
	Views     int    `json:"views"`
	Rank      int    `json:"rank"`
	APITitle  string `json:"page_title_for_api"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// DecodeRankedPage maps a ranked page row; rank is its 1-based position.
func DecodeRankedPage(raw json.RawMessage, rank int) (Entry, error) {
	var p RankedPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return Entry{}, fmt.Errorf("decode ranked page: %w", err)
	}
	if p.Title == "" {
		return Entry{}, ErrNoID
	}
	e := Entry{
		ID:        "article:" + p.Title,
		Kind:      KindRankedArticle,
		Title:     p.Title,
		PageID:    p.PageID,
		Score:     p.Count,
		Rank:      rank,
		Thumbnail: p.Thumbnail,
	}
	if p.LastTimestamp != "" {
		if t, err := parseTimestampString(p.LastTimestamp); err == nil {
			e.LastActive = t
			e.Timestamp = t
		}
	}
	return e, nil
}

// DecodeRankedEditor maps a ranked editor row.
func DecodeRankedEditor(raw json.RawMessage, rank int) (Entry, error) {
	var r RankedEditor
	if err := json.Unmarshal(raw, &r); err != nil {
		return Entry{}, fmt.Errorf("decode ranked editor: %w", err)
	}
	if r.User == "" {
		return Entry{}, ErrNoID
	}
	return Entry{
		ID:        "editor:" + r.User,
		Kind:      KindRankedEditor,
		User:      r.User,
		Anonymous: IsAnonymous(r.User),
		Score:     r.Count,
		Rank:      rank,
	}, nil
}

// DecodeViewedPage maps a top-viewed row. The server's rank wins over the
// position when present.
func DecodeViewedPage(raw json.RawMessage, rank int) (Entry, error) {
	var v ViewedPage
	if err := json.Unmarshal(raw, &v); err != nil {
		return Entry{}, fmt.Errorf("decode viewed page: %w", err)
	}
	if v.Title == "" {
		return Entry{}, ErrNoID
	}
	if v.Rank > 0 {
		rank = v.Rank
	}
	return Entry{
		ID:        "article:" + v.Title,
		Kind:      KindRankedArticle,
		Title:     v.Title,
		Score:     v.Views,
		Rank:      rank,
		Thumbnail: v.Thumbnail,
	}, nil
}

// CleanTalkTitle strips the talk namespace prefix so the subject article's
// page image can be looked up.
func CleanTalkTitle(title string) string {
	for _, prefix := range []string{"שיחה:", "Talk:"} {
		if strings.HasPrefix(title, prefix) {
			return strings.TrimPrefix(title, prefix)
		}
	}
	return title
}

func kindOf(rcType string) Kind {
	if rcType == "new" {
		return KindNewPage
	}
	return KindEdit
}
