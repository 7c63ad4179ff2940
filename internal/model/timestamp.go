package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// millisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 seconds is the year 33658; 1e12 milliseconds is September 2001.
const millisThreshold = 1e12

// mediaWikiTime is the layout MediaWiki uses for rcstart/rcend and results.
const mediaWikiTime = "2006-01-02T15:04:05Z"

// mediaWikiCompact is the TS_MW layout found in dumps and older API output.
const mediaWikiCompact = "20060102150405"

// ParseTimestamp converts any timestamp representation either source emits
// into a UTC time: a JSON number of epoch seconds or milliseconds, or a JSON
// string holding RFC 3339, MediaWiki format, or digits.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("timestamp missing")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("decode timestamp: %w", err)
		}
		return parseTimestampString(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp: %w", err)
	}
	return parseEpoch(n.String())
}

func parseTimestampString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(mediaWikiTime, s); err == nil {
		return t.UTC(), nil
	}
	if len(s) == len(mediaWikiCompact) && allDigits(s) {
		t, err := time.Parse(mediaWikiCompact, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
		}
		return t.UTC(), nil
	}
	return parseEpoch(s)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseEpoch(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), nil
}

// FormatMediaWiki formats t the way the MediaWiki API expects rcstart/rcend.
func FormatMediaWiki(t time.Time) string {
	return t.UTC().Format(mediaWikiTime)
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
