package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/edisco/internal/model"
)

// TimeBand returns a display string for grouping entries by age.
func TimeBand(ts time.Time) string {
	age := time.Since(ts)
	switch {
	case age < 15*time.Minute:
		return "Just Now"
	case age < 1*time.Hour:
		return "Past Hour"
	case age < 24*time.Hour:
		return "Today"
	case age < 48*time.Hour:
		return "Yesterday"
	default:
		return "Older"
	}
}

// lineFunc renders one entry into at most width cells.
type lineFunc func(e model.Entry, width int) string

// renderList renders entries with the cursor row highlighted, scrolled so the
// cursor stays visible in height lines. With bands, time band headers are
// interleaved and count against height.
func renderList(entries []model.Entry, cursor, width, height int, bands, focused bool, line lineFunc) string {
	if height < 1 {
		height = 1
	}

	var b strings.Builder
	currentBand := ""
	rendered := 0
	offset := calcScrollOffset(entries, cursor, height, bands)

	for i, e := range entries {
		if rendered >= height {
			break
		}

		// Track band state for skipped rows too so the first visible header
		// is right.
		if bands {
			band := TimeBand(e.Timestamp)
			if band != currentBand {
				currentBand = band
				if i >= offset {
					b.WriteString(TimeBandHeader.Render(band))
					b.WriteString("\n")
					rendered++
				}
			}
		}

		if i < offset || rendered >= height {
			continue
		}

		text := line(e, width)
		if focused && i == cursor {
			text = SelectedItem.Render(padRight(stripStyle(text), width))
		}
		b.WriteString(text)
		b.WriteString("\n")
		rendered++
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// calcScrollOffset finds the smallest index such that every line from there
// through the cursor, band headers included, fits in height.
func calcScrollOffset(entries []model.Entry, cursor, height int, bands bool) int {
	if len(entries) == 0 || cursor < 0 {
		return 0
	}
	if cursor >= len(entries) {
		cursor = len(entries) - 1
	}

	offset := 0
	if cursor >= height {
		offset = cursor - height + 1
	}
	if !bands {
		return offset
	}

	for offset <= cursor {
		if visibleLineCount(entries, offset, cursor) <= height {
			return offset
		}
		offset++
	}
	return cursor
}

// visibleLineCount counts the lines entries[from..to] render to, including
// band headers.
func visibleLineCount(entries []model.Entry, from, to int) int {
	lines := 0
	currentBand := ""
	if from > 0 {
		currentBand = TimeBand(entries[from-1].Timestamp)
	}
	for i := from; i <= to && i < len(entries); i++ {
		band := TimeBand(entries[i].Timestamp)
		if band != currentBand {
			currentBand = band
			lines++
		}
		lines++
	}
	return lines
}

// formatAgeShort formats how long ago ts was, e.g. "5m".
func formatAgeShort(ts time.Time) string {
	age := time.Since(ts)
	switch {
	case age < time.Minute:
		return "now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

// truncateRunes shortens s to max runes, ending in "…" when cut.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

// padRight pads s with spaces to width cells.
func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// stripStyle removes ANSI styling so the selection style applies cleanly.
func stripStyle(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
