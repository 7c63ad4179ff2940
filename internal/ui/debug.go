package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders engine counters and recent events. Returns empty
// string if ring is nil.
func debugOverlay(ring *otel.RingBuffer, stats engine.Stats, conn engine.ConnState, width, height int) string {
	if ring == nil {
		return ""
	}

	counts := ring.Counts()
	recent := ring.Last(20)

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Engine"))
	lines = append(lines, fmt.Sprintf("  Stream:     %s, %d reconnects",
		conn, counts[otel.KindConnRetry]))
	lines = append(lines, fmt.Sprintf("  Pushes:     %d received, %d merged, %d duplicate",
		stats.Received, stats.Merged, stats.Duplicates))
	lines = append(lines, fmt.Sprintf("  Held back:  %d suppressed, %d filtered, %d queued",
		stats.Suppressed, stats.Filtered, stats.Queued))
	lines = append(lines, fmt.Sprintf("  Fetches:    %d complete, %d errors, %d stale",
		counts[otel.KindFetchComplete], counts[otel.KindFetchError], counts[otel.KindFetchStale]))
	lines = append(lines, fmt.Sprintf("  Policies:   %d changes", counts[otel.KindPolicyChange]))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range recent {
		line := fmt.Sprintf("  %6s  %-22s", formatAge(time.Since(e.Time)), string(e.Kind))
		if e.Source != "" {
			line += "  " + e.Source
		}
		if e.Msg != "" {
			line += "  " + truncateRunes(e.Msg, 40)
		}
		if e.Err != "" {
			line += "  ERR:" + truncateRunes(e.Err, 30)
		}
		lines = append(lines, line)
	}

	// Truncate to fit terminal height (subtract chrome added by DebugPanel border/padding)
	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 76
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("d") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
