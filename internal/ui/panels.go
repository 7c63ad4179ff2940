package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/model"
)

// pane is one dashboard panel. Focus cycles in this order.
type pane int

const (
	paneRecent pane = iota
	paneTop
	paneViewed
	paneTalk
	paneNew
	paneCount
)

// feed returns the feed a pane shows. The top pane follows the engine's
// top kind.
func (p pane) feed(topKind engine.FeedID) engine.FeedID {
	switch p {
	case paneTop:
		return topKind
	case paneViewed:
		return engine.FeedTopViewed
	case paneTalk:
		return engine.FeedTopTalk
	case paneNew:
		return engine.FeedNewArticles
	default:
		return engine.FeedRecent
	}
}

func paneTitle(feed engine.FeedID) string {
	switch feed {
	case engine.FeedTopEdited:
		return "Most edited"
	case engine.FeedTopEditors:
		return "Most active editors"
	case engine.FeedTopViewed:
		return "Most viewed"
	case engine.FeedTopTalk:
		return "Busiest talk pages"
	case engine.FeedNewArticles:
		return "New articles"
	default:
		return "Recent edits"
	}
}

func lineFor(feed engine.FeedID) lineFunc {
	switch feed {
	case engine.FeedTopEdited, engine.FeedTopTalk:
		return rankedPageLine
	case engine.FeedTopEditors:
		return editorLine
	case engine.FeedTopViewed:
		return viewedLine
	case engine.FeedNewArticles:
		return newArticleLine
	default:
		return recentLine
	}
}

// panelChrome is the lines a panel spends on its border and title.
const panelChrome = 3

// renderPane draws one feed panel at the given outer size.
func (a App) renderPane(p pane, width, height int) string {
	feed := p.feed(a.engine.TopKind())
	state := a.engine.State(feed)
	focused := p == a.focus

	inner := width - 4 // border and horizontal padding
	if inner < 10 {
		inner = 10
	}
	rows := height - panelChrome
	if rows < 1 {
		rows = 1
	}

	title := paneTitle(feed)
	if state.Loaded && state.Loading {
		title += " " + a.spinner.View()
	}

	var body string
	switch {
	case !state.Loaded && state.Err != nil:
		body = ErrorStyle.Render(truncateRunes("Could not load: "+state.Err.Error(), inner))
	case !state.Loaded:
		body = a.spinner.View() + HelpStyle.Render(" Loading…")
	case state.Len == 0:
		body = HelpStyle.Render(emptyText(feed, a.engine.Policy()))
	default:
		bands := feed == engine.FeedRecent && a.engine.Policy().Sort.Chronological()
		body = renderList(a.engine.Entries(feed), a.cursors[p], inner, rows, bands, focused, lineFor(feed))
	}

	style := Panel
	if focused {
		style = PanelFocused
	}
	content := PanelTitle.Render(title) + "\n" + body
	return style.Width(width - 2).Height(height - 2).MaxHeight(height).Render(content)
}

func emptyText(feed engine.FeedID, p engine.Policy) string {
	if p.Filter.Active() || (p.AnonOnly && feed != engine.FeedTopViewed) {
		return "No matches for the current filter."
	}
	return "Nothing here yet."
}

// layout splits a row of text into a left part truncated to fit and a
// right-aligned meta part.
func layout(left, meta string, width int) string {
	metaWidth := lipgloss.Width(meta)
	room := width - metaWidth - 1
	if room < 1 {
		room = 1
	}
	left = truncateRunes(left, room)
	gap := width - lipgloss.Width(left) - metaWidth
	if gap < 1 {
		gap = 1
	}
	return NormalItem.Render(left) + strings.Repeat(" ", gap) + meta
}

func recentLine(e model.Entry, width int) string {
	age := fmt.Sprintf("%4s ", formatAgeShort(e.Timestamp))
	title := e.Title
	if s := e.Section(); s != "" {
		title += " §" + s
	}
	meta := userLabel(e) + " " + formatDelta(e.SizeDelta)
	return MetaItem.Render(age) + layout(title, meta, width-lipgloss.Width(age))
}

func newArticleLine(e model.Entry, width int) string {
	age := fmt.Sprintf("%4s ", formatAgeShort(e.Timestamp))
	meta := userLabel(e) + " " + MetaItem.Render(humanize.Bytes(uint64(max(e.SizeDelta, 0))))
	return MetaItem.Render(age) + layout(e.Title, meta, width-lipgloss.Width(age))
}

func rankedPageLine(e model.Entry, width int) string {
	rank := fmt.Sprintf("%2d. ", e.Rank)
	meta := MetaItem.Render(plural(e.Score, "editor"))
	return MetaItem.Render(rank) + layout(e.Title, meta, width-lipgloss.Width(rank))
}

func editorLine(e model.Entry, width int) string {
	rank := fmt.Sprintf("%2d. ", e.Rank)
	meta := MetaItem.Render(plural(e.Score, "edit"))
	return MetaItem.Render(rank) + layout(e.DisplayUser("unknown"), meta, width-lipgloss.Width(rank))
}

func viewedLine(e model.Entry, width int) string {
	rank := fmt.Sprintf("%2d. ", e.Rank)
	meta := MetaItem.Render(humanize.Comma(int64(e.Score)) + " views")
	return MetaItem.Render(rank) + layout(e.Title, meta, width-lipgloss.Width(rank))
}

func userLabel(e model.Entry) string {
	name := truncateRunes(e.DisplayUser("unknown"), 18)
	if e.Anonymous {
		return AnonBadge.Render("◌ " + name)
	}
	return MetaItem.Render(name)
}

func formatDelta(d int) string {
	switch {
	case d > 0:
		return DeltaAdded.Render(fmt.Sprintf("+%s", humanize.Comma(int64(d))))
	case d < 0:
		return DeltaRemoved.Render(humanize.Comma(int64(d)))
	default:
		return MetaItem.Render("0")
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
