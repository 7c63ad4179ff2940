package ui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/model"
	"github.com/abelbrown/edisco/internal/wiki"
)

// detail is the open diff view for one edit.
type detail struct {
	entry   model.Entry
	loading bool
	err     error
	lines   wiki.DiffLines
	scroll  int
}

// detailChrome is the lines DetailPanel spends on border and padding.
const detailChrome = 4

func (d *detail) load(msg engine.DiffLoaded) {
	d.loading = false
	if msg.Err != nil {
		d.err = msg.Err
		return
	}
	lines, err := wiki.ParseDiff(msg.HTML)
	if err != nil {
		d.err = err
		return
	}
	d.lines = lines
}

func (d *detail) body() []string {
	e := d.entry
	out := []string{
		PanelTitle.Render(e.Title),
		fmt.Sprintf("%s · %s · %s", userLabel(e), MetaItem.Render(humanize.Time(e.Timestamp)), formatDelta(e.SizeDelta)),
	}
	if e.Comment != "" {
		out = append(out, MetaItem.Render(e.Comment))
	}
	out = append(out, "")

	switch {
	case d.loading:
		out = append(out, HelpStyle.Render("Loading diff…"))
	case d.err != nil:
		out = append(out, ErrorStyle.Render("Could not load diff: "+d.err.Error()))
	case len(d.lines.Added) == 0 && len(d.lines.Removed) == 0:
		out = append(out, HelpStyle.Render("No textual changes."))
	default:
		for _, l := range d.lines.Removed {
			out = append(out, DiffRemoved.Render("− "+l))
		}
		for _, l := range d.lines.Added {
			out = append(out, DiffAdded.Render("+ "+l))
		}
		for _, l := range d.lines.Context {
			out = append(out, DiffContext.Render("  "+l))
		}
	}
	return out
}

// scrollBy moves the view by n lines within the body.
func (d *detail) scrollBy(n int) {
	d.scroll += n
	if last := len(d.body()) - 1; d.scroll > last {
		d.scroll = last
	}
	if d.scroll < 0 {
		d.scroll = 0
	}
}

func (d *detail) view(width, height int) string {
	lines := d.body()
	if d.scroll < len(lines) {
		lines = lines[d.scroll:]
	}
	room := height - detailChrome
	if room < 1 {
		room = 1
	}
	if len(lines) > room {
		lines = lines[:room]
	}
	panelWidth := width - 2
	if panelWidth < 20 {
		panelWidth = 20
	}
	return DetailPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}
