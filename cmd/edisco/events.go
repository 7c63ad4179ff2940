package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/edisco/internal/config"
)

// eventRecord mirrors otel.Event for JSON decoding.
// We decode from JSONL rather than importing otel to keep this
// subcommand usable even if the event schema evolves.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Source    string         `json:"source"`
	Status    int            `json:"status"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

type eventsOptions struct {
	file    string
	server  bool
	tail    int
	follow  bool
	kind    string
	level   string
	comp    string
	session string
	rawJSON bool
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

func newEventsCmd(flags *rootFlags) *cobra.Command {
	opts := eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "JSONL event log viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.file
			if path == "" {
				cfg, err := flags.load()
				if err != nil {
					return err
				}
				name := cfg.Dash.EventLog
				if opts.server {
					name = cfg.Server.EventLog
				}
				if name == "" {
					return errors.New("no event log configured; set event_log or pass --file")
				}
				path = name
				if !filepath.IsAbs(path) {
					path = filepath.Join(config.Dir(), name)
				}
			}
			return runEvents(cmd.OutOrStdout(), path, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.file, "file", "", "event log to read (default from config)")
	f.BoolVar(&opts.server, "server", false, "read the server's event log instead of the dashboard's")
	f.IntVar(&opts.tail, "tail", 50, "number of recent lines to show")
	f.BoolVarP(&opts.follow, "follow", "f", false, "follow mode (like tail -f)")
	f.StringVar(&opts.kind, "kind", "", "filter by event kind prefix (e.g. 'fetch')")
	f.StringVar(&opts.level, "level", "", "minimum level: debug, info, warn, error")
	f.StringVar(&opts.comp, "comp", "", "filter by component name")
	f.StringVar(&opts.session, "session", "", "filter by session ID prefix")
	f.BoolVar(&opts.rawJSON, "json", false, "output raw JSON lines")
	return cmd
}

func runEvents(w io.Writer, path string, opts eventsOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("event log not found at %s; run edisco first to generate events: %w", path, err)
	}
	defer f.Close()

	match := opts.matcher()
	for _, l := range readTailLines(f, opts.tail, match) {
		fmt.Fprintln(w, opts.format(l.ev, l.raw))
	}
	if !opts.follow {
		return nil
	}

	// The scanner consumed the file; keep reading appended lines.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if match(ev) {
			fmt.Fprintln(w, opts.format(ev, line))
		}
	}
}

func (o eventsOptions) matcher() func(eventRecord) bool {
	minLevel := levelRank(o.level)
	return func(ev eventRecord) bool {
		if o.kind != "" && !strings.HasPrefix(ev.Kind, o.kind) {
			return false
		}
		if o.level != "" && levelRank(ev.Level) < minLevel {
			return false
		}
		if o.comp != "" && ev.Comp != o.comp {
			return false
		}
		if o.session != "" && !strings.HasPrefix(ev.SessionID, o.session) {
			return false
		}
		return true
	}
}

func (o eventsOptions) format(ev eventRecord, raw []byte) string {
	if o.rawJSON {
		return string(raw)
	}
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-6s] %-22s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, "- "+ev.Msg)
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Source != "" {
		parts = append(parts, "src="+ev.Source)
	}
	if ev.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", ev.Status))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}

	return strings.Join(parts, " ")
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads r and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events may have big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	if n <= 0 {
		return nil
	}
	ring := make([]parsedLine, 0, n)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) {
			continue
		}
		// Make a copy of raw since scanner reuses the buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}

	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
