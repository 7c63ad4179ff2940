package main

import (
	"context"
	"fmt"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abelbrown/edisco/internal/config"
	"github.com/abelbrown/edisco/internal/engine"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/otel"
	"github.com/abelbrown/edisco/internal/store"
	"github.com/abelbrown/edisco/internal/ui"
)

func newDashCmd(flags *rootFlags) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Open the terminal dashboard",
		Long: `Open the dashboard against a running "edisco serve". Recent edits
stream in live; the ranked panels refresh on their own schedules.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Dash.ServerURL = serverURL
			}
			return runDash(cmd.Context(), cfg, flags.level(cfg.Dash.LogLevel))
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "edisco serve base URL (overrides config)")
	return cmd
}

func runDash(ctx context.Context, cfg *config.Config, level log.Level) error {
	dc := cfg.Dash

	// The terminal belongs to the UI, so logs go to a file.
	if err := logging.Init(dc.LogDir, "dash", level); err != nil {
		return err
	}
	defer logging.Close()

	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events, err := openEvents(dc.EventLog)
	if err != nil {
		return err
	}
	events.SetRingBuffer(ring)
	defer events.Close()

	if err := ensureDir(dc.DBPath); err != nil {
		return err
	}
	st, err := store.Open(dc.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	eng := engine.New(engine.Config{
		Fetcher:        engine.NewHTTPFetcher(dc.ServerURL, dc.FetchTimeout.Duration),
		Dialer:         engine.WebsocketDialer{},
		StreamURL:      dc.StreamURL(),
		ReconnectDelay: dc.ReconnectDelay.Duration,
		Debounce:       dc.Debounce.Duration,
		FetchTimeout:   dc.FetchTimeout.Duration,
		Cadences: engine.Cadences{
			LiveMerge:   dc.LiveMerge.Duration,
			Top:         dc.Top.Duration,
			TopViewed:   dc.TopViewed.Duration,
			Talk:        dc.Talk.Duration,
			NewArticles: dc.NewArticles.Duration,
		},
		Policy: ui.LoadPolicy(ctx, st),
		Events: events,
	})

	app := ui.NewApp(ui.Options{
		Engine: eng,
		Prefs:  st,
		Ring:   ring,
		Events: events,
		Trace:  otel.TraceEnabled(),
		Host:   wikiHost(cfg),
	})

	events.Info(otel.KindStartup, "ui", dc.ServerURL)
	logging.Info("edisco dash", "version", version, "server", dc.ServerURL)

	program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	eng.Close()
	events.Info(otel.KindShutdown, "ui", "")
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// wikiHost names the wiki in the header. The dashboard only knows the
// server's URL, so it uses the server config when both share a file.
func wikiHost(cfg *config.Config) string {
	if cfg.Server.Wiki != "" {
		return cfg.Server.Wiki
	}
	u, err := url.Parse(cfg.Dash.ServerURL)
	if err != nil {
		return ""
	}
	return u.Host
}
