package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abelbrown/edisco/internal/cache"
	"github.com/abelbrown/edisco/internal/config"
	"github.com/abelbrown/edisco/internal/coord"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/metrics"
	"github.com/abelbrown/edisco/internal/otel"
	"github.com/abelbrown/edisco/internal/server"
	"github.com/abelbrown/edisco/internal/store"
	"github.com/abelbrown/edisco/internal/wiki"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the query and live-stream proxy",
		Long: `Serve the dashboard's query surface (/api/*), the live edit stream
(/ws/live), an Atom feed of recent edits and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return runServe(cmd.Context(), cfg.Server, flags.level(cfg.Server.LogLevel))
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func runServe(parent context.Context, cfg config.ServerConfig, level log.Level) error {
	logging.InitWriter(os.Stderr, level)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events, err := openEvents(cfg.EventLog)
	if err != nil {
		return err
	}
	events.SetRingBuffer(ring)
	defer events.Close()

	if err := ensureDir(cfg.DBPath); err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()
	if n, err := st.PruneThumbnails(ctx); err != nil {
		logging.Warn("prune thumbnails", "err", err)
	} else if n > 0 {
		logging.Debug("pruned thumbnails", "count", n)
	}

	c, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	m := metrics.New()
	client := wiki.NewClient(wiki.Options{
		Wiki:       cfg.Wiki,
		APIURL:     cfg.APIURL,
		RestURL:    cfg.RestURL,
		StreamURL:  cfg.StreamURL,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout.Duration,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
		Thumbnails: st,
		Observer:   m,
	})
	hub := server.NewHub(server.DefaultClientBuffer, m, events)
	srv := server.New(server.Options{
		Wiki:    client,
		Host:    cfg.Wiki,
		Cache:   c,
		Hub:     hub,
		Metrics: m,
		Events:  events,
		Ring:    ring,
	})

	relay := coord.NewRelay(client, hub, coord.Options{Events: events, Metrics: m})
	relay.Start(ctx)

	events.Info(otel.KindStartup, "server", cfg.Listen)
	logging.Info("edisco serve", "version", version, "wiki", cfg.Wiki, "cache", cfg.Cache)

	err = srv.Run(ctx, cfg.Listen)
	stop()
	relay.Wait()
	events.Info(otel.KindShutdown, "server", "")
	return err
}

func openCache(ctx context.Context, cfg config.ServerConfig) (cache.Cache, error) {
	if cfg.Cache == "redis" {
		r, err := cache.NewRedis(ctx, cfg.RedisAddr, "edisco")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return r, nil
	}
	return cache.NewMemory(time.Minute), nil
}
