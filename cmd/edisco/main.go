// Command edisco shows live edit activity on a MediaWiki wiki.
//
// Usage:
//
//	edisco serve            Run the query and live-stream proxy
//	edisco dash             Open the terminal dashboard
//	edisco events           JSONL event log viewer
//	edisco version          Print the version
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abelbrown/edisco/internal/config"
	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags are the persistent flags every subcommand sees.
type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "edisco",
		Short:         "Live edit activity dashboard for Wikipedia",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.edisco/config.toml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newServeCmd(flags),
		newDashCmd(flags),
		newEventsCmd(flags),
		newVersionCmd(),
	)
	return root
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(config.Path(f.configPath))
}

func (f *rootFlags) level(name string) log.Level {
	if f.verbose {
		return log.DebugLevel
	}
	return logging.ParseLevel(name)
}

// openEvents opens the JSONL event log under the state directory, or a
// logger that only feeds the ring when name is empty.
func openEvents(name string) (*otel.Logger, error) {
	if name == "" {
		return otel.NewNullLogger(), nil
	}
	if filepath.IsAbs(name) {
		return otel.OpenFile(filepath.Dir(name), filepath.Base(name))
	}
	return otel.OpenFile(config.Dir(), name)
}

// ensureDir creates the directory holding path.
func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "edisco", version)
		},
	}
}
