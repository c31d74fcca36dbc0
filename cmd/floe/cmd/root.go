// Package cmd provides the CLI commands for floe.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/floe"
	"github.com/leonunix/floe/internal/util"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	index      string
}

// NewRootCmd creates the root command for the floe CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "floe",
		Short: "Bulk-write and scroll-read a search engine index family",
		Long: `floe writes documents through a bulk buffer and reads them back
through scroll cursors, against the engine named in the configuration file.

Examples:
  floe ingest < events.ndjson
  floe list --last-hours 6
  floe search user bob
  floe indices`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "floe.yaml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.index, "index", "", "Logical index to use instead of index.default")

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newCountCmd(opts))
	cmd.AddCommand(newIndicesCmd(opts))
	cmd.AddCommand(newDeleteIndexCmd(opts))

	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// withClient loads the configuration, opens a client for the duration of
// fn and closes it afterwards.
func (o *rootOptions) withClient(fn func(c *floe.Client) error) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	util.SetupLogger(cfg.Logging.Level)

	c, err := floe.Open(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (o *rootOptions) readOptions() []floe.ReadOption {
	if o.index == "" {
		return nil
	}
	return []floe.ReadOption{floe.FromIndex(o.index)}
}
