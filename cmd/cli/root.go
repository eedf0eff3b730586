// Package cli holds the restaurant-sync command tree.
package cli

import (
	"log/slog"
	"os"

	"restaurant-sync/pkg/config"
	"restaurant-sync/pkg/logger"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

func (o *RootOptions) load() (*config.Config, error) {
	return config.LoadConfig(o.ConfigPath)
}

func (o *RootOptions) logger(service string) *logger.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return logger.New(service, os.Stderr, level)
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "restaurant-sync",
		Short: "Restaurant order, table and payment synchronization",
		Long: `restaurant-sync keeps orders, tables and payments consistent across
staff dashboards, delivery platforms and payment gateways.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSubscribeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}
