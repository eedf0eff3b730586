package cli

import (
	"os"
	"os/signal"
	"syscall"

	"restaurant-sync/cmd/server"

	"github.com/spf13/cobra"
)

type ServeOptions struct {
	*RootOptions
	Memory bool
	Port   int
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and realtime hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if opts.Port != 0 {
				cfg.Server.Port = opts.Port
			}
			log := opts.logger("restaurant-sync")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.NewServer(cfg, log, opts.Memory).Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&opts.Memory, "memory", false, "keep state in memory instead of PostgreSQL")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "HTTP port (overrides server.port)")

	return cmd
}
