package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restaurant-sync/internal/notifier"
	"restaurant-sync/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
)

type SubscribeOptions struct {
	*RootOptions
	Kitchen  bool
	Prefetch int
}

func NewSubscribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubscribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print propagation events from RabbitMQ",
		Long: `Print propagation events from RabbitMQ.

By default every event on the notifications fanout is printed. With --kitchen
the command drains the shared kitchen queue instead and acknowledges each
ticket once printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := opts.logger("notification-subscriber")

			rm, err := rabbitmq.ConnectRabbitMQ(cfg.RabbitMQ, log)
			if err != nil {
				return fmt.Errorf("connect rabbitmq: %w", err)
			}
			defer rm.Close()

			var deliveries <-chan amqp.Delivery
			if opts.Kitchen {
				deliveries, err = rm.ConsumeKitchen(opts.Prefetch)
			} else {
				deliveries, err = rm.SubscribeNotifications()
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info("startup", "subscriber_started", "waiting for events", "kitchen", opts.Kitchen)
			return notifier.NewNotifier(cmd.OutOrStdout(), log).Consume(ctx, deliveries, opts.Kitchen)
		},
	}

	cmd.Flags().BoolVar(&opts.Kitchen, "kitchen", false, "consume kitchen tickets from the shared queue")
	cmd.Flags().IntVar(&opts.Prefetch, "prefetch", 1, "unacknowledged tickets held at once (with --kitchen)")

	return cmd
}
