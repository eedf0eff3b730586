package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/internal/realtime/client"

	"github.com/spf13/cobra"
)

type WatchOptions struct {
	*RootOptions
	URL          string
	Token        string
	PollInterval time.Duration
	Limit        int
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow orders and tables like a staff dashboard",
		Long: `Follow orders and tables like a staff dashboard.

The session subscribes to the realtime hub when a token is given and polls
the REST API otherwise, or after the socket gives up. Type "r" and press
enter to retry the socket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := opts.logger("watch")
			out := &syncWriter{w: cmd.OutOrStdout()}

			session := client.New(client.Options{
				BaseURL:      opts.URL,
				Token:        opts.Token,
				PollInterval: opts.PollInterval,
				PollLimit:    opts.Limit,
				Logger:       log,
				OnStatus: func(s client.Status) {
					out.printf("[status] %s\n", s)
				},
				OnNotice: func(msg string) {
					out.printf("[notice] %s\n", msg)
				},
				OnOrder: func(o client.OrderView) {
					line := fmt.Sprintf("order %s %s payment=%s", orDash(o.OrderNumber, o.ID), o.Status, o.PaymentStatus)
					if o.UpdatedBy != "" {
						line += " by " + o.UpdatedBy
					}
					out.printf("%s\n", line)
				},
				OnTable: func(t client.TableView) {
					out.printf("table %s %s\n", t.ID, t.Status)
				},
				OnTicket: func(p events.TicketPayload) {
					out.printf("ticket %s (%s) %d items\n", p.OrderNumber, p.OrderType, len(p.Items))
				},
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if strings.TrimSpace(sc.Text()) == "r" {
						session.Reconnect()
					}
				}
			}()
			return session.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:3000", "server base URL")
	cmd.Flags().StringVar(&opts.Token, "token", os.Getenv("RESTAURANT_SYNC_TOKEN"), "dashboard token; empty means poll only")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", client.DefaultPollInterval, "polling interval")
	cmd.Flags().IntVar(&opts.Limit, "limit", client.DefaultPollLimit, "orders fetched per poll")

	return cmd
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func orDash(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
