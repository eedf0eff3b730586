// Package notifier prints propagation events for operators following the
// broker from a terminal.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Notifier struct {
	mu     sync.Mutex
	out    io.Writer
	logger *logger.Logger
}

func NewNotifier(out io.Writer, log *logger.Logger) *Notifier {
	return &Notifier{out: out, logger: log}
}

// Emit lets a Notifier sit behind the events.Emitter port, e.g. for a
// local watch session.
func (n *Notifier) Emit(_ context.Context, e events.Event) {
	n.Display(e)
}

// Format renders one event as a single line. Unknown events render as their
// name and raw payload.
func Format(e events.Event) string {
	switch e.Name {
	case events.OrderUpdate:
		var p events.OrderPayload
		if err := json.Unmarshal(e.Data, &p); err == nil {
			line := fmt.Sprintf("Order %s is now %s", orDefault(p.OrderNumber, p.OrderID), p.Status)
			if p.UpdatedBy != "" {
				line += " (by " + p.UpdatedBy + ")"
			}
			if p.PaymentStatus != "" {
				line += ", payment " + string(p.PaymentStatus)
			}
			return line + " at " + p.UpdatedAt.Format(time.RFC3339)
		}
	case events.TableUpdate:
		var p events.TablePayload
		if err := json.Unmarshal(e.Data, &p); err == nil {
			return fmt.Sprintf("Table %s is now %s at %s", p.TableID, p.Status, p.UpdatedAt.Format(time.RFC3339))
		}
	case events.KitchenTicket:
		var p events.TicketPayload
		if err := json.Unmarshal(e.Data, &p); err == nil {
			items := make([]string, 0, len(p.Items))
			for _, it := range p.Items {
				items = append(items, fmt.Sprintf("%dx %s", it.Quantity, orDefault(it.Name, it.MenuItemID)))
			}
			line := fmt.Sprintf("Kitchen ticket %s (%s)", p.OrderNumber, p.OrderType)
			if p.TableNumber > 0 {
				line += fmt.Sprintf(" table %d", p.TableNumber)
			}
			return line + ": " + strings.Join(items, ", ")
		}
	}
	return fmt.Sprintf("%s %s", e.Name, string(e.Data))
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func (n *Notifier) Display(e events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out, Format(e))
}

// Consume prints deliveries until ctx is done or the channel closes. Manual
// ack deliveries are acked once printed; malformed ones are rejected.
func (n *Notifier) Consume(ctx context.Context, deliveries <-chan amqp.Delivery, manualAck bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			var e events.Event
			if err := json.Unmarshal(d.Body, &e); err != nil || e.Name == "" {
				n.logger.Error("message_processing", "process_failed", "Failed to parse message", err,
					"message_id", d.MessageId)
				if manualAck {
					_ = d.Reject(false)
				}
				continue
			}
			n.Display(e)
			if manualAck {
				if err := d.Ack(false); err != nil {
					n.logger.Error("message_processing", "ack_failed", "Failed to ack message", err)
				}
			}
		}
	}
}
