package broker

import (
	"context"
	"encoding/json"
	"errors"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrDeliveriesClosed = errors.New("broker delivery channel closed")

// Relay emits events received from the notifications fanout into local,
// skipping the ones this instance published itself.
type Relay struct {
	origin string
	local  events.Emitter
	logger *logger.Logger
}

func NewRelay(origin string, local events.Emitter, log *logger.Logger) *Relay {
	return &Relay{origin: origin, local: local, logger: log}
}

func (r *Relay) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Relay) handle(ctx context.Context, d amqp.Delivery) {
	if origin, _ := d.Headers[HeaderOrigin].(string); origin == r.origin {
		return
	}
	var e events.Event
	if err := json.Unmarshal(d.Body, &e); err != nil || e.Name == "" {
		r.logger.Warn("", "relay_bad_message", "ignoring malformed broker message", "message_id", d.MessageId)
		return
	}
	r.local.Emit(ctx, e)
}
