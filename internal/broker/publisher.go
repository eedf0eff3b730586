// Package broker carries propagation events between instances over RabbitMQ.
// The Publisher sends local events out; the Relay feeds events published by
// other instances into the local hub.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tidwall/gjson"
)

// HeaderOrigin names the instance that published a message.
const HeaderOrigin = "x-origin"

type Channel interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, message []byte, headers amqp.Table) error
}

type outgoing struct {
	exchange string
	key      string
	body     []byte
}

// Publisher is an events.Emitter that queues events for RabbitMQ. Emit never
// waits on the broker; when the queue is full the event is dropped and logged.
type Publisher struct {
	ch     Channel
	origin string
	queue  chan outgoing
	logger *logger.Logger
}

func NewPublisher(ch Channel, origin string, buffer int, log *logger.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{ch: ch, origin: origin, queue: make(chan outgoing, buffer), logger: log}
}

func (p *Publisher) Emit(ctx context.Context, e events.Event) {
	if e.Name == events.ServerDisconnect {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error(logger.RequestID(ctx), "broker_encode_failed", "failed to encode event", err, "event", e.Name)
		return
	}

	msgs := []outgoing{{exchange: rabbitmq.ExchangeNotifications, body: body}}
	if e.Name == events.KitchenTicket {
		msgs = append(msgs, outgoing{exchange: rabbitmq.ExchangeOrders, key: KitchenRoutingKey(e), body: body})
	}
	for _, m := range msgs {
		select {
		case p.queue <- m:
		default:
			p.logger.Warn(logger.RequestID(ctx), "broker_queue_full", "dropping event for broker",
				"event", e.Name, "exchange", m.exchange)
		}
	}
}

// KitchenRoutingKey is "kitchen.<order type>" in lower case, e.g. kitchen.dine_in.
func KitchenRoutingKey(e events.Event) string {
	t := strings.ToLower(gjson.GetBytes(e.Data, "orderType").String())
	if t == "" {
		t = "unknown"
	}
	return "kitchen." + t
}

// Run publishes queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	headers := amqp.Table{HeaderOrigin: p.origin}
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-p.queue:
			if err := p.ch.PublishMessage(ctx, m.exchange, m.key, m.body, headers); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("", "broker_publish_failed", fmt.Sprintf("publish to %s failed", m.exchange), err,
					"routing_key", m.key)
			}
		}
	}
}
