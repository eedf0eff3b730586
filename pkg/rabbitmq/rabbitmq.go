package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"restaurant-sync/pkg/config"
	"restaurant-sync/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeOrders routes kitchen tickets by "kitchen.<order type>".
	ExchangeOrders = "orders_topic"
	// ExchangeNotifications carries every propagation event to every instance.
	ExchangeNotifications = "notifications_fanout"

	KitchenQueue = "kitchen_queue"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Logger  *logger.Logger
}

func ConnectRabbitMQ(cfg config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	r := &RabbitMQ{Conn: conn, Channel: channel, Logger: log}
	if err := r.declare(); err != nil {
		r.Close()
		return nil, err
	}

	log.Info("startup", "rabbitmq_connected", "Connected to RabbitMQ", "host", cfg.Host)
	return r, nil
}

func (r *RabbitMQ) declare() error {
	err := r.Channel.ExchangeDeclare(
		ExchangeOrders, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeOrders, err)
	}

	err = r.Channel.ExchangeDeclare(
		ExchangeNotifications, // name
		"fanout",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", ExchangeNotifications, err)
	}

	_, err = r.Channel.QueueDeclare(
		KitchenQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", KitchenQueue, err)
	}

	err = r.Channel.QueueBind(
		KitchenQueue,   // queue name
		"kitchen.*",    // routing key
		ExchangeOrders, // exchange
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("bind %s: %w", KitchenQueue, err)
	}
	return nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.Conn != nil {
		r.Conn.Close()
	}
}

func (r *RabbitMQ) PublishMessage(ctx context.Context, exchange, routingKey string, message []byte, headers amqp.Table) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.Channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         message,
		})
}

// SubscribeNotifications binds a server-named exclusive queue to the
// notifications fanout and starts consuming it with auto-ack.
func (r *RabbitMQ) SubscribeNotifications() (<-chan amqp.Delivery, error) {
	q, err := r.Channel.QueueDeclare(
		"",    // name (let server generate)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare notification queue: %w", err)
	}

	if err := r.Channel.QueueBind(q.Name, "", ExchangeNotifications, false, nil); err != nil {
		return nil, fmt.Errorf("bind notification queue: %w", err)
	}

	return r.consume(q.Name, true)
}

// ConsumeKitchen reads the shared kitchen queue with manual acks.
func (r *RabbitMQ) ConsumeKitchen(prefetch int) (<-chan amqp.Delivery, error) {
	if err := r.Channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	return r.consume(KitchenQueue, false)
}

func (r *RabbitMQ) consume(queue string, autoAck bool) (<-chan amqp.Delivery, error) {
	messages, err := r.Channel.Consume(
		queue,   // queue
		"",      // consumer
		autoAck, // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return messages, nil
}
