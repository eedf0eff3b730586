package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"
	"restaurant-sync/pkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	body     []byte
	headers  amqp.Table
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeChannel) PublishMessage(_ context.Context, exchange, key string, body []byte, headers amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{exchange, key, body, headers})
	return nil
}

func (f *fakeChannel) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func ticketOrder() *models.Order {
	return &models.Order{
		ID: "o-1", OrderNumber: "ORD_20261015_001", Type: models.OrderDineIn, Status: models.OrderConfirmed,
		Items:     []models.OrderItem{{MenuItemID: "m-1", Name: "Dosa", Quantity: 2, Price: decimal.NewFromInt(120)}},
		CreatedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 10, 15, 9, 5, 0, 0, time.UTC),
	}
}

func TestPublisherRoutesEvents(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p := NewPublisher(ch, "instance-a", 8, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	o := ticketOrder()
	p.Emit(ctx, events.OrderUpdated(o))
	p.Emit(ctx, events.KitchenTicketFor(o, 7))
	p.Emit(ctx, events.Disconnect("bye"))

	require.Eventually(t, func() bool { return len(ch.all()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msgs := ch.all()
	assert.Equal(t, rabbitmq.ExchangeNotifications, msgs[0].exchange)
	assert.Equal(t, rabbitmq.ExchangeNotifications, msgs[1].exchange)
	assert.Equal(t, rabbitmq.ExchangeOrders, msgs[2].exchange)
	assert.Equal(t, "kitchen.dine_in", msgs[2].key)
	assert.Equal(t, "instance-a", msgs[2].headers[HeaderOrigin])

	var e events.Event
	require.NoError(t, json.Unmarshal(msgs[2].body, &e))
	assert.Equal(t, events.KitchenTicket, e.Name)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p := NewPublisher(ch, "instance-a", 1, logger.Nop())
	o := ticketOrder()
	p.Emit(context.Background(), events.OrderUpdated(o))
	p.Emit(context.Background(), events.OrderUpdated(o))
	assert.Len(t, p.queue, 1)
}

func TestRelaySkipsOwnEvents(t *testing.T) {
	t.Parallel()

	rec := &events.Recorder{}
	r := NewRelay("instance-a", rec, logger.Nop())
	body, err := json.Marshal(events.OrderUpdated(ticketOrder()))
	require.NoError(t, err)

	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- amqp.Delivery{Headers: amqp.Table{HeaderOrigin: "instance-a"}, Body: body}
	deliveries <- amqp.Delivery{Headers: amqp.Table{HeaderOrigin: "instance-b"}, Body: body}
	deliveries <- amqp.Delivery{Body: []byte("not json")}
	close(deliveries)

	err = r.Run(context.Background(), deliveries)
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, events.OrderUpdate, rec.Events()[0].Name)
}

func TestKitchenRoutingKey(t *testing.T) {
	t.Parallel()

	o := ticketOrder()
	o.Type = models.OrderDelivery
	assert.Equal(t, "kitchen.delivery", KitchenRoutingKey(events.KitchenTicketFor(o, 0)))
	assert.Equal(t, "kitchen.unknown", KitchenRoutingKey(events.Event{Name: events.KitchenTicket}))
}
