package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"restaurant-sync/internal/events"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	o := &models.Order{
		ID: "o-1", OrderNumber: "ORD_20261015_001", Type: models.OrderDineIn, Status: models.OrderReady,
		PaymentStatus: models.PaymentPending, UpdatedAt: at, UpdatedBy: "alice", CreatedAt: at,
		Items: []models.OrderItem{
			{MenuItemID: "m-1", Name: "Dosa", Quantity: 2, Price: decimal.NewFromInt(120)},
			{MenuItemID: "m-2", Quantity: 1, Price: decimal.NewFromInt(40)},
		},
	}

	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{"order", events.OrderUpdated(o),
			"Order ORD_20261015_001 is now READY (by alice), payment PENDING at 2026-10-15T09:00:00Z"},
		{"table", events.TableUpdated(&models.Table{ID: "t-1", Status: models.TableCleaning, UpdatedAt: at}),
			"Table t-1 is now CLEANING at 2026-10-15T09:00:00Z"},
		{"ticket", events.KitchenTicketFor(o, 7),
			"Kitchen ticket ORD_20261015_001 (DINE_IN) table 7: 2x Dosa, 1x m-2"},
		{"other", events.Event{Name: "custom", Data: json.RawMessage(`{"a":1}`)}, `custom {"a":1}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Format(tt.event))
		})
	}
}

func TestConsumePrintsDeliveries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewNotifier(&buf, logger.Nop())
	body, err := json.Marshal(events.TableUpdated(&models.Table{ID: "t-9", Status: models.TableAvailable}))
	require.NoError(t, err)

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Body: []byte("{")}
	deliveries <- amqp.Delivery{Body: body}
	close(deliveries)

	err = n.Consume(context.Background(), deliveries, false)
	assert.Error(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "Table t-9 is now AVAILABLE"))
}
