package platforms

import (
	"testing"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const swiggyPlaced = `{
  "event": "order.placed",
  "data": {
    "order_id": "SW-1001",
    "customer": {"name": "Ravi", "phone": "+91-98450-00000", "address": "12 MG Road, Bengaluru"},
    "items": [
      {"id": "m-1", "name": "Masala Dosa", "quantity": 2, "price": 120.50, "instructions": "extra chutney"},
      {"id": "m-2", "name": "Filter Coffee", "quantity": 1, "price": "45"}
    ],
    "delivery_fee": 30,
    "tax": 14.25,
    "estimated_delivery_time": "2026-10-15T13:45:00+05:30"
  }
}`

const zomatoPlaced = `{
  "event_type": "ORDER_PLACED",
  "order": {
    "id": "ZO-77",
    "customer_details": {"name": "Meera", "phone_number": "99999", "delivery_address": "4 Park St"},
    "cart": {
      "items": [{"item_id": "b-1", "item_name": "Biryani", "qty": 1, "unit_cost": 320}],
      "charges": {"delivery": 40, "taxes": 16, "discount": 20}
    },
    "eta_minutes": 35
  }
}`

func TestSwiggyStatusTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		external string
		order    models.OrderStatus
		delivery models.DeliveryStatus
	}{
		{"ACCEPTED", models.OrderConfirmed, ""},
		{"PREPARING", models.OrderPreparing, ""},
		{"READY_FOR_PICKUP", models.OrderReady, ""},
		{"PICKED_UP", models.OrderReady, models.DeliveryPickedUp},
		{"DELIVERED", models.OrderCompleted, models.DeliveryDelivered},
		{"cancelled", models.OrderCancelled, models.DeliveryFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.external, func(t *testing.T) {
			t.Parallel()
			m, ok := Swiggy{}.MapStatus(tt.external)
			require.True(t, ok)
			assert.Equal(t, tt.order, m.Order)
			assert.Equal(t, tt.delivery, m.Delivery)
		})
	}

	_, ok := Swiggy{}.MapStatus("TELEPORTED")
	assert.False(t, ok)
}

func TestZomatoStatusTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		external string
		order    models.OrderStatus
		delivery models.DeliveryStatus
	}{
		{"CONFIRMED", models.OrderConfirmed, ""},
		{"IN_KITCHEN", models.OrderPreparing, ""},
		{"READY", models.OrderReady, ""},
		{"OUT_FOR_DELIVERY", models.OrderReady, models.DeliveryPickedUp},
		{"DELIVERED", models.OrderCompleted, models.DeliveryDelivered},
		{"REJECTED", models.OrderCancelled, models.DeliveryFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.external, func(t *testing.T) {
			t.Parallel()
			m, ok := Zomato{}.MapStatus(tt.external)
			require.True(t, ok)
			assert.Equal(t, tt.order, m.Order)
			assert.Equal(t, tt.delivery, m.Delivery)
		})
	}
}

func TestSwiggyParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    Envelope
		wantErr bool
	}{
		{
			name:    "placed",
			payload: swiggyPlaced,
			want:    Envelope{Kind: OrderPlaced, Event: "order.placed", ExternalOrderID: "SW-1001"},
		},
		{
			name:    "status",
			payload: `{"event":"order.status_updated","data":{"order_id":"SW-1","status":"delivered"}}`,
			want:    Envelope{Kind: StatusUpdated, Event: "order.status_updated", ExternalOrderID: "SW-1", Status: "DELIVERED"},
		},
		{
			name:    "unknown event",
			payload: `{"event":"rider.assigned","data":{"order_id":"SW-1"}}`,
			want:    Envelope{Kind: Unknown, Event: "rider.assigned", ExternalOrderID: "SW-1"},
		},
		{name: "not json", payload: `{"event":`, wantErr: true},
		{name: "no order id", payload: `{"event":"order.cancelled","data":{}}`, wantErr: true},
		{name: "status without status", payload: `{"event":"order.status_updated","data":{"order_id":"SW-1"}}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Swiggy{}.Parse([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSwiggyBuildOrder(t *testing.T) {
	t.Parallel()

	o, err := Swiggy{}.BuildOrder([]byte(swiggyPlaced), Defaults{BranchID: "b-1", UserID: "u-sys"})
	require.NoError(t, err)

	assert.Equal(t, models.OrderDelivery, o.Type)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, "b-1", o.BranchID)
	assert.Equal(t, "u-sys", o.CreatedBy)
	require.NotNil(t, o.ExternalOrderID)
	assert.Equal(t, "SW-1001", *o.ExternalOrderID)
	assert.Equal(t, "swiggy", *o.ExternalPlatform)

	require.Len(t, o.Items, 2)
	assert.True(t, decimal.RequireFromString("120.5").Equal(o.Items[0].Price))
	assert.Equal(t, "extra chutney", o.Items[0].Notes)
	assert.True(t, decimal.NewFromInt(45).Equal(o.Items[1].Price))
	assert.True(t, decimal.RequireFromString("14.25").Equal(o.Tax))

	require.NotNil(t, o.Delivery)
	assert.Equal(t, "Ravi", o.Delivery.CustomerName)
	assert.Equal(t, models.DeliveryPending, o.Delivery.DeliveryStatus)
	assert.True(t, decimal.NewFromInt(30).Equal(o.Delivery.DeliveryFee))
	require.NotNil(t, o.Delivery.EstimatedTime)
	assert.Equal(t, time.Date(2026, 10, 15, 8, 15, 0, 0, time.UTC), *o.Delivery.EstimatedTime)
}

func TestBuildOrderRejectsBadItems(t *testing.T) {
	t.Parallel()

	payloads := []string{
		`{"event":"order.placed","data":{"order_id":"SW-1","items":[]}}`,
		`{"event":"order.placed","data":{"order_id":"SW-1","items":[{"id":"m","quantity":0,"price":1}]}}`,
		`{"event":"order.placed","data":{"order_id":"SW-1","items":[{"id":"m","quantity":1.5,"price":1}]}}`,
		`{"event":"order.placed","data":{"order_id":"SW-1","items":[{"id":"m","quantity":1,"price":"abc"}]}}`,
		`{"event":"order.placed","data":{"order_id":"SW-1","items":[{"quantity":1,"price":1}]}}`,
	}
	for _, p := range payloads {
		_, err := Swiggy{}.BuildOrder([]byte(p), Defaults{})
		assert.ErrorIs(t, err, apperr.ErrInvalidPayload, p)
	}
}

func TestZomatoBuildOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	z := Zomato{Now: func() time.Time { return now }}

	env, err := z.Parse([]byte(zomatoPlaced))
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, env.Kind)
	assert.Equal(t, "ZO-77", env.ExternalOrderID)

	o, err := z.BuildOrder([]byte(zomatoPlaced), Defaults{BranchID: "main", UserID: "system"})
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Biryani", o.Items[0].Name)
	assert.True(t, decimal.NewFromInt(20).Equal(o.Discount))
	assert.Equal(t, "4 Park St", o.Delivery.Address)
	require.NotNil(t, o.Delivery.EstimatedTime)
	assert.Equal(t, now.Add(35*time.Minute), *o.Delivery.EstimatedTime)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := Default()
	assert.Equal(t, []string{"swiggy", "zomato"}, r.Platforms())

	h, ok := r.Get("Swiggy")
	require.True(t, ok)
	assert.Equal(t, "swiggy", h.Platform())

	_, ok = r.Get("ubereats")
	assert.False(t, ok)
}

func TestEventName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "order.placed", EventName([]byte(swiggyPlaced), "event", "event_type"))
	assert.Equal(t, "ORDER_PLACED", EventName([]byte(zomatoPlaced), "event", "event_type"))
	assert.Empty(t, EventName([]byte(`not json`), "event"))
}
