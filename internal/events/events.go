// Package events defines the propagation events pushed to dashboard clients
// and the Emitter port the engine publishes them through.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
)

const (
	OrderUpdate      = "order:update"
	TableUpdate      = "table:update"
	KitchenTicket    = "kitchen:ticket"
	ServerDisconnect = "server:disconnect"

	// client commands
	OrderStatusCommand = "order:status:update"
	TableStatusCommand = "table:status:update"
)

// Event is the frame written to every real-time connection and to the broker.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type OrderPayload struct {
	Kind          string               `json:"kind"`
	ID            string               `json:"id"`
	OrderID       string               `json:"orderId"`
	OrderNumber   string               `json:"orderNumber,omitempty"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus,omitempty"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	UpdatedBy     string               `json:"updatedBy,omitempty"`
}

type TablePayload struct {
	Kind      string             `json:"kind"`
	ID        string             `json:"id"`
	TableID   string             `json:"tableId"`
	Status    models.TableStatus `json:"status"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type TicketItem struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Notes      string          `json:"notes,omitempty"`
}

type TicketPayload struct {
	OrderID     string           `json:"orderId"`
	OrderNumber string           `json:"orderNumber"`
	OrderType   models.OrderType `json:"orderType"`
	Items       []TicketItem     `json:"items"`
	TableNumber int              `json:"tableNumber,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type DisconnectPayload struct {
	Reason string `json:"reason"`
}

func mustEvent(name string, v any) Event {
	// payload types above always marshal
	b, _ := json.Marshal(v)
	return Event{Name: name, Data: b}
}

func OrderUpdated(o *models.Order) Event {
	return mustEvent(OrderUpdate, OrderPayload{
		Kind:          "order",
		ID:            o.ID,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		UpdatedAt:     o.UpdatedAt,
		UpdatedBy:     o.UpdatedBy,
	})
}

func TableUpdated(t *models.Table) Event {
	return mustEvent(TableUpdate, TablePayload{
		Kind:      "table",
		ID:        t.ID,
		TableID:   t.ID,
		Status:    t.Status,
		UpdatedAt: t.UpdatedAt,
	})
}

// KitchenTicketFor builds the ticket sent to the kitchen when an order is
// confirmed. tableNumber is zero for orders without a table.
func KitchenTicketFor(o *models.Order, tableNumber int) Event {
	items := make([]TicketItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, TicketItem{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      it.Price,
			Notes:      it.Notes,
		})
	}
	return mustEvent(KitchenTicket, TicketPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderType:   o.Type,
		Items:       items,
		TableNumber: tableNumber,
		CreatedAt:   o.CreatedAt,
	})
}

func Disconnect(reason string) Event {
	return mustEvent(ServerDisconnect, DisconnectPayload{Reason: reason})
}

// Emitter publishes events. Emit must not block on slow consumers and never
// reports delivery failures to the caller.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

type EmitterFunc func(ctx context.Context, e Event)

func (f EmitterFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(ctx, e)
		}
	}
}

var Discard Emitter = EmitterFunc(func(context.Context, Event) {})

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
