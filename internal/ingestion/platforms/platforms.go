// Package platforms turns delivery-platform webhook payloads into engine
// terms. Each platform is a Handler registered under its identifier; payload
// fields are read with gjson so unknown fields never break parsing.
package platforms

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

type EventKind string

const (
	OrderPlaced   EventKind = "order-placed"
	StatusUpdated EventKind = "status-updated"
	Cancelled     EventKind = "cancelled"
	Unknown       EventKind = "unknown"
)

// Envelope is the platform-neutral view of one webhook.
type Envelope struct {
	Kind            EventKind
	Event           string // the platform's own event name
	ExternalOrderID string
	Status          string // platform status vocabulary, status-updated only
}

// StatusMapping is the internal meaning of one external status. An empty
// field means "leave unchanged".
type StatusMapping struct {
	Order    models.OrderStatus
	Delivery models.DeliveryStatus
}

// Defaults attribute ingested orders to a branch and a user.
type Defaults struct {
	BranchID string
	UserID   string
}

type Handler interface {
	Platform() string
	Parse(payload []byte) (Envelope, error)
	BuildOrder(payload []byte, d Defaults) (*models.Order, error)
	MapStatus(status string) (StatusMapping, bool)
}

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Default registers every platform shipped with the engine.
func Default() *Registry {
	return NewRegistry(Swiggy{}, Zomato{})
}

func (r *Registry) Register(h Handler) {
	r.handlers[strings.ToLower(h.Platform())] = h
}

func (r *Registry) Get(platform string) (Handler, bool) {
	h, ok := r.handlers[strings.ToLower(platform)]
	return h, ok
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// EventName pulls the raw event name out of a payload for the webhook log,
// without validating anything else.
func EventName(payload []byte, paths ...string) string {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	for _, p := range paths {
		if v := gjson.GetBytes(payload, p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func invalidPayload(platform, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", platform, fmt.Sprintf(format, args...), apperr.ErrInvalidPayload)
}

func parseJSON(platform string, payload []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, invalidPayload(platform, "payload is not valid JSON")
	}
	return gjson.ParseBytes(payload), nil
}

func money(r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.String())
}

func optionalTime(r gjson.Result) *time.Time {
	if !r.Exists() {
		return nil
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// itemFields names where a platform keeps each item attribute.
type itemFields struct {
	id, name, quantity, price, notes string
}

func parseItems(platform string, items gjson.Result, f itemFields) ([]models.OrderItem, error) {
	if !items.IsArray() || len(items.Array()) == 0 {
		return nil, invalidPayload(platform, "order has no items")
	}
	var out []models.OrderItem
	for i, it := range items.Array() {
		qty := it.Get(f.quantity)
		if qty.Type != gjson.Number || qty.Int() < 1 || float64(qty.Int()) != qty.Float() {
			return nil, invalidPayload(platform, "item %d: quantity must be a positive integer", i)
		}
		price, err := money(it.Get(f.price))
		if err != nil || price.IsNegative() {
			return nil, invalidPayload(platform, "item %d: bad price", i)
		}
		id := it.Get(f.id).String()
		if id == "" {
			return nil, invalidPayload(platform, "item %d: missing id", i)
		}
		out = append(out, models.OrderItem{
			MenuItemID: id,
			Name:       it.Get(f.name).String(),
			Quantity:   int(qty.Int()),
			Price:      price,
			Notes:      it.Get(f.notes).String(),
		})
	}
	return out, nil
}

func deliveryOrder(platform, externalID string, d Defaults) *models.Order {
	p, id := platform, externalID
	return &models.Order{
		Type:             models.OrderDelivery,
		Status:           models.OrderPending,
		BranchID:         d.BranchID,
		CreatedBy:        d.UserID,
		UpdatedBy:        d.UserID,
		PaymentStatus:    models.PaymentPending,
		ExternalOrderID:  &id,
		ExternalPlatform: &p,
	}
}
