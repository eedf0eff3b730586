package platforms

import (
	"strings"

	"restaurant-sync/pkg/models"
)

// SwiggyStatuses maps Swiggy order states to the engine's statuses.
var SwiggyStatuses = map[string]StatusMapping{
	"ACCEPTED":         {Order: models.OrderConfirmed},
	"PREPARING":        {Order: models.OrderPreparing},
	"READY_FOR_PICKUP": {Order: models.OrderReady},
	"PICKED_UP":        {Order: models.OrderReady, Delivery: models.DeliveryPickedUp},
	"DELIVERED":        {Order: models.OrderCompleted, Delivery: models.DeliveryDelivered},
	"CANCELLED":        {Order: models.OrderCancelled, Delivery: models.DeliveryFailed},
}

var swiggyEvents = map[string]EventKind{
	"order.placed":         OrderPlaced,
	"order.status_updated": StatusUpdated,
	"order.cancelled":      Cancelled,
}

// Swiggy payloads look like
// {"event":"order.placed","data":{"order_id":"...","status":"...","customer":{...},"items":[...]}}.
type Swiggy struct{}

func (Swiggy) Platform() string { return "swiggy" }

func (s Swiggy) Parse(payload []byte) (Envelope, error) {
	root, err := parseJSON(s.Platform(), payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		Event:           root.Get("event").String(),
		ExternalOrderID: root.Get("data.order_id").String(),
		Status:          strings.ToUpper(root.Get("data.status").String()),
	}
	kind, ok := swiggyEvents[env.Event]
	if !ok {
		env.Kind = Unknown
		return env, nil
	}
	env.Kind = kind
	if env.ExternalOrderID == "" {
		return Envelope{}, invalidPayload(s.Platform(), "missing data.order_id")
	}
	if kind == StatusUpdated && env.Status == "" {
		return Envelope{}, invalidPayload(s.Platform(), "missing data.status")
	}
	return env, nil
}

func (s Swiggy) BuildOrder(payload []byte, d Defaults) (*models.Order, error) {
	root, err := parseJSON(s.Platform(), payload)
	if err != nil {
		return nil, err
	}
	data := root.Get("data")
	items, err := parseItems(s.Platform(), data.Get("items"), itemFields{
		id: "id", name: "name", quantity: "quantity", price: "price", notes: "instructions",
	})
	if err != nil {
		return nil, err
	}
	fee, err := money(data.Get("delivery_fee"))
	if err != nil {
		return nil, invalidPayload(s.Platform(), "bad delivery_fee")
	}
	tax, err := money(data.Get("tax"))
	if err != nil {
		return nil, invalidPayload(s.Platform(), "bad tax")
	}
	discount, err := money(data.Get("discount"))
	if err != nil {
		return nil, invalidPayload(s.Platform(), "bad discount")
	}

	o := deliveryOrder(s.Platform(), data.Get("order_id").String(), d)
	o.Items = items
	o.Tax = tax
	o.Discount = discount
	o.Delivery = &models.DeliveryInfo{
		CustomerName:   data.Get("customer.name").String(),
		CustomerPhone:  data.Get("customer.phone").String(),
		Address:        data.Get("customer.address").String(),
		DeliveryStatus: models.DeliveryPending,
		EstimatedTime:  optionalTime(data.Get("estimated_delivery_time")),
		DeliveryFee:    fee,
	}
	return o, nil
}

func (Swiggy) MapStatus(status string) (StatusMapping, bool) {
	m, ok := SwiggyStatuses[strings.ToUpper(status)]
	return m, ok
}
