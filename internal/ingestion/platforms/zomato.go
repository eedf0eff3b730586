package platforms

import (
	"strings"
	"time"

	"restaurant-sync/pkg/models"
)

// ZomatoStatuses maps Zomato order states to the engine's statuses.
var ZomatoStatuses = map[string]StatusMapping{
	"CONFIRMED":        {Order: models.OrderConfirmed},
	"IN_KITCHEN":       {Order: models.OrderPreparing},
	"READY":            {Order: models.OrderReady},
	"OUT_FOR_DELIVERY": {Order: models.OrderReady, Delivery: models.DeliveryPickedUp},
	"DELIVERED":        {Order: models.OrderCompleted, Delivery: models.DeliveryDelivered},
	"REJECTED":         {Order: models.OrderCancelled, Delivery: models.DeliveryFailed},
	"CANCELLED":        {Order: models.OrderCancelled, Delivery: models.DeliveryFailed},
}

var zomatoEvents = map[string]EventKind{
	"ORDER_PLACED":        OrderPlaced,
	"ORDER_STATUS_UPDATE": StatusUpdated,
	"ORDER_CANCELLED":     Cancelled,
}

// Zomato payloads look like
// {"event_type":"ORDER_PLACED","order":{"id":"...","state":"...","customer_details":{...},"cart":{...}}}.
type Zomato struct {
	// Now anchors eta_minutes; nil means time.Now.
	Now func() time.Time
}

func (Zomato) Platform() string { return "zomato" }

func (z Zomato) Parse(payload []byte) (Envelope, error) {
	root, err := parseJSON(z.Platform(), payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		Event:           root.Get("event_type").String(),
		ExternalOrderID: root.Get("order.id").String(),
		Status:          strings.ToUpper(root.Get("order.state").String()),
	}
	kind, ok := zomatoEvents[strings.ToUpper(env.Event)]
	if !ok {
		env.Kind = Unknown
		return env, nil
	}
	env.Kind = kind
	if env.ExternalOrderID == "" {
		return Envelope{}, invalidPayload(z.Platform(), "missing order.id")
	}
	if kind == StatusUpdated && env.Status == "" {
		return Envelope{}, invalidPayload(z.Platform(), "missing order.state")
	}
	return env, nil
}

func (z Zomato) BuildOrder(payload []byte, d Defaults) (*models.Order, error) {
	root, err := parseJSON(z.Platform(), payload)
	if err != nil {
		return nil, err
	}
	order := root.Get("order")
	items, err := parseItems(z.Platform(), order.Get("cart.items"), itemFields{
		id: "item_id", name: "item_name", quantity: "qty", price: "unit_cost", notes: "comment",
	})
	if err != nil {
		return nil, err
	}
	fee, err := money(order.Get("cart.charges.delivery"))
	if err != nil {
		return nil, invalidPayload(z.Platform(), "bad delivery charge")
	}
	tax, err := money(order.Get("cart.charges.taxes"))
	if err != nil {
		return nil, invalidPayload(z.Platform(), "bad taxes")
	}
	discount, err := money(order.Get("cart.charges.discount"))
	if err != nil {
		return nil, invalidPayload(z.Platform(), "bad discount")
	}

	var eta *time.Time
	if m := order.Get("eta_minutes"); m.Exists() && m.Int() > 0 {
		now := time.Now
		if z.Now != nil {
			now = z.Now
		}
		t := now().UTC().Add(time.Duration(m.Int()) * time.Minute)
		eta = &t
	}

	o := deliveryOrder(z.Platform(), order.Get("id").String(), d)
	o.Items = items
	o.Tax = tax
	o.Discount = discount
	o.Delivery = &models.DeliveryInfo{
		CustomerName:   order.Get("customer_details.name").String(),
		CustomerPhone:  order.Get("customer_details.phone_number").String(),
		Address:        order.Get("customer_details.delivery_address").String(),
		DeliveryStatus: models.DeliveryPending,
		EstimatedTime:  eta,
		DeliveryFee:    fee,
	}
	return o, nil
}

func (Zomato) MapStatus(status string) (StatusMapping, bool) {
	m, ok := ZomatoStatuses[strings.ToUpper(status)]
	return m, ok
}
