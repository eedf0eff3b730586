package orders

import "restaurant-sync/pkg/models"

// forward holds the single-step edges shared by every order type.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.OrderPending:   models.OrderConfirmed,
	models.OrderConfirmed: models.OrderPreparing,
	models.OrderPreparing: models.OrderReady,
	models.OrderReady:     models.OrderCompleted,
}

// deliveryForward inserts DELIVERED between READY and COMPLETED.
var deliveryForward = map[models.OrderStatus]models.OrderStatus{
	models.OrderPending:   models.OrderConfirmed,
	models.OrderConfirmed: models.OrderPreparing,
	models.OrderPreparing: models.OrderReady,
	models.OrderReady:     models.OrderDelivered,
	models.OrderDelivered: models.OrderCompleted,
}

// Next returns the single forward step from s for the given order type.
func Next(t models.OrderType, s models.OrderStatus) (models.OrderStatus, bool) {
	graph := forward
	if t == models.OrderDelivery {
		graph = deliveryForward
	}
	n, ok := graph[s]
	return n, ok
}

// CanTransition reports whether to is reachable from from. Forward steps may
// be skipped (a platform may report READY straight after CONFIRMED);
// CANCELLED is reachable from every non-terminal status; nothing leaves a
// terminal status and nothing moves backwards.
func CanTransition(t models.OrderType, from, to models.OrderStatus) bool {
	if from.Terminal() || from == to {
		return false
	}
	if to == models.OrderCancelled {
		return true
	}
	for s, ok := Next(t, from); ok; s, ok = Next(t, s) {
		if s == to {
			return true
		}
	}
	return false
}

// Statuses lists every order status in lifecycle order.
func Statuses() []models.OrderStatus {
	return []models.OrderStatus{
		models.OrderPending,
		models.OrderConfirmed,
		models.OrderPreparing,
		models.OrderReady,
		models.OrderDelivered,
		models.OrderCompleted,
		models.OrderCancelled,
	}
}

func validStatus(s models.OrderStatus) bool {
	for _, v := range Statuses() {
		if v == s {
			return true
		}
	}
	return false
}
