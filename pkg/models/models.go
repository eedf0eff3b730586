package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type OrderType string

const (
	OrderDineIn   OrderType = "DINE_IN"
	OrderTakeaway OrderType = "TAKEAWAY"
	OrderDelivery OrderType = "DELIVERY"
	OrderOnline   OrderType = "ONLINE"
)

type TableStatus string

const (
	TableAvailable TableStatus = "AVAILABLE"
	TableReserved  TableStatus = "RESERVED"
	TableOccupied  TableStatus = "OCCUPIED"
	TableCleaning  TableStatus = "CLEANING"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "CASH"
	MethodCard   PaymentMethod = "CARD"
	MethodUPI    PaymentMethod = "UPI"
	MethodOnline PaymentMethod = "ONLINE"
)

// Direct methods settle at the counter and never touch a gateway.
func (m PaymentMethod) Direct() bool {
	return m == MethodCash || m == MethodCard
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationSeated    ReservationStatus = "SEATED"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationNoShow    ReservationStatus = "NO_SHOW"
)

// Active reservations hold their (table, date, time) slot.
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "PENDING"
	WebhookProcessed WebhookStatus = "PROCESSED"
	WebhookFailed    WebhookStatus = "FAILED"
)

// Source tags who requested a status change.
type Source string

const (
	SourceStaff   Source = "STAFF"
	SourceWebhook Source = "WEBHOOK"
	SourcePayment Source = "PAYMENT"
)

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	Status           OrderStatus     `json:"status"`
	Type             OrderType       `json:"type"`
	TableID          *string         `json:"tableId,omitempty"`
	CustomerID       *string         `json:"customerId,omitempty"`
	BranchID         string          `json:"branchId"`
	CreatedBy        string          `json:"createdBy"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Tax              decimal.Decimal `json:"tax"`
	Discount         decimal.Decimal `json:"discount"`
	GrandTotal       decimal.Decimal `json:"grandTotal"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	ExternalOrderID  *string         `json:"externalOrderId,omitempty"`
	ExternalPlatform *string         `json:"externalPlatform,omitempty"`
	Items            []OrderItem     `json:"items"`
	Delivery         *DeliveryInfo   `json:"delivery,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	UpdatedBy        string          `json:"updatedBy,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.Delivery != nil {
		d := *o.Delivery
		c.Delivery = &d
	}
	c.TableID = cloneString(o.TableID)
	c.CustomerID = cloneString(o.CustomerID)
	c.ExternalOrderID = cloneString(o.ExternalOrderID)
	c.ExternalPlatform = cloneString(o.ExternalPlatform)
	return &c
}

type OrderItem struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Notes      string          `json:"notes,omitempty"`
}

type OrderStatusLog struct {
	ID        int64       `json:"id"`
	OrderID   string      `json:"orderId"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Source    Source      `json:"source"`
	ChangedAt time.Time   `json:"changedAt"`
}

type DeliveryInfo struct {
	CustomerName   string          `json:"customerName"`
	CustomerPhone  string          `json:"customerPhone"`
	Address        string          `json:"address"`
	DeliveryStatus DeliveryStatus  `json:"deliveryStatus"`
	EstimatedTime  *time.Time      `json:"estimatedTime,omitempty"`
	ActualTime     *time.Time      `json:"actualTime,omitempty"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
}

type Table struct {
	ID           string      `json:"id"`
	TableNumber  int         `json:"tableNumber"`
	Capacity     int         `json:"capacity"`
	Status       TableStatus `json:"status"`
	BranchID     string      `json:"branchId"`
	ClaimedBy    string      `json:"claimedBy,omitempty"`
	OverriddenBy string      `json:"overriddenBy,omitempty"`
	OverriddenAt *time.Time  `json:"overriddenAt,omitempty"`
	Version      int64       `json:"version"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	GatewayName      string          `json:"gatewayName,omitempty"`
	GatewayOrderID   string          `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	RefundAmount     decimal.Decimal `json:"refundAmount"`
	RefundReason     string          `json:"refundReason,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Reservation struct {
	ID              string            `json:"id"`
	TableID         *string           `json:"tableId,omitempty"`
	CustomerName    string            `json:"customerName,omitempty"`
	ReservationDate string            `json:"reservationDate"`
	ReservationTime string            `json:"reservationTime"`
	PartySize       int               `json:"partySize"`
	Status          ReservationStatus `json:"status"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type Integration struct {
	ID            string `json:"id"`
	Platform      string `json:"platform"`
	Active        bool   `json:"active"`
	BranchID      string `json:"branchId,omitempty"`
	DefaultUserID string `json:"defaultUserId,omitempty"`
}

type WebhookLog struct {
	ID            string        `json:"id"`
	IntegrationID string        `json:"integrationId"`
	Event         string        `json:"event"`
	Payload       []byte        `json:"payload"`
	Status        WebhookStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	ProcessedAt   *time.Time    `json:"processedAt,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
