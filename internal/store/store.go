// Package store defines the persistence ports of the engine. Every update is a
// compare-and-swap on the record's version: implementations return
// ErrVersionConflict when the stored version no longer matches.
package store

import (
	"context"
	"errors"
	"time"

	"restaurant-sync/pkg/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate key")
	ErrVersionConflict = errors.New("version conflict")
)

type OrderStore interface {
	// CreateOrder fails with ErrDuplicate when the order number or the
	// (externalPlatform, externalOrderID) pair already exists.
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByExternal(ctx context.Context, platform, externalID string) (*models.Order, error)
	// UpdateOrder writes o if the stored version equals o.Version and bumps
	// o.Version on success.
	UpdateOrder(ctx context.Context, o *models.Order) error
	ListRecentOrders(ctx context.Context, limit int) ([]*models.Order, error)
	NextOrderNumber(ctx context.Context, day time.Time) (string, error)

	AppendStatusLog(ctx context.Context, entry models.OrderStatusLog) error
	ListStatusLog(ctx context.Context, orderID string) ([]models.OrderStatusLog, error)
}

type TableStore interface {
	CreateTable(ctx context.Context, t *models.Table) error
	GetTable(ctx context.Context, id string) (*models.Table, error)
	UpdateTable(ctx context.Context, t *models.Table) error
	ListTables(ctx context.Context) ([]*models.Table, error)
}

type ReservationStore interface {
	// CreateReservation fails with ErrDuplicate when another active
	// reservation holds the same (table, date, time) slot.
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) error
}

type PaymentStore interface {
	// CreatePayment fails with ErrDuplicate when the order already has one.
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByGateway(ctx context.Context, gatewayName, gatewayOrderID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
}

type IntegrationStore interface {
	GetIntegration(ctx context.Context, platform string) (*models.Integration, error)
	SaveIntegration(ctx context.Context, i *models.Integration) error
}

type WebhookStore interface {
	CreateWebhookLog(ctx context.Context, l *models.WebhookLog) error
	// MarkWebhookLog is the only mutation allowed on a log row.
	MarkWebhookLog(ctx context.Context, id string, status models.WebhookStatus, errMsg string, at time.Time) error
	GetWebhookLog(ctx context.Context, id string) (*models.WebhookLog, error)
}

type Store interface {
	OrderStore
	TableStore
	ReservationStore
	PaymentStore
	IntegrationStore
	WebhookStore
}
