// Package orders owns order status. Every status change goes through
// Transition, which validates against the lifecycle graph, writes with a
// version check and then runs table side effects and event emission.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/events"
	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxWriteAttempts = 3

	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Tables is the slice of the table coordinator the order lifecycle drives.
type Tables interface {
	ClaimForOrder(ctx context.Context, tableID, orderID string, seated bool) error
	ReleaseClaim(ctx context.Context, tableID, orderID string) error
	SeatOrder(ctx context.Context, tableID, orderID string) error
	ReleaseForOrder(ctx context.Context, tableID, orderID string) error
	Reassign(ctx context.Context, orderID, fromTableID, toTableID string) error
	Get(ctx context.Context, tableID string) (*models.Table, error)
}

type Service struct {
	store   store.OrderStore
	tables  Tables
	emitter events.Emitter
	logger  *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.OrderStore, tables Tables, emitter events.Emitter, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		tables:  tables,
		emitter: emitter,
		logger:  log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = events.Discard
	}
	return s
}

type actorKey struct{}

// WithActor attributes writes made with ctx to a user id.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context, source models.Source) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return string(source)
}

// Result describes one Transition call. SideEffects carries failures of the
// follow-up work; the status write itself has already been committed.
type Result struct {
	Order       *models.Order
	From        models.OrderStatus
	Changed     bool
	SideEffects error
}

// Transition moves an order to target. Re-applying the current status is a
// successful no-op without side effects.
func (s *Service) Transition(ctx context.Context, orderID string, target models.OrderStatus, source models.Source) (*Result, error) {
	rid := logger.RequestID(ctx)
	if !validStatus(target) {
		return nil, fmt.Errorf("unknown status %q: %w", target, apperr.ErrInvalidInput)
	}

	var from models.OrderStatus
	o, changed, err := s.mutate(ctx, orderID, source, func(o *models.Order) (bool, error) {
		from = o.Status
		if o.Status == target {
			return false, nil
		}
		if !CanTransition(o.Type, o.Status, target) {
			return false, fmt.Errorf("order %s %s -> %s: %w", o.ID, o.Status, target, apperr.ErrInvalidTransition)
		}
		o.Status = target
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Order: o, From: from, Changed: changed}
	if !changed {
		s.logger.Debug(rid, "transition_noop", "order already in target status", "order_id", orderID, "status", target)
		return res, nil
	}
	s.logger.Info(rid, "order_transitioned", fmt.Sprintf("order %s %s -> %s", o.OrderNumber, from, target),
		"order_id", o.ID, "source", source)

	var sideErrs []error
	if err := s.store.AppendStatusLog(ctx, models.OrderStatusLog{
		OrderID: o.ID, From: from, To: target, Source: source, ChangedAt: o.UpdatedAt,
	}); err != nil {
		s.logger.Error(rid, "status_log_failed", "failed to append status log", err, "order_id", o.ID)
		sideErrs = append(sideErrs, fmt.Errorf("status log: %w", err))
	}
	if target.Terminal() && o.Type == models.OrderDineIn && o.TableID != nil {
		if err := s.tables.ReleaseForOrder(ctx, *o.TableID, o.ID); err != nil {
			s.logger.Error(rid, "table_release_failed", "failed to move table to cleaning", err,
				"order_id", o.ID, "table_id", *o.TableID)
			sideErrs = append(sideErrs, fmt.Errorf("release table %s: %w", *o.TableID, err))
		}
	}

	s.emitter.Emit(ctx, events.OrderUpdated(o))
	if target == models.OrderConfirmed {
		s.emitter.Emit(ctx, events.KitchenTicketFor(o, s.tableNumber(ctx, o)))
	}
	res.SideEffects = errors.Join(sideErrs...)
	return res, nil
}

func (s *Service) tableNumber(ctx context.Context, o *models.Order) int {
	if o.TableID == nil {
		return 0
	}
	t, err := s.tables.Get(ctx, *o.TableID)
	if err != nil {
		s.logger.Warn(logger.RequestID(ctx), "table_lookup_failed", "kitchen ticket without table number",
			"order_id", o.ID, "table_id", *o.TableID)
		return 0
	}
	return t.TableNumber
}

// mutate applies fn to a fresh copy of the order and writes it with a version
// check, retrying on conflicts. Errors returned by fn are final.
func (s *Service) mutate(ctx context.Context, orderID string, source models.Source, fn func(o *models.Order) (bool, error)) (*models.Order, bool, error) {
	type outcome struct {
		order   *models.Order
		changed bool
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	out, err := backoff.Retry(ctx, func() (outcome, error) {
		o, err := s.store.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return outcome{}, backoff.Permanent(fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound))
		}
		if err != nil {
			return outcome{}, backoff.Permanent(err)
		}
		changed, err := fn(o)
		if err != nil {
			return outcome{}, backoff.Permanent(err)
		}
		if !changed {
			return outcome{order: o}, nil
		}
		o.UpdatedAt = s.now().UTC()
		o.UpdatedBy = actorFrom(ctx, source)
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				s.logger.Debug(logger.RequestID(ctx), "order_version_conflict", "retrying order write", "order_id", orderID)
				return outcome{}, err
			}
			return outcome{}, backoff.Permanent(err)
		}
		return outcome{order: o, changed: true}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxWriteAttempts))
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, false, fmt.Errorf("order %s after %d attempts: %w", orderID, maxWriteAttempts, apperr.ErrConflict)
	}
	if err != nil {
		return nil, false, err
	}
	return out.order, out.changed, nil
}

// CreateInput is a staff-entered order.
type CreateInput struct {
	Type       models.OrderType
	TableID    string
	CustomerID string
	BranchID   string
	CreatedBy  string
	Items      []models.OrderItem
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	Seated     bool
	Delivery   *models.DeliveryInfo
}

// Create stores a new PENDING order. DINE_IN orders claim their table before
// the order is written; the claim is undone if the write fails.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Order, error) {
	rid := logger.RequestID(ctx)
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	number, err := s.store.NextOrderNumber(ctx, now)
	if err != nil {
		s.logger.Error(rid, "order_number_generation_failed", "failed to generate order number", err)
		return nil, fmt.Errorf("failed to generate order number: %w", err)
	}

	o := &models.Order{
		ID:            uuid.NewString(),
		OrderNumber:   number,
		Status:        models.OrderPending,
		Type:          in.Type,
		BranchID:      in.BranchID,
		CreatedBy:     in.CreatedBy,
		Items:         in.Items,
		Tax:           in.Tax,
		Discount:      in.Discount,
		PaymentStatus: models.PaymentPending,
		Delivery:      in.Delivery,
		CreatedAt:     now,
		UpdatedAt:     now,
		UpdatedBy:     in.CreatedBy,
	}
	if in.TableID != "" {
		o.TableID = &in.TableID
	}
	if in.CustomerID != "" {
		o.CustomerID = &in.CustomerID
	}
	ApplyTotals(o)

	if o.Type == models.OrderDineIn {
		if err := s.tables.ClaimForOrder(ctx, in.TableID, o.ID, in.Seated); err != nil {
			return nil, err
		}
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		s.logger.Error(rid, "order_creation_failed", "failed to create order", err)
		if o.Type == models.OrderDineIn {
			if rerr := s.tables.ReleaseClaim(ctx, in.TableID, o.ID); rerr != nil {
				s.logger.Error(rid, "table_claim_rollback_failed", "failed to release table claim", rerr, "table_id", in.TableID)
			}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.logger.Info(rid, "order_created", fmt.Sprintf("order %s created", o.OrderNumber), "order_id", o.ID, "type", o.Type)
	s.emitter.Emit(ctx, events.OrderUpdated(o))
	return o, nil
}

// CreateExternal stores an order built from a platform payload. The store's
// (externalPlatform, externalOrderId) uniqueness makes it idempotent: a
// duplicate returns the existing order with created=false.
func (s *Service) CreateExternal(ctx context.Context, o *models.Order) (*models.Order, bool, error) {
	rid := logger.RequestID(ctx)
	if o.ExternalOrderID == nil || o.ExternalPlatform == nil {
		return nil, false, fmt.Errorf("external order without platform key: %w", apperr.ErrInvalidPayload)
	}
	if existing, err := s.store.GetOrderByExternal(ctx, *o.ExternalPlatform, *o.ExternalOrderID); err == nil {
		s.logger.Info(rid, "external_order_exists", "order already ingested", "order_id", existing.ID)
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.OrderNumber == "" {
		number, err := s.store.NextOrderNumber(ctx, now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate order number: %w", err)
		}
		o.OrderNumber = number
	}
	if o.Status == "" {
		o.Status = models.OrderPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = models.PaymentPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.UpdatedBy == "" {
		o.UpdatedBy = o.CreatedBy
	}
	ApplyTotals(o)

	if err := s.store.CreateOrder(ctx, o); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, gerr := s.store.GetOrderByExternal(ctx, *o.ExternalPlatform, *o.ExternalOrderID)
			if gerr == nil {
				s.logger.Info(rid, "external_order_race", "concurrent delivery already created the order", "order_id", existing.ID)
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create external order: %w", err)
	}
	s.logger.Info(rid, "external_order_created", fmt.Sprintf("order %s created from %s", o.OrderNumber, *o.ExternalPlatform),
		"order_id", o.ID, "external_order_id", *o.ExternalOrderID)
	s.emitter.Emit(ctx, events.OrderUpdated(o))
	return o, true, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	return o, err
}

func (s *Service) GetByExternal(ctx context.Context, platform, externalID string) (*models.Order, error) {
	o, err := s.store.GetOrderByExternal(ctx, platform, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("external order %s/%s: %w", platform, externalID, apperr.ErrNotFound)
	}
	return o, err
}

// Recent backs the polling fallback. limit is clamped to [1, MaxRecentLimit].
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.Order, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return s.store.ListRecentOrders(ctx, limit)
}

func (s *Service) History(ctx context.Context, orderID string) ([]models.OrderStatusLog, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListStatusLog(ctx, orderID)
}

// Seat marks the guests of a DINE_IN order as seated; the table goes
// RESERVED -> OCCUPIED.
func (s *Service) Seat(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.dineIn(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.tables.SeatOrder(ctx, *o.TableID, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

// ReassignTable moves a DINE_IN order to another AVAILABLE table.
func (s *Service) ReassignTable(ctx context.Context, orderID, tableID string) (*models.Order, error) {
	rid := logger.RequestID(ctx)
	o, err := s.dineIn(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if tableID == "" {
		return nil, fmt.Errorf("table id required: %w", apperr.ErrInvalidInput)
	}
	from := *o.TableID
	if from == tableID {
		return o, nil
	}
	if err := s.tables.Reassign(ctx, o.ID, from, tableID); err != nil {
		return nil, err
	}
	o, _, err = s.mutate(ctx, orderID, models.SourceStaff, func(o *models.Order) (bool, error) {
		o.TableID = &tableID
		return true, nil
	})
	if err != nil {
		s.logger.Error(rid, "reassign_write_failed", "reverting table reassignment", err, "order_id", orderID)
		if rerr := s.tables.Reassign(ctx, orderID, tableID, from); rerr != nil {
			s.logger.Error(rid, "reassign_revert_failed", "failed to revert table reassignment", rerr, "order_id", orderID)
		}
		return nil, err
	}
	s.emitter.Emit(ctx, events.OrderUpdated(o))
	return o, nil
}

func (s *Service) dineIn(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Type != models.OrderDineIn || o.TableID == nil {
		return nil, fmt.Errorf("order %s is not a dine-in order: %w", orderID, apperr.ErrInvalidInput)
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, apperr.ErrInvalidTransition)
	}
	return o, nil
}

// UpdateDeliveryStatus sets the delivery record of a DELIVERY order.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, orderID string, status models.DeliveryStatus, source models.Source) (*models.Order, error) {
	o, changed, err := s.mutate(ctx, orderID, source, func(o *models.Order) (bool, error) {
		if o.Delivery == nil {
			return false, fmt.Errorf("order %s has no delivery record: %w", o.ID, apperr.ErrInvalidInput)
		}
		if o.Delivery.DeliveryStatus == status {
			return false, nil
		}
		o.Delivery.DeliveryStatus = status
		if status == models.DeliveryDelivered {
			at := s.now().UTC()
			o.Delivery.ActualTime = &at
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emitter.Emit(ctx, events.OrderUpdated(o))
	}
	return o, nil
}

// SetPaymentStatus updates the order's copy of its payment status.
func (s *Service) SetPaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.Order, error) {
	o, changed, err := s.mutate(ctx, orderID, models.SourcePayment, func(o *models.Order) (bool, error) {
		if o.PaymentStatus == status {
			return false, nil
		}
		o.PaymentStatus = status
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.emitter.Emit(ctx, events.OrderUpdated(o))
	}
	return o, nil
}
