// Package payments reconciles payments with their orders. Direct methods
// settle immediately; gateway methods are confirmed later by VerifyPayment.
// No lock is held while a gateway call is in flight.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultVerifyTimeout = 10 * time.Second
	maxWriteAttempts     = 3
)

// Orders is the part of the order service payments drive.
type Orders interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
	Transition(ctx context.Context, orderID string, target models.OrderStatus, source models.Source) (*orders.Result, error)
	SetPaymentStatus(ctx context.Context, orderID string, status models.PaymentStatus) (*models.Order, error)
}

type Service struct {
	store         store.PaymentStore
	orders        Orders
	gateways      *Registry
	logger        *logger.Logger
	verifyTimeout time.Duration
	now           func() time.Time
}

func NewService(st store.PaymentStore, ord Orders, gateways *Registry, log *logger.Logger, verifyTimeout time.Duration) *Service {
	if verifyTimeout <= 0 {
		verifyTimeout = DefaultVerifyTimeout
	}
	if gateways == nil {
		gateways = NewRegistry()
	}
	return &Service{
		store:         st,
		orders:        ord,
		gateways:      gateways,
		logger:        log,
		verifyTimeout: verifyTimeout,
		now:           time.Now,
	}
}

// Result is a committed payment plus the outcome of the order follow-up.
// SideEffects is set when the payment was written but the order could not
// be advanced.
type Result struct {
	Payment     *models.Payment `json:"payment"`
	Order       *models.Order   `json:"order,omitempty"`
	SideEffects error           `json:"-"`
}

type CreateInput struct {
	OrderID   string
	Amount    decimal.Decimal
	Method    models.PaymentMethod
	Gateway   string
	Reference string
}

func (s *Service) CreatePayment(ctx context.Context, in CreateInput) (*Result, error) {
	rid := logger.RequestID(ctx)
	switch in.Method {
	case models.MethodCash, models.MethodCard, models.MethodUPI, models.MethodOnline:
	default:
		return nil, fmt.Errorf("unknown payment method %q: %w", in.Method, apperr.ErrInvalidInput)
	}

	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderCancelled {
		return nil, fmt.Errorf("order %s is cancelled: %w", o.ID, apperr.ErrInvalidTransition)
	}
	if _, err := s.store.GetPaymentByOrder(ctx, o.ID); err == nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, apperr.ErrDuplicatePayment)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	amount := in.Amount
	if amount.IsZero() {
		amount = o.GrandTotal
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payment amount must be positive: %w", apperr.ErrInvalidInput)
	}

	now := s.now().UTC()
	p := &models.Payment{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		Amount:           amount,
		PaymentMethod:    in.Method,
		PaymentStatus:    models.PaymentPending,
		PaymentReference: in.Reference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if in.Method.Direct() {
		p.PaymentStatus = models.PaymentCompleted
	} else {
		gw, err := s.gateways.Get(in.Gateway)
		if err != nil {
			return nil, err
		}
		gctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
		gatewayOrderID, err := gw.CreateOrder(gctx, o.OrderNumber, amount)
		cancel()
		if err != nil {
			s.logger.Error(rid, "gateway_order_failed", "failed to create gateway order", err, "order_id", o.ID, "gateway", in.Gateway)
			return nil, fmt.Errorf("%w: %w", apperr.ErrGateway, err)
		}
		p.GatewayName = gw.Name()
		p.GatewayOrderID = gatewayOrderID
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("order %s: %w", o.ID, apperr.ErrDuplicatePayment)
		}
		s.logger.Error(rid, "payment_create_failed", "failed to store payment", err, "order_id", o.ID)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	s.logger.Info(rid, "payment_created", fmt.Sprintf("payment %s %s for order %s", p.PaymentMethod, p.PaymentStatus, o.OrderNumber),
		"payment_id", p.ID, "order_id", o.ID)

	res := &Result{Payment: p, Order: o}
	if p.PaymentStatus == models.PaymentCompleted {
		res.Order, res.SideEffects = s.settleOrder(ctx, o.ID)
	}
	return res, nil
}

type VerifyInput struct {
	GatewayName      string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPayment confirms a gateway payment. A decline marks the payment
// FAILED and leaves the order alone; an ambiguous outcome (timeout, network)
// leaves it PENDING.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyInput) (*Result, error) {
	rid := logger.RequestID(ctx)
	p, err := s.store.GetPaymentByGateway(ctx, in.GatewayName, in.GatewayOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment %s/%s: %w", in.GatewayName, in.GatewayOrderID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	switch p.PaymentStatus {
	case models.PaymentCompleted:
		return &Result{Payment: p}, nil
	case models.PaymentRefunded:
		return nil, fmt.Errorf("payment %s is refunded: %w", p.ID, apperr.ErrInvalidTransition)
	}

	gw, err := s.gateways.Get(p.GatewayName)
	if err != nil {
		return nil, err
	}
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	verr := gw.Verify(vctx, Verification{
		GatewayOrderID:   in.GatewayOrderID,
		GatewayPaymentID: in.GatewayPaymentID,
		Signature:        in.Signature,
	})
	cancel()

	switch {
	case verr == nil:
		p, err = s.updatePayment(ctx, p.ID, func(p *models.Payment) (bool, error) {
			if p.PaymentStatus == models.PaymentCompleted {
				return false, nil
			}
			p.PaymentStatus = models.PaymentCompleted
			p.GatewayPaymentID = in.GatewayPaymentID
			if p.PaymentReference == "" {
				p.PaymentReference = in.GatewayPaymentID
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info(rid, "payment_verified", "gateway confirmed payment", "payment_id", p.ID, "gateway", p.GatewayName)
		res := &Result{Payment: p}
		res.Order, res.SideEffects = s.settleOrder(ctx, p.OrderID)
		return res, nil

	case errors.Is(verr, ErrDeclined):
		p, err = s.updatePayment(ctx, p.ID, func(p *models.Payment) (bool, error) {
			if p.PaymentStatus != models.PaymentPending {
				return false, nil
			}
			p.PaymentStatus = models.PaymentFailed
			if in.GatewayPaymentID != "" {
				p.GatewayPaymentID = in.GatewayPaymentID
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.orders.SetPaymentStatus(ctx, p.OrderID, models.PaymentFailed); err != nil {
			s.logger.Error(rid, "order_payment_mirror_failed", "failed to mirror payment status", err, "order_id", p.OrderID)
		}
		s.logger.Warn(rid, "payment_declined", verr.Error(), "payment_id", p.ID)
		return nil, fmt.Errorf("payment %s: %w: %w", p.ID, apperr.ErrPaymentDeclined, verr)

	default:
		s.logger.Error(rid, "payment_verify_inconclusive", "gateway verification inconclusive, payment stays pending", verr,
			"payment_id", p.ID, "gateway", p.GatewayName)
		return nil, fmt.Errorf("payment %s: %w: %w", p.ID, apperr.ErrGateway, verr)
	}
}

// settleOrder mirrors COMPLETED onto the order and completes it, which also
// sends a DINE_IN table to CLEANING.
func (s *Service) settleOrder(ctx context.Context, orderID string) (*models.Order, error) {
	rid := logger.RequestID(ctx)
	var errs []error
	if _, err := s.orders.SetPaymentStatus(ctx, orderID, models.PaymentCompleted); err != nil {
		s.logger.Error(rid, "order_payment_mirror_failed", "failed to mirror payment status", err, "order_id", orderID)
		errs = append(errs, err)
	}
	res, err := s.orders.Transition(ctx, orderID, models.OrderCompleted, models.SourcePayment)
	if err != nil {
		s.logger.Error(rid, "order_completion_failed", "payment settled but order not completed", err, "order_id", orderID)
		errs = append(errs, err)
		o, _ := s.orders.Get(ctx, orderID)
		return o, errors.Join(errs...)
	}
	if res.SideEffects != nil {
		errs = append(errs, res.SideEffects)
	}
	return res.Order, errors.Join(errs...)
}

// ProcessRefund refunds a COMPLETED payment. amount defaults to the full
// payment. Order and table state are not reverted.
func (s *Service) ProcessRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (*models.Payment, error) {
	rid := logger.RequestID(ctx)
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if p.PaymentStatus != models.PaymentCompleted {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.PaymentStatus, apperr.ErrInvalidTransition)
	}
	refund := p.Amount
	if amount != nil {
		refund = *amount
	}
	if !refund.IsPositive() || refund.GreaterThan(p.Amount) {
		return nil, fmt.Errorf("refund amount %s outside (0, %s]: %w", refund, p.Amount, apperr.ErrInvalidInput)
	}

	var gatewayRefundID string
	if !p.PaymentMethod.Direct() && p.GatewayName != "" {
		gw, err := s.gateways.Get(p.GatewayName)
		if err != nil {
			return nil, err
		}
		gctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
		gatewayRefundID, err = gw.Refund(gctx, p.GatewayPaymentID, refund)
		cancel()
		if err != nil {
			s.logger.Error(rid, "gateway_refund_failed", "gateway refund failed", err, "payment_id", p.ID)
			return nil, fmt.Errorf("payment %s: %w: %w", p.ID, apperr.ErrGateway, err)
		}
	}

	p, err = s.updatePayment(ctx, p.ID, func(p *models.Payment) (bool, error) {
		if p.PaymentStatus != models.PaymentCompleted {
			return false, fmt.Errorf("payment %s is %s: %w", p.ID, p.PaymentStatus, apperr.ErrInvalidTransition)
		}
		p.PaymentStatus = models.PaymentRefunded
		p.RefundAmount = refund
		p.RefundReason = reason
		if gatewayRefundID != "" {
			p.PaymentReference = gatewayRefundID
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.SetPaymentStatus(ctx, p.OrderID, models.PaymentRefunded); err != nil {
		s.logger.Error(rid, "order_payment_mirror_failed", "failed to mirror payment status", err, "order_id", p.OrderID)
	}
	s.logger.Info(rid, "payment_refunded", fmt.Sprintf("refunded %s", refund.StringFixed(2)), "payment_id", p.ID)
	return p, nil
}

func (s *Service) Get(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, apperr.ErrNotFound)
	}
	return p, err
}

func (s *Service) updatePayment(ctx context.Context, id string, fn func(p *models.Payment) (bool, error)) (*models.Payment, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	p, err := backoff.Retry(ctx, func() (*models.Payment, error) {
		p, err := s.store.GetPayment(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		changed, err := fn(p)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !changed {
			return p, nil
		}
		p.UpdatedAt = s.now().UTC()
		if err := s.store.UpdatePayment(ctx, p); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return p, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxWriteAttempts))
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, fmt.Errorf("payment %s: %w", id, apperr.ErrConflict)
	}
	return p, err
}
