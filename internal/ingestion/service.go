// Package ingestion applies delivery-platform webhooks to the engine. Every
// webhook is logged before it is processed; order creation is idempotent on
// (platform, externalOrderId) and status updates that beat their order are
// held briefly and replayed once the order exists.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/ingestion/platforms"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/google/uuid"
)

const (
	DefaultPendingTTL    = 5 * time.Minute
	DefaultPendingPerKey = 16
)

type Orders interface {
	CreateExternal(ctx context.Context, o *models.Order) (*models.Order, bool, error)
	GetByExternal(ctx context.Context, platform, externalID string) (*models.Order, error)
	Transition(ctx context.Context, orderID string, target models.OrderStatus, source models.Source) (*orders.Result, error)
	UpdateDeliveryStatus(ctx context.Context, orderID string, status models.DeliveryStatus, source models.Source) (*models.Order, error)
}

type Store interface {
	store.IntegrationStore
	store.WebhookStore
}

type Config struct {
	Defaults      platforms.Defaults
	PendingTTL    time.Duration
	PendingPerKey int
}

type Service struct {
	store    Store
	orders   Orders
	registry *platforms.Registry
	pending  *pendingBuffer
	defaults platforms.Defaults
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(st Store, ord Orders, registry *platforms.Registry, cfg Config, log *logger.Logger) *Service {
	return newService(st, ord, registry, cfg, log, time.Now)
}

func newService(st Store, ord Orders, registry *platforms.Registry, cfg Config, log *logger.Logger, now func() time.Time) *Service {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.PendingPerKey <= 0 {
		cfg.PendingPerKey = DefaultPendingPerKey
	}
	if registry == nil {
		registry = platforms.Default()
	}
	return &Service{
		store:    st,
		orders:   ord,
		registry: registry,
		pending:  newPendingBuffer(cfg.PendingTTL, cfg.PendingPerKey, now),
		defaults: cfg.Defaults,
		logger:   log,
		now:      now,
	}
}

// Ingest processes one webhook from platform. The returned error classifies
// with apperr: IntegrationNotFound, UnsupportedService and InvalidPayload
// are the sender's fault; anything else should be retried by the platform.
func (s *Service) Ingest(ctx context.Context, platform string, payload []byte) error {
	rid := logger.RequestID(ctx)

	integration, err := s.store.GetIntegration(ctx, platform)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !integration.Active) {
		return fmt.Errorf("platform %q: %w", platform, apperr.ErrIntegrationNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load integration %s: %w", platform, err)
	}
	handler, ok := s.registry.Get(platform)
	if !ok {
		return fmt.Errorf("platform %q: %w", platform, apperr.ErrUnsupportedService)
	}

	entry := &models.WebhookLog{
		ID:            uuid.NewString(),
		IntegrationID: integration.ID,
		Event:         platforms.EventName(payload, "event", "event_type", "type"),
		Payload:       payload,
		Status:        models.WebhookPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateWebhookLog(ctx, entry); err != nil {
		s.logger.Error(rid, "webhook_log_failed", "failed to persist webhook before processing", err, "platform", platform)
		return fmt.Errorf("failed to log webhook: %w", err)
	}

	perr := s.dispatch(ctx, integration, handler, payload)
	if perr != nil {
		s.logger.Error(rid, "webhook_failed", "webhook processing failed", perr,
			"platform", platform, "webhook_id", entry.ID, "event", entry.Event)
		if err := s.store.MarkWebhookLog(ctx, entry.ID, models.WebhookFailed, perr.Error(), s.now().UTC()); err != nil {
			s.logger.Error(rid, "webhook_mark_failed", "failed to mark webhook failed", err, "webhook_id", entry.ID)
		}
		return perr
	}
	if err := s.store.MarkWebhookLog(ctx, entry.ID, models.WebhookProcessed, "", s.now().UTC()); err != nil {
		s.logger.Error(rid, "webhook_mark_failed", "failed to mark webhook processed", err, "webhook_id", entry.ID)
		return fmt.Errorf("failed to mark webhook %s processed: %w", entry.ID, err)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, integration *models.Integration, h platforms.Handler, payload []byte) error {
	rid := logger.RequestID(ctx)
	env, err := h.Parse(payload)
	if err != nil {
		return err
	}

	switch env.Kind {
	case platforms.OrderPlaced:
		return s.orderPlaced(ctx, integration, h, payload, env)
	case platforms.StatusUpdated, platforms.Cancelled:
		return s.orderChanged(ctx, h, env)
	default:
		s.logger.Info(rid, "webhook_event_ignored", fmt.Sprintf("unhandled %s event %q", h.Platform(), env.Event),
			"external_order_id", env.ExternalOrderID)
		return nil
	}
}

func (s *Service) orderPlaced(ctx context.Context, integration *models.Integration, h platforms.Handler, payload []byte, env platforms.Envelope) error {
	defaults := s.defaults
	if integration.BranchID != "" {
		defaults.BranchID = integration.BranchID
	}
	if integration.DefaultUserID != "" {
		defaults.UserID = integration.DefaultUserID
	}
	o, err := h.BuildOrder(payload, defaults)
	if err != nil {
		return err
	}
	o, _, err = s.orders.CreateExternal(ctx, o)
	if err != nil {
		return err
	}
	return s.replay(ctx, h, o, env.ExternalOrderID)
}

// replay applies the updates buffered for an order that now exists.
func (s *Service) replay(ctx context.Context, h platforms.Handler, o *models.Order, externalID string) error {
	for _, buffered := range s.pending.take(pendingKey(h.Platform(), externalID)) {
		s.logger.Info(logger.RequestID(ctx), "webhook_replayed", fmt.Sprintf("replaying buffered %s", buffered.Event),
			"order_id", o.ID, "external_order_id", externalID)
		if err := s.apply(ctx, h, o, buffered); err != nil {
			return fmt.Errorf("replay %s for %s: %w", buffered.Event, externalID, err)
		}
	}
	return nil
}

func (s *Service) orderChanged(ctx context.Context, h platforms.Handler, env platforms.Envelope) error {
	rid := logger.RequestID(ctx)
	o, err := s.orders.GetByExternal(ctx, h.Platform(), env.ExternalOrderID)
	if errors.Is(err, apperr.ErrNotFound) {
		if dropped := s.pending.add(pendingKey(h.Platform(), env.ExternalOrderID), env); dropped {
			s.logger.Warn(rid, "webhook_buffer_full", "dropped oldest buffered update",
				"external_order_id", env.ExternalOrderID)
		}
		s.logger.Info(rid, "webhook_buffered", fmt.Sprintf("%s for unknown order held for replay", env.Event),
			"platform", h.Platform(), "external_order_id", env.ExternalOrderID)

		// The order-placed may have created the order and drained the buffer
		// between the lookup and add above.
		o, err = s.orders.GetByExternal(ctx, h.Platform(), env.ExternalOrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.replay(ctx, h, o, env.ExternalOrderID)
	}
	if err != nil {
		return err
	}
	return s.apply(ctx, h, o, env)
}

// apply runs a status-updated or cancelled envelope against a known order.
// Updates the state machine rejects as stale are acknowledged.
func (s *Service) apply(ctx context.Context, h platforms.Handler, o *models.Order, env platforms.Envelope) error {
	rid := logger.RequestID(ctx)

	var m platforms.StatusMapping
	switch env.Kind {
	case platforms.Cancelled:
		m = platforms.StatusMapping{Order: models.OrderCancelled, Delivery: models.DeliveryFailed}
	case platforms.StatusUpdated:
		var ok bool
		if m, ok = h.MapStatus(env.Status); !ok {
			s.logger.Warn(rid, "webhook_status_unknown", fmt.Sprintf("unmapped %s status %q", h.Platform(), env.Status),
				"order_id", o.ID)
			return nil
		}
	default:
		return nil
	}

	if m.Order != "" {
		res, err := s.orders.Transition(ctx, o.ID, m.Order, models.SourceWebhook)
		if errors.Is(err, apperr.ErrInvalidTransition) {
			s.logger.Info(rid, "webhook_stale", fmt.Sprintf("ignoring stale %s status %q", h.Platform(), env.Status),
				"order_id", o.ID)
			return nil
		}
		if err != nil {
			return err
		}
		if res.SideEffects != nil {
			s.logger.Warn(rid, "webhook_side_effects", res.SideEffects.Error(), "order_id", o.ID)
		}
	}
	if m.Delivery != "" && o.Type == models.OrderDelivery {
		if _, err := s.orders.UpdateDeliveryStatus(ctx, o.ID, m.Delivery, models.SourceWebhook); err != nil {
			return err
		}
	}
	return nil
}

// SweepPending drops expired buffered updates and reports how many orders
// still have updates waiting.
func (s *Service) SweepPending() int {
	return s.pending.sweep()
}

// RunSweeper calls SweepPending every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.SweepPending(); n > 0 {
				s.logger.Debug("", "webhook_buffer_sweep", fmt.Sprintf("%d orders with buffered updates", n))
			}
		}
	}
}
