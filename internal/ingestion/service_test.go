package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/events"
	"restaurant-sync/internal/ingestion/platforms"
	"restaurant-sync/internal/orders"
	"restaurant-sync/internal/store/memory"
	"restaurant-sync/internal/tables"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	placed = `{"event":"order.placed","data":{"order_id":"SW-1","customer":{"name":"Ravi","address":"12 MG Road"},
		"items":[{"id":"m-1","name":"Dosa","quantity":1,"price":120}],"delivery_fee":25}}`
	delivered = `{"event":"order.status_updated","data":{"order_id":"SW-1","status":"DELIVERED"}}`
	preparing = `{"event":"order.status_updated","data":{"order_id":"SW-1","status":"PREPARING"}}`
	pickedUp  = `{"event":"order.status_updated","data":{"order_id":"SW-1","status":"PICKED_UP"}}`
	cancelled = `{"event":"order.cancelled","data":{"order_id":"SW-1"}}`
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store  *memory.Store
	orders *orders.Service
	svc    *Service
	clock  *clock
	rec    *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, p := range []string{"swiggy", "zomato"} {
		require.NoError(t, st.SaveIntegration(ctx, &models.Integration{ID: "int-" + p, Platform: p, Active: true}))
	}
	rec := &events.Recorder{}
	ord := orders.NewService(st, tables.NewCoordinator(st, rec, logger.Nop()), rec, logger.Nop())
	c := &clock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	svc := newService(st, ord, platforms.Default(), Config{
		Defaults:   platforms.Defaults{BranchID: "main", UserID: "system"},
		PendingTTL: time.Minute,
	}, logger.Nop(), c.now)
	return &fixture{store: st, orders: ord, svc: svc, clock: c, rec: rec}
}

func (f *fixture) order(t *testing.T) *models.Order {
	t.Helper()
	o, err := f.orders.GetByExternal(context.Background(), "swiggy", "SW-1")
	require.NoError(t, err)
	return o
}

func (f *fixture) logStatuses() []models.WebhookStatus {
	var out []models.WebhookStatus
	for _, l := range f.store.WebhookLogs() {
		out = append(out, l.Status)
	}
	return out
}

func TestDuplicateOrderPlacedCreatesOneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))

	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, []models.WebhookStatus{models.WebhookProcessed, models.WebhookProcessed}, f.logStatuses())

	o := f.order(t)
	assert.Equal(t, models.OrderDelivery, o.Type)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, "main", o.BranchID)
	assert.Equal(t, "system", o.CreatedBy)
}

func TestConcurrentOrderPlacedCreatesOneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestPlacedThenDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(delivered)))

	o := f.order(t)
	assert.Equal(t, models.OrderCompleted, o.Status)
	require.NotNil(t, o.Delivery)
	assert.Equal(t, models.DeliveryDelivered, o.Delivery.DeliveryStatus)
	assert.NotNil(t, o.Delivery.ActualTime)
	assert.Equal(t, 1, f.store.OrderCount())

	history, err := f.orders.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SourceWebhook, history[0].Source)
}

func TestRedeliveredStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(preparing)))
	f.rec.Reset()

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(preparing)))
	assert.Empty(t, f.rec.Named(events.OrderUpdate))
	assert.Equal(t, models.OrderPreparing, f.order(t).Status)
}

func TestStaleStatusIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(delivered)))

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(pickedUp)))
	o := f.order(t)
	assert.Equal(t, models.OrderCompleted, o.Status)
	assert.Equal(t, models.DeliveryDelivered, o.Delivery.DeliveryStatus)
}

func TestCancelledMarksDeliveryFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(cancelled)))

	o := f.order(t)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, models.DeliveryFailed, o.Delivery.DeliveryStatus)
}

func TestOutOfOrderUpdateIsReplayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(preparing)))
	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(pickedUp)))
	assert.Zero(t, f.store.OrderCount())
	assert.Equal(t, 1, f.svc.SweepPending())

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	o := f.order(t)
	assert.Equal(t, models.OrderReady, o.Status)
	assert.Equal(t, models.DeliveryPickedUp, o.Delivery.DeliveryStatus)
	assert.Zero(t, f.svc.SweepPending())
}

func TestBufferedUpdatesExpire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(preparing)))
	f.clock.advance(2 * time.Minute)
	assert.Zero(t, f.svc.SweepPending())

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	assert.Equal(t, models.OrderPending, f.order(t).Status)
}

func TestIngestErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		platform string
		payload  string
		wantErr  error
		wantLog  []models.WebhookStatus
	}{
		{"unknown integration", "doordash", placed, apperr.ErrIntegrationNotFound, nil},
		{"inactive integration", "foodpanda", placed, apperr.ErrIntegrationNotFound, nil},
		{"no handler", "ubereats", placed, apperr.ErrUnsupportedService, nil},
		{"not json", "swiggy", `{"event":`, apperr.ErrInvalidPayload, []models.WebhookStatus{models.WebhookFailed}},
		{"no items", "swiggy", `{"event":"order.placed","data":{"order_id":"SW-9","items":[]}}`, apperr.ErrInvalidPayload,
			[]models.WebhookStatus{models.WebhookFailed}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			require.NoError(t, f.store.SaveIntegration(ctx, &models.Integration{ID: "int-old", Platform: "foodpanda", Active: false}))
			require.NoError(t, f.store.SaveIntegration(ctx, &models.Integration{ID: "int-ue", Platform: "ubereats", Active: true}))

			err := f.svc.Ingest(ctx, tt.platform, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantLog, f.logStatuses())
		})
	}
}

func TestUnknownEventIsProcessed(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Ingest(context.Background(), "zomato", []byte(`{"event_type":"RIDER_ASSIGNED","order":{"id":"ZO-1"}}`))
	require.NoError(t, err)

	logs := f.store.WebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.WebhookProcessed, logs[0].Status)
	assert.Equal(t, "RIDER_ASSIGNED", logs[0].Event)
	assert.Equal(t, "int-zomato", logs[0].IntegrationID)
	assert.NotNil(t, logs[0].ProcessedAt)
}

type brokenOrders struct{ Orders }

func (brokenOrders) CreateExternal(context.Context, *models.Order) (*models.Order, bool, error) {
	return nil, false, errors.New("connection reset")
}

func TestProcessingFailureMarksLogFailed(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, brokenOrders{f.orders}, nil, Config{}, logger.Nop())

	err := svc.Ingest(context.Background(), "swiggy", []byte(placed))
	require.Error(t, err)
	assert.Equal(t, 500, apperr.HTTPStatus(err))

	logs := f.store.WebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.WebhookFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "connection reset")
}

func TestIntegrationOverridesDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveIntegration(ctx, &models.Integration{
		ID: "int-swiggy", Platform: "swiggy", Active: true, BranchID: "koramangala", DefaultUserID: "swiggy-bot",
	}))

	require.NoError(t, f.svc.Ingest(ctx, "swiggy", []byte(placed)))
	o := f.order(t)
	assert.Equal(t, "koramangala", o.BranchID)
	assert.Equal(t, "swiggy-bot", o.CreatedBy)
}

// placedDuringLookup runs hook inside the first GetByExternal that misses,
// after the miss has been observed.
type placedDuringLookup struct {
	*orders.Service
	once sync.Once
	hook func()
}

func (p *placedDuringLookup) GetByExternal(ctx context.Context, platform, externalID string) (*models.Order, error) {
	o, err := p.Service.GetByExternal(ctx, platform, externalID)
	if errors.Is(err, apperr.ErrNotFound) {
		p.once.Do(p.hook)
	}
	return o, err
}

func TestUpdateRacingOrderPlacedIsApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	racing := &placedDuringLookup{Service: f.orders}
	svc := newService(f.store, racing, platforms.Default(), Config{
		Defaults:   platforms.Defaults{BranchID: "main", UserID: "system"},
		PendingTTL: time.Minute,
	}, logger.Nop(), f.clock.now)
	racing.hook = func() {
		require.NoError(t, svc.Ingest(ctx, "swiggy", []byte(placed)))
	}

	require.NoError(t, svc.Ingest(ctx, "swiggy", []byte(delivered)))

	o := f.order(t)
	assert.Equal(t, models.OrderCompleted, o.Status)
	require.NotNil(t, o.Delivery)
	assert.Equal(t, models.DeliveryDelivered, o.Delivery.DeliveryStatus)
	assert.Zero(t, svc.SweepPending())
	assert.Equal(t, 1, f.store.OrderCount())
}
