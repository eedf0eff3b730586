// Package memory is an in-process implementation of store.Store. It enforces
// the same uniqueness and version rules as the Postgres schema and backs the
// test suites and the --memory dev mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/models"
)

type Store struct {
	mu sync.Mutex

	orders      map[string]*models.Order
	orderNums   map[string]string
	externalIDs map[string]string
	statusLog   map[string][]models.OrderStatusLog
	logSeq      int64
	daySeq      map[string]int

	tables map[string]*models.Table

	reservations map[string]*models.Reservation
	slots        map[string]string

	payments     map[string]*models.Payment
	paymentOrder map[string]string

	integrations map[string]*models.Integration
	webhooks     map[string]*models.WebhookLog
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:       make(map[string]*models.Order),
		orderNums:    make(map[string]string),
		externalIDs:  make(map[string]string),
		statusLog:    make(map[string][]models.OrderStatusLog),
		daySeq:       make(map[string]int),
		tables:       make(map[string]*models.Table),
		reservations: make(map[string]*models.Reservation),
		slots:        make(map[string]string),
		payments:     make(map[string]*models.Payment),
		paymentOrder: make(map[string]string),
		integrations: make(map[string]*models.Integration),
		webhooks:     make(map[string]*models.WebhookLog),
	}
}

func externalKey(platform, id string) string { return platform + "\x00" + id }

func slotKey(r *models.Reservation) string {
	return *r.TableID + "\x00" + r.ReservationDate + "\x00" + r.ReservationTime
}

// Orders

func (s *Store) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, store.ErrDuplicate)
	}
	if _, ok := s.orderNums[o.OrderNumber]; ok {
		return fmt.Errorf("order number %s: %w", o.OrderNumber, store.ErrDuplicate)
	}
	var extKey string
	if o.ExternalOrderID != nil && o.ExternalPlatform != nil {
		extKey = externalKey(*o.ExternalPlatform, *o.ExternalOrderID)
		if _, ok := s.externalIDs[extKey]; ok {
			return fmt.Errorf("external order %s/%s: %w", *o.ExternalPlatform, *o.ExternalOrderID, store.ErrDuplicate)
		}
	}

	if o.Version == 0 {
		o.Version = 1
	}
	s.orders[o.ID] = o.Clone()
	s.orderNums[o.OrderNumber] = o.ID
	if extKey != "" {
		s.externalIDs[extKey] = o.ID
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *Store) GetOrderByExternal(_ context.Context, platform, externalID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.externalIDs[externalKey(platform, externalID)]
	if !ok {
		return nil, fmt.Errorf("external order %s/%s: %w", platform, externalID, store.ErrNotFound)
	}
	return s.orders[id].Clone(), nil
}

func (s *Store) UpdateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, store.ErrNotFound)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("order %s at version %d: %w", o.ID, o.Version, store.ErrVersionConflict)
	}
	o.Version++
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Store) ListRecentOrders(_ context.Context, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) NextOrderNumber(_ context.Context, day time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := day.UTC().Format("20060102")
	s.daySeq[d]++
	return fmt.Sprintf("ORD_%s_%03d", d, s.daySeq[d]), nil
}

func (s *Store) AppendStatusLog(_ context.Context, entry models.OrderStatusLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logSeq++
	entry.ID = s.logSeq
	s.statusLog[entry.OrderID] = append(s.statusLog[entry.OrderID], entry)
	return nil
}

func (s *Store) ListStatusLog(_ context.Context, orderID string) ([]models.OrderStatusLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.OrderStatusLog(nil), s.statusLog[orderID]...), nil
}

// Tables

func (s *Store) CreateTable(_ context.Context, t *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[t.ID]; ok {
		return fmt.Errorf("table %s: %w", t.ID, store.ErrDuplicate)
	}
	for _, other := range s.tables {
		if other.BranchID == t.BranchID && other.TableNumber == t.TableNumber {
			return fmt.Errorf("table number %d in branch %s: %w", t.TableNumber, t.BranchID, store.ErrDuplicate)
		}
	}
	if t.Version == 0 {
		t.Version = 1
	}
	c := *t
	s.tables[t.ID] = &c
	return nil
}

func (s *Store) GetTable(_ context.Context, id string) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, store.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *Store) UpdateTable(_ context.Context, t *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tables[t.ID]
	if !ok {
		return fmt.Errorf("table %s: %w", t.ID, store.ErrNotFound)
	}
	if cur.Version != t.Version {
		return fmt.Errorf("table %s at version %d: %w", t.ID, t.Version, store.ErrVersionConflict)
	}
	t.Version++
	c := *t
	s.tables[t.ID] = &c
	return nil
}

func (s *Store) ListTables(_ context.Context) ([]*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Table, 0, len(s.tables))
	for _, t := range s.tables {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].TableNumber < out[j].TableNumber
	})
	return out, nil
}

// Reservations

func cloneReservation(r *models.Reservation) *models.Reservation {
	c := *r
	if r.TableID != nil {
		id := *r.TableID
		c.TableID = &id
	}
	return &c
}

func (s *Store) CreateReservation(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s: %w", r.ID, store.ErrDuplicate)
	}
	if r.TableID != nil && r.Status.Active() {
		key := slotKey(r)
		if _, taken := s.slots[key]; taken {
			return fmt.Errorf("slot %s %s on table %s: %w", r.ReservationDate, r.ReservationTime, *r.TableID, store.ErrDuplicate)
		}
		s.slots[key] = r.ID
	}
	if r.Version == 0 {
		r.Version = 1
	}
	s.reservations[r.ID] = cloneReservation(r)
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, store.ErrNotFound)
	}
	return cloneReservation(r), nil
}

func (s *Store) UpdateReservation(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reservations[r.ID]
	if !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, store.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("reservation %s at version %d: %w", r.ID, r.Version, store.ErrVersionConflict)
	}

	if cur.TableID != nil && cur.Status.Active() {
		delete(s.slots, slotKey(cur))
	}
	if r.TableID != nil && r.Status.Active() {
		key := slotKey(r)
		if holder, taken := s.slots[key]; taken && holder != r.ID {
			if cur.TableID != nil && cur.Status.Active() {
				s.slots[slotKey(cur)] = cur.ID
			}
			return fmt.Errorf("slot on table %s: %w", *r.TableID, store.ErrDuplicate)
		}
		s.slots[key] = r.ID
	}

	r.Version++
	s.reservations[r.ID] = cloneReservation(r)
	return nil
}

// Payments

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paymentOrder[p.OrderID]; ok {
		return fmt.Errorf("payment for order %s: %w", p.OrderID, store.ErrDuplicate)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	c := *p
	s.payments[p.ID] = &c
	s.paymentOrder[p.OrderID] = p.ID
	return nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, store.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	s.mu.Lock()
	id, ok := s.paymentOrder[orderID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, store.ErrNotFound)
	}
	return s.GetPayment(ctx, id)
}

func (s *Store) GetPaymentByGateway(_ context.Context, gatewayName, gatewayOrderID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.GatewayName == gatewayName && p.GatewayOrderID == gatewayOrderID {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("payment %s/%s: %w", gatewayName, gatewayOrderID, store.ErrNotFound)
}

func (s *Store) UpdatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.payments[p.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", p.ID, store.ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("payment %s at version %d: %w", p.ID, p.Version, store.ErrVersionConflict)
	}
	p.Version++
	c := *p
	s.payments[p.ID] = &c
	return nil
}

// Integrations and webhook logs

func (s *Store) GetIntegration(_ context.Context, platform string) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.integrations[platform]
	if !ok {
		return nil, fmt.Errorf("integration %s: %w", platform, store.ErrNotFound)
	}
	c := *i
	return &c, nil
}

func (s *Store) SaveIntegration(_ context.Context, i *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *i
	s.integrations[i.Platform] = &c
	return nil
}

func (s *Store) CreateWebhookLog(_ context.Context, l *models.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[l.ID]; ok {
		return fmt.Errorf("webhook log %s: %w", l.ID, store.ErrDuplicate)
	}
	c := *l
	c.Payload = append([]byte(nil), l.Payload...)
	s.webhooks[l.ID] = &c
	return nil
}

func (s *Store) MarkWebhookLog(_ context.Context, id string, status models.WebhookStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.webhooks[id]
	if !ok {
		return fmt.Errorf("webhook log %s: %w", id, store.ErrNotFound)
	}
	l.Status = status
	l.Error = errMsg
	l.ProcessedAt = &at
	return nil
}

func (s *Store) GetWebhookLog(_ context.Context, id string) (*models.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("webhook log %s: %w", id, store.ErrNotFound)
	}
	c := *l
	return &c, nil
}

// WebhookLogs returns every stored log row, oldest first.
func (s *Store) WebhookLogs() []models.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.WebhookLog, 0, len(s.webhooks))
	for _, l := range s.webhooks {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OrderCount is a test helper.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
