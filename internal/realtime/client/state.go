package client

import (
	"sort"
	"sync"
	"time"

	"restaurant-sync/pkg/models"
)

type OrderView struct {
	ID            string
	OrderNumber   string
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	UpdatedAt     time.Time
	UpdatedBy     string
}

type TableView struct {
	ID        string
	Status    models.TableStatus
	UpdatedAt time.Time
}

// State is a session's view of orders and tables. Writes are last-write-wins
// by UpdatedAt, so a poll result can never roll back a newer socket event.
type State struct {
	mu     sync.RWMutex
	orders map[string]OrderView
	tables map[string]TableView
}

func NewState() *State {
	return &State{
		orders: make(map[string]OrderView),
		tables: make(map[string]TableView),
	}
}

// ApplyOrder stores v unless the held view is at least as new.
func (s *State) ApplyOrder(v OrderView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.orders[v.ID]; ok && !v.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	s.orders[v.ID] = v
	return true
}

func (s *State) ApplyTable(v TableView) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tables[v.ID]; ok && !v.UpdatedAt.After(cur.UpdatedAt) {
		return false
	}
	s.tables[v.ID] = v
	return true
}

func (s *State) Order(id string) (OrderView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.orders[id]
	return v, ok
}

func (s *State) Table(id string) (TableView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[id]
	return v, ok
}

// Orders returns every order, most recently updated first.
func (s *State) Orders() []OrderView {
	s.mu.RLock()
	out := make([]OrderView, 0, len(s.orders))
	for _, v := range s.orders {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (s *State) Tables() []TableView {
	s.mu.RLock()
	out := make([]TableView, 0, len(s.tables))
	for _, v := range s.tables {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
