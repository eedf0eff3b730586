package tables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

type ReservationInput struct {
	TableID      string
	CustomerName string
	Date         string // YYYY-MM-DD
	Time         string // HH:MM
	PartySize    int
}

var reservationNext = map[models.ReservationStatus][]models.ReservationStatus{
	models.ReservationPending:   {models.ReservationConfirmed, models.ReservationSeated, models.ReservationCancelled, models.ReservationNoShow},
	models.ReservationConfirmed: {models.ReservationSeated, models.ReservationCancelled, models.ReservationNoShow},
	models.ReservationSeated:    {models.ReservationCompleted},
}

func canMoveReservation(from, to models.ReservationStatus) bool {
	for _, s := range reservationNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateReservation books a (table, date, time) slot. Two active
// reservations for one slot are rejected by the store's unique slot index,
// which also covers concurrent requests on other instances.
func (c *Coordinator) CreateReservation(ctx context.Context, in ReservationInput) (*models.Reservation, error) {
	rid := logger.RequestID(ctx)
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return nil, fmt.Errorf("reservation date %q: %w", in.Date, apperr.ErrInvalidInput)
	}
	if _, err := time.Parse("15:04", in.Time); err != nil {
		return nil, fmt.Errorf("reservation time %q: %w", in.Time, apperr.ErrInvalidInput)
	}
	if in.PartySize < 1 {
		return nil, fmt.Errorf("party size must be positive: %w", apperr.ErrInvalidInput)
	}

	now := c.now().UTC()
	r := &models.Reservation{
		ID:              uuid.NewString(),
		CustomerName:    in.CustomerName,
		ReservationDate: in.Date,
		ReservationTime: in.Time,
		PartySize:       in.PartySize,
		Status:          models.ReservationPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if in.TableID != "" {
		unlock, err := c.locks.Lock(ctx, in.TableID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		t, err := c.Get(ctx, in.TableID)
		if err != nil {
			return nil, err
		}
		if t.Capacity > 0 && in.PartySize > t.Capacity {
			return nil, fmt.Errorf("party of %d exceeds table %d capacity %d: %w",
				in.PartySize, t.TableNumber, t.Capacity, apperr.ErrInvalidInput)
		}
		r.TableID = &in.TableID
	}

	if err := c.store.CreateReservation(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.logger.Info(rid, "reservation_slot_taken", "slot already reserved",
				"table_id", in.TableID, "date", in.Date, "time", in.Time)
			return nil, fmt.Errorf("table %s at %s %s: %w", in.TableID, in.Date, in.Time, apperr.ErrTableUnavailable)
		}
		c.logger.Error(rid, "reservation_create_failed", "failed to store reservation", err)
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	c.logger.Info(rid, "reservation_created", "reservation created", "reservation_id", r.ID, "table_id", in.TableID)
	return r, nil
}

func (c *Coordinator) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := c.store.GetReservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reservation %s: %w", id, apperr.ErrNotFound)
	}
	return r, err
}

// UpdateReservationStatus moves a reservation through its lifecycle and
// derives the table: SEATED occupies it, COMPLETED sends it to CLEANING.
func (c *Coordinator) UpdateReservationStatus(ctx context.Context, id string, status models.ReservationStatus) (*models.Reservation, error) {
	r, err := c.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == status {
		return r, nil
	}
	if !canMoveReservation(r.Status, status) {
		return nil, fmt.Errorf("reservation %s %s -> %s: %w", id, r.Status, status, apperr.ErrInvalidTransition)
	}

	if r.TableID != nil {
		unlock, err := c.locks.Lock(ctx, *r.TableID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		switch status {
		case models.ReservationSeated:
			err = c.updateTable(ctx, *r.TableID, func(t *models.Table) (bool, error) {
				if t.ClaimedBy == r.ID && t.Status == models.TableOccupied {
					return false, nil
				}
				if t.Status != models.TableAvailable && t.ClaimedBy != r.ID {
					return false, fmt.Errorf("table %d is %s: %w", t.TableNumber, t.Status, apperr.ErrTableUnavailable)
				}
				t.Status = models.TableOccupied
				t.ClaimedBy = r.ID
				return true, nil
			})
		case models.ReservationCompleted:
			err = c.updateTable(ctx, *r.TableID, func(t *models.Table) (bool, error) {
				return releaseToCleaning(t, r.ID), nil
			})
		}
		if err != nil {
			return nil, err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	out, err := backoff.Retry(ctx, func() (*models.Reservation, error) {
		cur, err := c.store.GetReservation(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if cur.Status != r.Status && cur.Status != status {
			return nil, backoff.Permanent(fmt.Errorf("reservation %s changed to %s: %w", id, cur.Status, apperr.ErrInvalidTransition))
		}
		cur.Status = status
		cur.UpdatedAt = c.now().UTC()
		if err := c.store.UpdateReservation(ctx, cur); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return cur, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxWriteAttempts))
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, fmt.Errorf("reservation %s: %w", id, apperr.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info(logger.RequestID(ctx), "reservation_status_changed", fmt.Sprintf("reservation %s -> %s", id, status),
		"reservation_id", id)
	return out, nil
}
