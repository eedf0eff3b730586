// Package tables derives table occupancy from the order and reservation
// lifecycle. Writes for one table are serialized in-process by a per-table
// lock and across instances by the store's version check.
package tables

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/internal/events"
	"restaurant-sync/internal/keylock"
	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"
	"restaurant-sync/pkg/models"

	"github.com/cenkalti/backoff/v5"
)

const maxWriteAttempts = 3

type Store interface {
	store.TableStore
	store.ReservationStore
}

type Coordinator struct {
	store   Store
	locks   *keylock.Locker
	emitter events.Emitter
	logger  *logger.Logger
	now     func() time.Time
}

func NewCoordinator(st Store, emitter events.Emitter, log *logger.Logger) *Coordinator {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Coordinator{
		store:   st,
		locks:   keylock.New(),
		emitter: emitter,
		logger:  log,
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests only.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

func (c *Coordinator) Get(ctx context.Context, tableID string) (*models.Table, error) {
	t, err := c.store.GetTable(ctx, tableID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("table %s: %w", tableID, apperr.ErrNotFound)
	}
	return t, err
}

func (c *Coordinator) List(ctx context.Context) ([]*models.Table, error) {
	return c.store.ListTables(ctx)
}

// ClaimForOrder reserves an AVAILABLE table for a new DINE_IN order, or
// occupies it straight away when the guests are already seated.
func (c *Coordinator) ClaimForOrder(ctx context.Context, tableID, orderID string, seated bool) error {
	target := models.TableReserved
	if seated {
		target = models.TableOccupied
	}
	return c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		if t.Status != models.TableAvailable {
			return false, fmt.Errorf("table %d is %s: %w", t.TableNumber, t.Status, apperr.ErrTableUnavailable)
		}
		t.Status = target
		t.ClaimedBy = orderID
		return true, nil
	})
}

// ReleaseClaim undoes ClaimForOrder when the order could not be stored.
func (c *Coordinator) ReleaseClaim(ctx context.Context, tableID, orderID string) error {
	return c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		if t.ClaimedBy != orderID {
			return false, nil
		}
		t.Status = models.TableAvailable
		t.ClaimedBy = ""
		return true, nil
	})
}

func (c *Coordinator) SeatOrder(ctx context.Context, tableID, orderID string) error {
	return c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		if t.ClaimedBy != orderID {
			return false, fmt.Errorf("table %d is held by another party: %w", t.TableNumber, apperr.ErrTableUnavailable)
		}
		switch t.Status {
		case models.TableOccupied:
			return false, nil
		case models.TableReserved:
			t.Status = models.TableOccupied
			return true, nil
		default:
			return false, fmt.Errorf("table %d is %s: %w", t.TableNumber, t.Status, apperr.ErrTableUnavailable)
		}
	})
}

// ReleaseForOrder sends a table to CLEANING once the order holding it is
// finished. Tables held by someone else are left alone.
func (c *Coordinator) ReleaseForOrder(ctx context.Context, tableID, orderID string) error {
	return c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		return releaseToCleaning(t, orderID), nil
	})
}

func releaseToCleaning(t *models.Table, holder string) bool {
	if t.ClaimedBy != holder {
		return false
	}
	if t.Status != models.TableReserved && t.Status != models.TableOccupied {
		return false
	}
	t.Status = models.TableCleaning
	t.ClaimedBy = ""
	return true
}

// Reassign moves an order's claim: the new table must be AVAILABLE and
// becomes RESERVED; the old one goes back to AVAILABLE.
func (c *Coordinator) Reassign(ctx context.Context, orderID, fromTableID, toTableID string) error {
	unlock, err := c.locks.Lock(ctx, fromTableID, toTableID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.updateTable(ctx, toTableID, func(t *models.Table) (bool, error) {
		if t.Status != models.TableAvailable {
			return false, fmt.Errorf("table %d is %s: %w", t.TableNumber, t.Status, apperr.ErrTableUnavailable)
		}
		t.Status = models.TableReserved
		t.ClaimedBy = orderID
		return true, nil
	}); err != nil {
		return err
	}
	release := func(t *models.Table) (bool, error) {
		if t.ClaimedBy != orderID {
			return false, nil
		}
		t.Status = models.TableAvailable
		t.ClaimedBy = ""
		return true, nil
	}
	if err := c.updateTable(ctx, fromTableID, release); err != nil {
		// Undo the new claim so the order keeps exactly one table.
		if rerr := c.updateTable(context.WithoutCancel(ctx), toTableID, release); rerr != nil {
			c.logger.Error(logger.RequestID(ctx), "reassign_revert_failed",
				fmt.Sprintf("table %s still claimed by %s", toTableID, orderID), rerr,
				"order_id", orderID, "table_id", toTableID)
		}
		return err
	}
	return nil
}

// MarkAvailable is the staff acknowledgement that a CLEANING table is ready.
func (c *Coordinator) MarkAvailable(ctx context.Context, tableID, actor string) (*models.Table, error) {
	var out *models.Table
	err := c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		out = t
		switch t.Status {
		case models.TableAvailable:
			return false, nil
		case models.TableCleaning:
			t.Status = models.TableAvailable
			t.ClaimedBy = ""
			return true, nil
		default:
			return false, fmt.Errorf("table %d is %s, not cleaning: %w", t.TableNumber, t.Status, apperr.ErrInvalidTransition)
		}
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(logger.RequestID(ctx), "table_available", fmt.Sprintf("table %d acknowledged clean", out.TableNumber),
		"table_id", tableID, "actor", actor)
	return out, nil
}

// Override sets a table status directly. It is the only path that bypasses
// the derivation rules and is recorded on the table.
func (c *Coordinator) Override(ctx context.Context, tableID string, status models.TableStatus, actor string) (*models.Table, error) {
	switch status {
	case models.TableAvailable, models.TableReserved, models.TableOccupied, models.TableCleaning:
	default:
		return nil, fmt.Errorf("unknown table status %q: %w", status, apperr.ErrInvalidInput)
	}
	if actor == "" {
		return nil, fmt.Errorf("override requires an actor: %w", apperr.ErrInvalidInput)
	}
	var out *models.Table
	err := c.withTable(ctx, tableID, func(t *models.Table) (bool, error) {
		out = t
		at := c.now().UTC()
		t.Status = status
		if status == models.TableAvailable || status == models.TableCleaning {
			t.ClaimedBy = ""
		}
		t.OverriddenBy = actor
		t.OverriddenAt = &at
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Warn(logger.RequestID(ctx), "table_overridden", fmt.Sprintf("table %d set to %s", out.TableNumber, status),
		"table_id", tableID, "actor", actor)
	return out, nil
}

func (c *Coordinator) withTable(ctx context.Context, tableID string, fn func(t *models.Table) (bool, error)) error {
	if tableID == "" {
		return fmt.Errorf("table id required: %w", apperr.ErrInvalidInput)
	}
	unlock, err := c.locks.Lock(ctx, tableID)
	if err != nil {
		return err
	}
	defer unlock()
	return c.updateTable(ctx, tableID, fn)
}

// updateTable must run under the table's lock. Version conflicts can still
// happen when another instance writes the same row; those are retried.
func (c *Coordinator) updateTable(ctx context.Context, tableID string, fn func(t *models.Table) (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	t, err := backoff.Retry(ctx, func() (*models.Table, error) {
		t, err := c.store.GetTable(ctx, tableID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, backoff.Permanent(fmt.Errorf("table %s: %w", tableID, apperr.ErrNotFound))
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		changed, err := fn(t)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !changed {
			return nil, nil
		}
		t.UpdatedAt = c.now().UTC()
		if err := c.store.UpdateTable(ctx, t); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return t, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxWriteAttempts))
	if errors.Is(err, store.ErrVersionConflict) {
		return fmt.Errorf("table %s: %w", tableID, apperr.ErrConflict)
	}
	if err != nil {
		return err
	}
	if t != nil {
		c.logger.Debug(logger.RequestID(ctx), "table_updated", fmt.Sprintf("table %d is %s", t.TableNumber, t.Status),
			"table_id", t.ID, "claimed_by", t.ClaimedBy)
		c.emitter.Emit(ctx, events.TableUpdated(t))
	}
	return nil
}
