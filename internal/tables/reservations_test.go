package tables

import (
	"context"
	"sync"
	"testing"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(tableID string) ReservationInput {
	return ReservationInput{
		TableID:      tableID,
		CustomerName: "Asha",
		Date:         "2026-10-20",
		Time:         "19:30",
		PartySize:    2,
	}
}

func TestConcurrentReservationsForOneSlot(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, table("t-1", models.TableAvailable))

	const n = 25
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		created     []*models.Reservation
		unavailable int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.CreateReservation(ctx, slot("t-1"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created = append(created, r)
				return
			}
			if assert.ErrorIs(t, err, apperr.ErrTableUnavailable) {
				unavailable++
			}
		}()
	}
	wg.Wait()

	require.Len(t, created, 1)
	assert.Equal(t, models.ReservationPending, created[0].Status)
	assert.Equal(t, n-1, unavailable)
}

func TestCancelledReservationFreesSlot(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, table("t-1", models.TableAvailable))

	r, err := c.CreateReservation(ctx, slot("t-1"))
	require.NoError(t, err)
	_, err = c.UpdateReservationStatus(ctx, r.ID, models.ReservationCancelled)
	require.NoError(t, err)

	_, err = c.CreateReservation(ctx, slot("t-1"))
	assert.NoError(t, err)
}

func TestReservationValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(in *ReservationInput)
		wantErr error
	}{
		{"bad date", func(in *ReservationInput) { in.Date = "20/10/2026" }, apperr.ErrInvalidInput},
		{"bad time", func(in *ReservationInput) { in.Time = "7pm" }, apperr.ErrInvalidInput},
		{"empty party", func(in *ReservationInput) { in.PartySize = 0 }, apperr.ErrInvalidInput},
		{"party over capacity", func(in *ReservationInput) { in.PartySize = 9 }, apperr.ErrInvalidInput},
		{"unknown table", func(in *ReservationInput) { in.TableID = "t-404" }, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newCoordinator(t, table("t-1", models.TableAvailable))
			in := slot("t-1")
			tt.mutate(&in)
			_, err := c.CreateReservation(context.Background(), in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReservationLifecycleDrivesTable(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, table("t-1", models.TableAvailable))

	r, err := c.CreateReservation(ctx, slot("t-1"))
	require.NoError(t, err)

	_, err = c.UpdateReservationStatus(ctx, r.ID, models.ReservationConfirmed)
	require.NoError(t, err)

	_, err = c.UpdateReservationStatus(ctx, r.ID, models.ReservationCompleted)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	seated, err := c.UpdateReservationStatus(ctx, r.ID, models.ReservationSeated)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationSeated, seated.Status)
	tbl, _ := c.Get(ctx, "t-1")
	assert.Equal(t, models.TableOccupied, tbl.Status)
	assert.Equal(t, r.ID, tbl.ClaimedBy)

	_, err = c.UpdateReservationStatus(ctx, r.ID, models.ReservationCompleted)
	require.NoError(t, err)
	tbl, _ = c.Get(ctx, "t-1")
	assert.Equal(t, models.TableCleaning, tbl.Status)
}

func TestSeatingReservationOnBusyTable(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, table("t-1", models.TableAvailable))

	r, err := c.CreateReservation(ctx, slot("t-1"))
	require.NoError(t, err)
	require.NoError(t, c.ClaimForOrder(ctx, "t-1", "walk-in", true))

	_, err = c.UpdateReservationStatus(ctx, r.ID, models.ReservationSeated)
	assert.ErrorIs(t, err, apperr.ErrTableUnavailable)

	got, err := c.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, got.Status)
}
