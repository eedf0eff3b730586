package postgres

import (
	"context"

	"restaurant-sync/pkg/models"

	"github.com/jackc/pgx/v5"
)

const tableColumns = `id, table_number, capacity, status, branch_id, claimed_by,
	overridden_by, overridden_at, version, updated_at`

func scanTable(row pgx.Row) (*models.Table, error) {
	var t models.Table
	err := row.Scan(&t.ID, &t.TableNumber, &t.Capacity, &t.Status, &t.BranchID, &t.ClaimedBy,
		&t.OverriddenBy, &t.OverriddenAt, &t.Version, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTable(ctx context.Context, t *models.Table) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO restaurant_tables (`+tableColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.TableNumber, t.Capacity, t.Status, t.BranchID, t.ClaimedBy,
		t.OverriddenBy, t.OverriddenAt, t.Version, t.UpdatedAt)
	return mapErr(err, "insert table "+t.ID)
}

func (s *Store) GetTable(ctx context.Context, id string) (*models.Table, error) {
	t, err := scanTable(s.dbPool.QueryRow(ctx, `SELECT `+tableColumns+` FROM restaurant_tables WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "table "+id)
	}
	return t, nil
}

func (s *Store) UpdateTable(ctx context.Context, t *models.Table) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE restaurant_tables SET
				status = $3, claimed_by = $4, overridden_by = $5, overridden_at = $6,
				updated_at = $7, version = version + 1
			WHERE id = $1 AND version = $2`,
			t.ID, t.Version, t.Status, t.ClaimedBy, t.OverriddenBy, t.OverriddenAt, t.UpdatedAt)
		if err != nil {
			return mapErr(err, "update table "+t.ID)
		}
		if tag.RowsAffected() == 0 {
			return s.casMiss(ctx, tx, "restaurant_tables", t.ID, "table "+t.ID)
		}
		t.Version++
		return nil
	})
}

func (s *Store) ListTables(ctx context.Context) ([]*models.Table, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT `+tableColumns+` FROM restaurant_tables ORDER BY branch_id, table_number`)
	if err != nil {
		return nil, mapErr(err, "list tables")
	}
	defer rows.Close()

	var out []*models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, mapErr(err, "scan table")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Reservations

const reservationColumns = `id, table_id, customer_name, reservation_date, reservation_time,
	party_size, status, version, created_at, updated_at`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(&r.ID, &r.TableID, &r.CustomerName, &r.ReservationDate, &r.ReservationTime,
		&r.PartySize, &r.Status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReservation relies on the reservations_active_slot partial unique
// index so concurrent inserts for one slot cannot both succeed.
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := s.dbPool.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.TableID, r.CustomerName, r.ReservationDate, r.ReservationTime,
		r.PartySize, r.Status, r.Version, r.CreatedAt, r.UpdatedAt)
	return mapErr(err, "insert reservation "+r.ID)
}

func (s *Store) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := scanReservation(s.dbPool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "reservation "+id)
	}
	return r, nil
}

func (s *Store) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE reservations SET
				table_id = $3, status = $4, updated_at = $5, version = version + 1
			WHERE id = $1 AND version = $2`,
			r.ID, r.Version, r.TableID, r.Status, r.UpdatedAt)
		if err != nil {
			return mapErr(err, "update reservation "+r.ID)
		}
		if tag.RowsAffected() == 0 {
			return s.casMiss(ctx, tx, "reservations", r.ID, "reservation "+r.ID)
		}
		r.Version++
		return nil
	})
}
