package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"restaurant-sync/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	t.Parallel()
	dbDown := errors.New("connection refused")
	fkViolation := &pgconn.PgError{Code: "23503", ConstraintName: "payments_order_id_fkey"}

	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"no rows", pgx.ErrNoRows, store.ErrNotFound, "order o-1"},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), store.ErrNotFound, "order o-1"},
		{
			"unique violation",
			&pgconn.PgError{Code: uniqueViolation, ConstraintName: "orders_external_key"},
			store.ErrDuplicate,
			"orders_external_key",
		},
		{
			"wrapped unique violation",
			fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation, ConstraintName: "payments_order_id_key"}),
			store.ErrDuplicate,
			"payments_order_id_key",
		},
		{"foreign key violation", fkViolation, fkViolation, "order o-1"},
		{"driver error", dbDown, dbDown, "connection refused"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mapErr(tt.err, "order o-1")
			require.Error(t, got)
			assert.Contains(t, got.Error(), tt.contains)
			assert.ErrorIs(t, got, tt.sentinel)
			if !errors.Is(tt.sentinel, store.ErrDuplicate) {
				assert.NotErrorIs(t, got, store.ErrDuplicate)
			}
			if !errors.Is(tt.sentinel, store.ErrNotFound) {
				assert.NotErrorIs(t, got, store.ErrNotFound)
			}
		})
	}

	assert.NoError(t, mapErr(nil, "order o-1"))
}

type scanRow struct {
	exists bool
	err    error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.exists
	return nil
}

// existsTx answers the EXISTS query issued by casMiss.
type existsTx struct {
	pgx.Tx
	row scanRow
}

func (tx existsTx) QueryRow(context.Context, string, ...any) pgx.Row { return tx.row }

func TestCasMiss(t *testing.T) {
	t.Parallel()
	s := &Store{}

	tests := []struct {
		name string
		row  scanRow
		want error
	}{
		{"row gone", scanRow{exists: false}, store.ErrNotFound},
		{"stale version", scanRow{exists: true}, store.ErrVersionConflict},
		{"lookup fails", scanRow{err: pgx.ErrNoRows}, store.ErrNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := s.casMiss(context.Background(), existsTx{row: tt.row}, "orders", "o-1", "update order o-1")
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "update order o-1")
		})
	}
}
