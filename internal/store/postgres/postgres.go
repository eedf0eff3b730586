// Package postgres implements store.Store on PostgreSQL through pgxpool.
// Uniqueness rules live in the schema (pkg/db/schema.sql); version checks are
// enforced with "WHERE id = $1 AND version = $2" updates.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"restaurant-sync/internal/store"
	"restaurant-sync/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	dbPool *pgxpool.Pool
	logger *logger.Logger
}

var _ store.Store = (*Store)(nil)

func New(dbPool *pgxpool.Pool, logger *logger.Logger) *Store {
	return &Store{
		dbPool: dbPool,
		logger: logger,
	}
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s (%s): %w", what, pgErr.ConstraintName, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// casMiss explains why a versioned update touched no rows.
func (s *Store) casMiss(ctx context.Context, q pgx.Tx, table, id, what string) error {
	var exists bool
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id).Scan(&exists)
	if err != nil {
		return mapErr(err, what)
	}
	if !exists {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, store.ErrVersionConflict)
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
