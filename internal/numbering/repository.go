package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matola-erp/matola-erp/internal/shared"
)

// Repository persists sequence counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	tx pgx.Tx
}

// WithTx runs fn in a transaction holding the counter row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", shared.ErrPersistence, err)
	}
	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", shared.ErrPersistence, wrapConflict(err))
	}
	return nil
}

func (t *txStore) GetLastForUpdate(ctx context.Context, series, period string) (int64, bool, error) {
	const query = `SELECT last_value FROM doc_sequences WHERE series = $1 AND period = $2 FOR UPDATE`
	var last int64
	err := t.tx.QueryRow(ctx, query, series, period).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: get sequence: %v", shared.ErrPersistence, err)
	}
	return last, true, nil
}

func (t *txStore) SetLast(ctx context.Context, series, period string, value int64) error {
	const query = `
		INSERT INTO doc_sequences (series, period, last_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (series, period) DO UPDATE SET last_value = EXCLUDED.last_value`
	if _, err := t.tx.Exec(ctx, query, series, period, value); err != nil {
		return fmt.Errorf("%w: set sequence: %v", shared.ErrPersistence, wrapConflict(err))
	}
	return nil
}

// wrapConflict surfaces unique-violation and serialization races so the
// allocator can report them as allocation conflicts.
func wrapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001":
			return fmt.Errorf("counter raced (%s): %w", pgErr.Code, err)
		}
	}
	return err
}
