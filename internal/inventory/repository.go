package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matola-erp/matola-erp/internal/shared"
)

// Repository persists stock records, reservations and the movement ledger
// in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", shared.ErrPersistence, err)
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", shared.ErrPersistence, err)
	}
	return nil
}

// GetStockRecord reads a stock record without locking.
func (r *Repository) GetStockRecord(ctx context.Context, productRef string) (StockRecord, error) {
	const query = `SELECT product_ref, on_hand, reserved, updated_at FROM stock_records WHERE product_ref = $1`
	return scanStockRecord(r.pool.QueryRow(ctx, query, productRef))
}

// ListMovements lists the ledger for a document ordered by insertion.
func (r *Repository) ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	return listMovements(ctx, r.pool, documentID)
}

// ListProductMovements lists the ledger for one product, newest first.
func (r *Repository) ListProductMovements(ctx context.Context, productRef string, limit int) ([]StockMovement, error) {
	const query = `
		SELECT id, document_id, product_ref, quantity_delta, direction, reversal, applied_at
		FROM stock_movements
		WHERE product_ref = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, productRef, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list product movements: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		var direction string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ProductRef, &m.QuantityDelta, &direction, &m.Reversal, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %v", shared.ErrPersistence, err)
		}
		m.Direction = Direction(direction)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txRepo) GetStockForUpdate(ctx context.Context, productRef string) (StockRecord, error) {
	const query = `SELECT product_ref, on_hand, reserved, updated_at FROM stock_records WHERE product_ref = $1 FOR UPDATE`
	return scanStockRecord(t.tx.QueryRow(ctx, query, productRef))
}

func (t *txRepo) UpsertStockRecord(ctx context.Context, record StockRecord) error {
	const query = `
		INSERT INTO stock_records (product_ref, on_hand, reserved, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_ref)
		DO UPDATE SET on_hand = EXCLUDED.on_hand, reserved = EXCLUDED.reserved, updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.Exec(ctx, query, record.ProductRef, record.OnHand, record.Reserved, record.UpdatedAt); err != nil {
		return fmt.Errorf("%w: upsert stock record: %v", shared.ErrPersistence, err)
	}
	return nil
}

func (t *txRepo) AppendMovement(ctx context.Context, movement StockMovement) (int64, error) {
	const query = `
		INSERT INTO stock_movements (document_id, product_ref, quantity_delta, direction, reversal, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		movement.DocumentID, movement.ProductRef, movement.QuantityDelta,
		string(movement.Direction), movement.Reversal, movement.AppliedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: append movement: %v", shared.ErrPersistence, err)
	}
	return id, nil
}

func (t *txRepo) ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	return listMovements(ctx, t.tx, documentID)
}

func (t *txRepo) ListReservations(ctx context.Context, documentID uuid.UUID) ([]Reservation, error) {
	const query = `SELECT document_id, product_ref, qty FROM stock_reservations WHERE document_id = $1 ORDER BY product_ref`
	rows, err := t.tx.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list reservations: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.DocumentID, &res.ProductRef, &res.Quantity); err != nil {
			return nil, fmt.Errorf("%w: scan reservation: %v", shared.ErrPersistence, err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (t *txRepo) AddReservation(ctx context.Context, res Reservation) error {
	const query = `INSERT INTO stock_reservations (document_id, product_ref, qty) VALUES ($1, $2, $3)`
	if _, err := t.tx.Exec(ctx, query, res.DocumentID, res.ProductRef, res.Quantity); err != nil {
		return fmt.Errorf("%w: add reservation: %v", shared.ErrPersistence, err)
	}
	return nil
}

func (t *txRepo) DeleteReservations(ctx context.Context, documentID uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM stock_reservations WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("%w: delete reservations: %v", shared.ErrPersistence, err)
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listMovements(ctx context.Context, q queryer, documentID uuid.UUID) ([]StockMovement, error) {
	const query = `
		SELECT id, document_id, product_ref, quantity_delta, direction, reversal, applied_at
		FROM stock_movements
		WHERE document_id = $1
		ORDER BY id`
	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list movements: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		var direction string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.ProductRef, &m.QuantityDelta, &direction, &m.Reversal, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %v", shared.ErrPersistence, err)
		}
		m.Direction = Direction(direction)
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockRecord(row rowScanner) (StockRecord, error) {
	var rec StockRecord
	if err := row.Scan(&rec.ProductRef, &rec.OnHand, &rec.Reserved, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrStockNotFound
		}
		return StockRecord{}, fmt.Errorf("%w: get stock record: %v", shared.ErrPersistence, err)
	}
	return rec, nil
}
