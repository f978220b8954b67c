package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matola-erp/matola-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", shared.ErrPersistence, err)
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", shared.ErrPersistence, err)
	}
	return nil
}

// GetDocument loads a document with its lines.
func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	const query = `
		SELECT id, doc_type, series, period, seq, state, currency,
		       withholding_percent, subtotal, vat_by_rate, withholding_amount,
		       grand_total, created_at, updated_at
		FROM documents
		WHERE id = $1`
	var (
		doc       Document
		docType   string
		state     string
		vatByRate []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &docType, &doc.Number.Series, &doc.Number.Period, &doc.Number.Sequence,
		&state, &doc.Currency, &doc.WithholdingPercent,
		&doc.Totals.Subtotal, &vatByRate, &doc.Totals.WithholdingAmount,
		&doc.Totals.GrandTotal, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get document: %v", shared.ErrPersistence, err)
	}
	doc.Type = DocumentType(docType)
	doc.State = DocumentState(state)
	doc.Totals.VATByRate = VATBreakdown{}
	if len(vatByRate) > 0 {
		if err := json.Unmarshal(vatByRate, &doc.Totals.VATByRate); err != nil {
			return nil, fmt.Errorf("%w: decode vat breakdown: %v", shared.ErrPersistence, err)
		}
	}

	lines, err := r.listLines(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return &doc, nil
}

func (r *Repository) listLines(ctx context.Context, documentID uuid.UUID) ([]LineItem, error) {
	const query = `
		SELECT id, product_ref, description, quantity, unit_price,
		       discount_percent, vat_rate, line_total, line_order
		FROM document_lines
		WHERE document_id = $1
		ORDER BY line_order, id`
	rows, err := r.pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list lines: %v", shared.ErrPersistence, err)
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var line LineItem
		if err := rows.Scan(
			&line.ID, &line.ProductRef, &line.Description, &line.Quantity,
			&line.UnitPrice, &line.DiscountPercent, &line.VATRate,
			&line.LineTotal, &line.LineOrder,
		); err != nil {
			return nil, fmt.Errorf("%w: scan line: %v", shared.ErrPersistence, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) error {
	vatByRate, err := json.Marshal(doc.Totals.VATByRate)
	if err != nil {
		return fmt.Errorf("%w: encode vat breakdown: %v", shared.ErrPersistence, err)
	}
	const query = `
		INSERT INTO documents (
			id, doc_type, series, period, seq, state, currency,
			withholding_percent, subtotal, vat_by_rate, withholding_amount,
			grand_total, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = t.tx.Exec(ctx, query,
		doc.ID, string(doc.Type), doc.Number.Series, doc.Number.Period, doc.Number.Sequence,
		string(doc.State), doc.Currency, doc.WithholdingPercent,
		doc.Totals.Subtotal, vatByRate, doc.Totals.WithholdingAmount,
		doc.Totals.GrandTotal, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert document: %v", shared.ErrPersistence, err)
	}
	return nil
}

func (t *txRepo) ReplaceLines(ctx context.Context, documentID uuid.UUID, lines []LineItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("%w: delete lines: %v", shared.ErrPersistence, err)
	}
	const query = `
		INSERT INTO document_lines (
			document_id, product_ref, description, quantity, unit_price,
			discount_percent, vat_rate, line_total, line_order
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx, query,
			documentID, line.ProductRef, line.Description, line.Quantity,
			line.UnitPrice, line.DiscountPercent, line.VATRate,
			line.LineTotal, line.LineOrder,
		); err != nil {
			return fmt.Errorf("%w: insert line: %v", shared.ErrPersistence, err)
		}
	}
	return nil
}

func (t *txRepo) UpdateTotals(ctx context.Context, documentID uuid.UUID, totals Totals) error {
	vatByRate, err := json.Marshal(totals.VATByRate)
	if err != nil {
		return fmt.Errorf("%w: encode vat breakdown: %v", shared.ErrPersistence, err)
	}
	const query = `
		UPDATE documents
		SET subtotal = $2, vat_by_rate = $3, withholding_amount = $4,
		    grand_total = $5, updated_at = now()
		WHERE id = $1`
	if _, err := t.tx.Exec(ctx, query, documentID, totals.Subtotal, vatByRate, totals.WithholdingAmount, totals.GrandTotal); err != nil {
		return fmt.Errorf("%w: update totals: %v", shared.ErrPersistence, err)
	}
	return nil
}

func (t *txRepo) UpdateState(ctx context.Context, documentID uuid.UUID, state DocumentState) error {
	tag, err := t.tx.Exec(ctx, `UPDATE documents SET state = $2, updated_at = now() WHERE id = $1`, documentID, string(state))
	if err != nil {
		return fmt.Errorf("%w: update state: %v", shared.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
