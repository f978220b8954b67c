package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matola-erp/matola-erp/internal/inventory"
)

// ErrNotEditable indicates a line mutation on a non-draft document.
var ErrNotEditable = errors.New("documents: only draft documents can be edited")

// NumberAllocator issues the next sequential number for a series/period.
type NumberAllocator interface {
	NextNumber(ctx context.Context, series, period string) (DocumentNumber, error)
}

// StockPort is the reconciler surface the document engine drives.
type StockPort interface {
	Apply(ctx context.Context, documentID uuid.UUID, direction inventory.Direction, lines []inventory.MovementLine) ([]inventory.StockMovement, error)
	Reverse(ctx context.Context, documentID uuid.UUID) ([]inventory.StockMovement, error)
	Reserve(ctx context.Context, documentID uuid.UUID, lines []inventory.MovementLine) ([]inventory.Reservation, error)
	Release(ctx context.Context, documentID uuid.UUID) error
	Movements(ctx context.Context, documentID uuid.UUID) ([]inventory.StockMovement, error)
}

// RepositoryPort abstracts document persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
}

// TxRepository exposes transactional document mutations.
type TxRepository interface {
	InsertDocument(ctx context.Context, doc Document) error
	ReplaceLines(ctx context.Context, documentID uuid.UUID, lines []LineItem) error
	UpdateTotals(ctx context.Context, documentID uuid.UUID, totals Totals) error
	UpdateState(ctx context.Context, documentID uuid.UUID, state DocumentState) error
}

// Service is the engine facade: it owns document creation, line mutation
// and lifecycle transitions, delegating numbering and stock side effects.
type Service struct {
	repo      RepositoryPort
	allocator NumberAllocator
	stock     StockPort
	now       func() time.Time
}

// NewService constructs the document service.
func NewService(repo RepositoryPort, allocator NumberAllocator, stock StockPort) *Service {
	return &Service{repo: repo, allocator: allocator, stock: stock, now: time.Now}
}

// CreateDocument allocates a number and persists a draft document. The
// number is durably recorded by the allocator before the document exists,
// so a failed insert wastes a sequence but never duplicates one.
func (s *Service) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*Document, error) {
	if !req.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown document type %q", req.Type)}
	}
	if req.WithholdingPercent < 0 || req.WithholdingPercent > 100 {
		return nil, &ValidationError{Field: "withholding_percent", Reason: "must be within [0,100]"}
	}
	if req.WithholdingPercent > 0 && !req.Type.Monetary() {
		return nil, &ValidationError{Field: "withholding_percent", Reason: "withholding only applies where money changes hands"}
	}

	series := req.Series
	if series == "" {
		series = req.Type.DefaultSeries()
	}
	period := req.Period
	if period == "" {
		period = s.now().UTC().Format("2006")
	}
	currency := req.Currency
	if currency == "" {
		currency = "MZN"
	}

	number, err := s.allocator.NextNumber(ctx, series, period)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := Document{
		ID:                 uuid.New(),
		Type:               req.Type,
		Number:             number,
		State:              StateDraft,
		Currency:           currency,
		WithholdingPercent: req.WithholdingPercent,
		Totals:             Totals{VATByRate: VATBreakdown{}},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// SetLines replaces the document's lines, revalidates them and recomputes
// totals. Only draft documents can be edited.
func (s *Service) SetLines(ctx context.Context, id uuid.UUID, req SetLinesRequest) (Totals, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Totals{}, err
	}
	if doc.State != StateDraft {
		return Totals{}, fmt.Errorf("%w: document %s is %s", ErrNotEditable, id, doc.State)
	}
	lines, err := buildLines(req.Lines)
	if err != nil {
		return Totals{}, err
	}
	totals := ComputeDocumentTotals(lines, doc.WithholdingPercent)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		return tx.UpdateTotals(ctx, id, totals)
	})
	if err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// Transition drives the document to target, applying stock side effects
// where the lifecycle demands them. Requesting the state the document is
// already in is a no-op returning the unchanged document and changed=false,
// which makes client retries harmless and lets callers skip side-effect
// accounting for retries. On any failure the document keeps its prior state.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target DocumentState) (doc *Document, changed bool, err error) {
	doc, err = s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if doc.State == target {
		return doc, false, nil
	}
	if err := CanTransition(doc, target); err != nil {
		return nil, false, err
	}

	switch target {
	case StateFulfilled:
		if direction := doc.Type.StockEffect(); direction != inventory.DirectionNone {
			// Apply is idempotent per document, so a crash between the
			// movement commit and the state commit is repaired by retrying
			// the transition.
			if _, err := s.stock.Apply(ctx, doc.ID, direction, doc.MovementLines()); err != nil {
				return nil, false, err
			}
		}
	case StateCancelled:
		movements, err := s.stock.Movements(ctx, doc.ID)
		if err != nil {
			return nil, false, err
		}
		if len(movements) > 0 {
			if _, err := s.stock.Reverse(ctx, doc.ID); err != nil {
				return nil, false, err
			}
		}
		if err := s.stock.Release(ctx, doc.ID); err != nil {
			return nil, false, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateState(ctx, id, target)
	})
	if err != nil {
		return nil, false, err
	}
	doc, err = s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// ReserveStock holds available quantity against a confirmed
// stock-decreasing document ahead of fulfilment. Reserving twice for the
// same document returns the existing hold.
func (s *Service) ReserveStock(ctx context.Context, id uuid.UUID) ([]inventory.Reservation, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Type.StockEffect() != inventory.DirectionDecrease {
		return nil, &ValidationError{Field: "type", Reason: "only stock-decreasing documents can reserve stock"}
	}
	if doc.State != StateConfirmed && doc.State != StatePartiallyFulfilled {
		return nil, &InvalidTransitionError{
			DocumentID: doc.ID,
			Current:    doc.State,
			Requested:  doc.State,
			Reason:     "reservations require a confirmed document",
		}
	}
	return s.stock.Reserve(ctx, doc.ID, doc.MovementLines())
}

// ReleaseStock frees any reservation the document holds.
func (s *Service) ReleaseStock(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetDocument(ctx, id); err != nil {
		return err
	}
	return s.stock.Release(ctx, id)
}

// GetDocument fetches a document with its lines and totals.
func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// Movements lists the stock ledger a document has produced.
func (s *Service) Movements(ctx context.Context, id uuid.UUID) ([]inventory.StockMovement, error) {
	if _, err := s.repo.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.stock.Movements(ctx, id)
}
