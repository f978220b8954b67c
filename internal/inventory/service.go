package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// quantity comparisons tolerate float noise accumulated by repeated
// movement arithmetic.
const qtyEpsilon = 1e-6

// ErrStockNotFound indicates no stock record exists for the product yet.
var ErrStockNotFound = errors.New("inventory: stock record not found")

// RepositoryPort abstracts persistence for the reconciler.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockRecord(ctx context.Context, productRef string) (StockRecord, error)
	ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error)
	ListProductMovements(ctx context.Context, productRef string, limit int) ([]StockMovement, error)
}

// TxRepository exposes the transactional operations used while reconciling.
// GetStockForUpdate must hold a row lock until the transaction ends so all
// mutations of one product are serialized.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, productRef string) (StockRecord, error)
	UpsertStockRecord(ctx context.Context, record StockRecord) error
	AppendMovement(ctx context.Context, movement StockMovement) (int64, error)
	ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error)
	ListReservations(ctx context.Context, documentID uuid.UUID) ([]Reservation, error)
	AddReservation(ctx context.Context, res Reservation) error
	DeleteReservations(ctx context.Context, documentID uuid.UUID) error
}

// Service is the stock reconciler: it applies the inventory side effect of
// a document transition exactly once and records compensating reversals on
// cancellation.
type Service struct {
	repo RepositoryPort
}

// NewService builds the reconciler.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Apply reconciles a document's lines against stock. It is idempotent per
// document: when a movement set already exists the stored set is returned
// unchanged. A decrease validates every line before mutating anything, so
// rejection leaves all stock records untouched.
func (s *Service) Apply(ctx context.Context, documentID uuid.UUID, direction Direction, lines []MovementLine) ([]StockMovement, error) {
	if direction != DirectionIncrease && direction != DirectionDecrease {
		return nil, ErrInvalidDirection
	}
	quantities, refs, err := aggregateLines(lines)
	if err != nil {
		return nil, err
	}

	var applied []StockMovement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListMovements(ctx, documentID)
		if err != nil {
			return err
		}
		if originals := filterMovements(existing, false); len(originals) > 0 {
			applied = originals
			return nil
		}

		now := time.Now().UTC()
		records := make(map[string]StockRecord, len(refs))
		for _, ref := range refs {
			rec, err := tx.GetStockForUpdate(ctx, ref)
			if err != nil && !errors.Is(err, ErrStockNotFound) {
				return err
			}
			if errors.Is(err, ErrStockNotFound) {
				rec = StockRecord{ProductRef: ref}
			}
			records[ref] = rec
		}

		released := make(map[string]float64)
		if direction == DirectionDecrease {
			reservations, err := tx.ListReservations(ctx, documentID)
			if err != nil {
				return err
			}
			heldByDoc := make(map[string]float64, len(reservations))
			for _, res := range reservations {
				heldByDoc[res.ProductRef] += res.Quantity
			}
			// Validate every line before the first mutation.
			for _, ref := range refs {
				rec := records[ref]
				qty := quantities[ref]
				release := min(heldByDoc[ref], qty)
				available := rec.Available() + release
				if available+qtyEpsilon < qty {
					return &InsufficientStockError{ProductRef: ref, Requested: qty, Available: available}
				}
				released[ref] = release
			}
			if len(reservations) > 0 {
				if err := tx.DeleteReservations(ctx, documentID); err != nil {
					return err
				}
			}
		}

		for _, ref := range refs {
			rec := records[ref]
			qty := quantities[ref]
			delta := qty
			if direction == DirectionDecrease {
				rec.OnHand -= qty
				rec.Reserved -= released[ref]
				delta = -qty
			} else {
				rec.OnHand += qty
			}
			rec.UpdatedAt = now
			if err := tx.UpsertStockRecord(ctx, rec); err != nil {
				return err
			}
			movement := StockMovement{
				DocumentID:    documentID,
				ProductRef:    ref,
				QuantityDelta: delta,
				Direction:     direction,
				AppliedAt:     now,
			}
			id, err := tx.AppendMovement(ctx, movement)
			if err != nil {
				return err
			}
			movement.ID = id
			applied = append(applied, movement)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Reverse compensates the movements a cancelled document already produced.
// The originals are retained unmodified; each reversal is a new ledger entry
// with inverted direction and identical magnitude. Calling Reverse again
// returns the recorded reversal set without touching stock.
func (s *Service) Reverse(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	var reversed []StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		all, err := tx.ListMovements(ctx, documentID)
		if err != nil {
			return err
		}
		originals := filterMovements(all, false)
		if len(originals) == 0 {
			return nil
		}
		if existing := filterMovements(all, true); len(existing) > 0 {
			reversed = existing
			return nil
		}

		deltas := make(map[string]float64)
		refs := make([]string, 0, len(originals))
		for _, movement := range originals {
			if _, seen := deltas[movement.ProductRef]; !seen {
				refs = append(refs, movement.ProductRef)
			}
			deltas[movement.ProductRef] += movement.QuantityDelta
		}
		sort.Strings(refs)

		now := time.Now().UTC()
		for _, ref := range refs {
			rec, err := tx.GetStockForUpdate(ctx, ref)
			if err != nil && !errors.Is(err, ErrStockNotFound) {
				return err
			}
			if errors.Is(err, ErrStockNotFound) {
				rec = StockRecord{ProductRef: ref}
			}
			delta := -deltas[ref]
			newOnHand := rec.OnHand + delta
			if newOnHand+qtyEpsilon < rec.Reserved {
				// Reversing a receipt that has since been consumed would
				// drive available negative.
				return &InsufficientStockError{ProductRef: ref, Requested: -delta, Available: rec.Available()}
			}
			rec.OnHand = newOnHand
			rec.UpdatedAt = now
			if err := tx.UpsertStockRecord(ctx, rec); err != nil {
				return err
			}
			movement := StockMovement{
				DocumentID:    documentID,
				ProductRef:    ref,
				QuantityDelta: delta,
				Direction:     invert(originalDirection(deltas[ref])),
				Reversal:      true,
				AppliedAt:     now,
			}
			id, err := tx.AppendMovement(ctx, movement)
			if err != nil {
				return err
			}
			movement.ID = id
			reversed = append(reversed, movement)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversed, nil
}

// Reserve holds quantity against a document ahead of shipment. Reserving is
// idempotent per document: an existing hold is returned unchanged.
func (s *Service) Reserve(ctx context.Context, documentID uuid.UUID, lines []MovementLine) ([]Reservation, error) {
	quantities, refs, err := aggregateLines(lines)
	if err != nil {
		return nil, err
	}
	var held []Reservation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListReservations(ctx, documentID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			held = existing
			return nil
		}
		now := time.Now().UTC()
		for _, ref := range refs {
			rec, err := tx.GetStockForUpdate(ctx, ref)
			if err != nil {
				if errors.Is(err, ErrStockNotFound) {
					return &InsufficientStockError{ProductRef: ref, Requested: quantities[ref], Available: 0}
				}
				return err
			}
			qty := quantities[ref]
			if rec.Available()+qtyEpsilon < qty {
				return &InsufficientStockError{ProductRef: ref, Requested: qty, Available: rec.Available()}
			}
			rec.Reserved += qty
			rec.UpdatedAt = now
			if err := tx.UpsertStockRecord(ctx, rec); err != nil {
				return err
			}
			res := Reservation{DocumentID: documentID, ProductRef: ref, Quantity: qty}
			if err := tx.AddReservation(ctx, res); err != nil {
				return err
			}
			held = append(held, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

// Release frees every hold the document still owns.
func (s *Service) Release(ctx context.Context, documentID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reservations, err := tx.ListReservations(ctx, documentID)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}
		now := time.Now().UTC()
		for _, res := range reservations {
			rec, err := tx.GetStockForUpdate(ctx, res.ProductRef)
			if err != nil {
				return err
			}
			rec.Reserved -= res.Quantity
			if rec.Reserved < 0 {
				rec.Reserved = 0
			}
			rec.UpdatedAt = now
			if err := tx.UpsertStockRecord(ctx, rec); err != nil {
				return err
			}
		}
		return tx.DeleteReservations(ctx, documentID)
	})
}

// GetStock returns the stock record for a product.
func (s *Service) GetStock(ctx context.Context, productRef string) (StockRecord, error) {
	if productRef == "" {
		return StockRecord{}, fmt.Errorf("inventory: product ref required")
	}
	return s.repo.GetStockRecord(ctx, productRef)
}

// Movements lists the full ledger for a document, reversals included.
func (s *Service) Movements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	return s.repo.ListMovements(ctx, documentID)
}

// ProductMovements lists the most recent ledger entries for one product.
func (s *Service) ProductMovements(ctx context.Context, productRef string, limit int) ([]StockMovement, error) {
	if productRef == "" {
		return nil, fmt.Errorf("inventory: product ref required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListProductMovements(ctx, productRef, limit)
}

func aggregateLines(lines []MovementLine) (map[string]float64, []string, error) {
	quantities := make(map[string]float64)
	refs := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ProductRef == "" || line.Quantity == 0 {
			continue
		}
		if line.Quantity < 0 {
			return nil, nil, ErrInvalidQuantity
		}
		if _, seen := quantities[line.ProductRef]; !seen {
			refs = append(refs, line.ProductRef)
		}
		quantities[line.ProductRef] += line.Quantity
	}
	// Deterministic lock order avoids deadlocks between concurrent documents
	// touching the same products.
	sort.Strings(refs)
	return quantities, refs, nil
}

func filterMovements(movements []StockMovement, reversal bool) []StockMovement {
	var out []StockMovement
	for _, m := range movements {
		if m.Reversal == reversal {
			out = append(out, m)
		}
	}
	return out
}

func originalDirection(delta float64) Direction {
	if delta < 0 {
		return DirectionDecrease
	}
	return DirectionIncrease
}

func invert(d Direction) Direction {
	switch d {
	case DirectionIncrease:
		return DirectionDecrease
	case DirectionDecrease:
		return DirectionIncrease
	}
	return d
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
