package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	records      map[string]StockRecord
	movements    []StockMovement
	reservations map[uuid.UUID][]Reservation
	nextID       int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		records:      make(map[string]StockRecord),
		reservations: make(map[uuid.UUID][]Reservation),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStockRecord(ctx context.Context, productRef string) (StockRecord, error) {
	rec, ok := r.records[productRef]
	if !ok {
		return StockRecord{}, ErrStockNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range r.movements {
		if m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListProductMovements(ctx context.Context, productRef string, limit int) ([]StockMovement, error) {
	var out []StockMovement
	for i := len(r.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.movements[i].ProductRef == productRef {
			out = append(out, r.movements[i])
		}
	}
	return out, nil
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, productRef string) (StockRecord, error) {
	return tx.repo.GetStockRecord(context.Background(), productRef)
}

func (tx *memoryTx) UpsertStockRecord(ctx context.Context, record StockRecord) error {
	tx.repo.records[record.ProductRef] = record
	return nil
}

func (tx *memoryTx) AppendMovement(ctx context.Context, movement StockMovement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func (tx *memoryTx) ListMovements(ctx context.Context, documentID uuid.UUID) ([]StockMovement, error) {
	return tx.repo.ListMovements(ctx, documentID)
}

func (tx *memoryTx) ListReservations(ctx context.Context, documentID uuid.UUID) ([]Reservation, error) {
	return append([]Reservation(nil), tx.repo.reservations[documentID]...), nil
}

func (tx *memoryTx) AddReservation(ctx context.Context, res Reservation) error {
	tx.repo.reservations[res.DocumentID] = append(tx.repo.reservations[res.DocumentID], res)
	return nil
}

func (tx *memoryTx) DeleteReservations(ctx context.Context, documentID uuid.UUID) error {
	delete(tx.repo.reservations, documentID)
	return nil
}

func seed(repo *memoryRepo, ref string, onHand, reserved float64) {
	repo.records[ref] = StockRecord{ProductRef: ref, OnHand: onHand, Reserved: reserved}
}

func TestApplyIncreaseCreatesRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()

	movements, err := svc.Apply(ctx, docID, DirectionIncrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 10},
	})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.InDelta(t, 10.0, movements[0].QuantityDelta, 0.0001)

	rec, err := svc.GetStock(ctx, "SKU-1")
	require.NoError(t, err)
	require.InDelta(t, 10.0, rec.OnHand, 0.0001)
	require.InDelta(t, 10.0, rec.Available(), 0.0001)
}

func TestApplyIsIdempotentPerDocument(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()
	lines := []MovementLine{{ProductRef: "SKU-1", Quantity: 10}}

	first, err := svc.Apply(ctx, docID, DirectionIncrease, lines)
	require.NoError(t, err)

	second, err := svc.Apply(ctx, docID, DirectionIncrease, lines)
	require.NoError(t, err)
	require.Equal(t, first, second)

	rec, err := svc.GetStock(ctx, "SKU-1")
	require.NoError(t, err)
	require.InDelta(t, 10.0, rec.OnHand, 0.0001)
}

func TestApplyDecreaseDrawsDown(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 20, 0)
	svc := NewService(repo)

	movements, err := svc.Apply(context.Background(), uuid.New(), DirectionDecrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 8},
	})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.InDelta(t, -8.0, movements[0].QuantityDelta, 0.0001)

	rec := repo.records["SKU-1"]
	require.InDelta(t, 12.0, rec.OnHand, 0.0001)
}

func TestApplyDecreaseInsufficientLeavesEverythingUntouched(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 100, 0)
	seed(repo, "SKU-2", 1, 0)
	svc := NewService(repo)

	_, err := svc.Apply(context.Background(), uuid.New(), DirectionDecrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 5},
		{ProductRef: "SKU-2", Quantity: 3},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "SKU-2", stockErr.ProductRef)
	require.InDelta(t, 3.0, stockErr.Requested, 0.0001)
	require.InDelta(t, 1.0, stockErr.Available, 0.0001)
	require.InDelta(t, 2.0, stockErr.Shortfall(), 0.0001)

	// No partial application: SKU-1 untouched, no ledger entries.
	require.InDelta(t, 100.0, repo.records["SKU-1"].OnHand, 0.0001)
	require.Empty(t, repo.movements)
}

func TestApplyDecreaseRespectsOtherDocumentsReservations(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 10, 6)
	svc := NewService(repo)

	// Available is 4; the reservation belongs to another document.
	_, err := svc.Apply(context.Background(), uuid.New(), DirectionDecrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 5},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestApplyDecreaseReleasesOwnReservation(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 10, 6)
	svc := NewService(repo)
	docID := uuid.New()
	repo.reservations[docID] = []Reservation{{DocumentID: docID, ProductRef: "SKU-1", Quantity: 6}}

	// Available 4 plus the document's own hold of 6 covers the decrease.
	_, err := svc.Apply(context.Background(), docID, DirectionDecrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 6},
	})
	require.NoError(t, err)

	rec := repo.records["SKU-1"]
	require.InDelta(t, 4.0, rec.OnHand, 0.0001)
	require.InDelta(t, 0.0, rec.Reserved, 0.0001)
	require.Empty(t, repo.reservations[docID])
}

func TestApplyRejectsNegativeQuantity(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Apply(context.Background(), uuid.New(), DirectionIncrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: -1},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplyRejectsBadDirection(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.Apply(context.Background(), uuid.New(), DirectionNone, nil)
	require.ErrorIs(t, err, ErrInvalidDirection)
}

func TestApplyAggregatesDuplicateRefs(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	movements, err := svc.Apply(context.Background(), uuid.New(), DirectionIncrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 3},
		{ProductRef: "SKU-1", Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.InDelta(t, 5.0, movements[0].QuantityDelta, 0.0001)
	require.InDelta(t, 5.0, repo.records["SKU-1"].OnHand, 0.0001)
}

func TestReverseRestoresStockAndKeepsOriginals(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 20, 0)
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()

	_, err := svc.Apply(ctx, docID, DirectionDecrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 8},
	})
	require.NoError(t, err)
	require.InDelta(t, 12.0, repo.records["SKU-1"].OnHand, 0.0001)

	reversed, err := svc.Reverse(ctx, docID)
	require.NoError(t, err)
	require.Len(t, reversed, 1)
	require.True(t, reversed[0].Reversal)
	require.InDelta(t, 8.0, reversed[0].QuantityDelta, 0.0001)
	require.Equal(t, DirectionIncrease, reversed[0].Direction)
	require.InDelta(t, 20.0, repo.records["SKU-1"].OnHand, 0.0001)

	// Ledger keeps both entries.
	all, err := svc.Movements(ctx, docID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestReverseIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()

	_, err := svc.Apply(ctx, docID, DirectionIncrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 5},
	})
	require.NoError(t, err)

	first, err := svc.Reverse(ctx, docID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.Reverse(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.InDelta(t, 0.0, repo.records["SKU-1"].OnHand, 0.0001)
}

func TestReverseWithoutMovementsIsNoOp(t *testing.T) {
	svc := NewService(newMemoryRepo())
	reversed, err := svc.Reverse(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, reversed)
}

func TestReverseGuardsConsumedReceipt(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()

	_, err := svc.Apply(ctx, docID, DirectionIncrease, []MovementLine{
		{ProductRef: "SKU-1", Quantity: 10},
	})
	require.NoError(t, err)

	// Another document reserved most of the received quantity.
	rec := repo.records["SKU-1"]
	rec.Reserved = 8
	repo.records["SKU-1"] = rec

	_, err = svc.Reverse(ctx, docID)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.InDelta(t, 10.0, repo.records["SKU-1"].OnHand, 0.0001)
}

func TestReserveAndRelease(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 10, 0)
	svc := NewService(repo)
	ctx := context.Background()
	docID := uuid.New()

	held, err := svc.Reserve(ctx, docID, []MovementLine{{ProductRef: "SKU-1", Quantity: 4}})
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.InDelta(t, 4.0, repo.records["SKU-1"].Reserved, 0.0001)
	require.InDelta(t, 6.0, repo.records["SKU-1"].Available(), 0.0001)

	// Reserving again returns the existing hold without stacking.
	again, err := svc.Reserve(ctx, docID, []MovementLine{{ProductRef: "SKU-1", Quantity: 4}})
	require.NoError(t, err)
	require.Equal(t, held, again)
	require.InDelta(t, 4.0, repo.records["SKU-1"].Reserved, 0.0001)

	require.NoError(t, svc.Release(ctx, docID))
	require.InDelta(t, 0.0, repo.records["SKU-1"].Reserved, 0.0001)
	require.Empty(t, repo.reservations[docID])
}

func TestReserveRejectsOverAvailable(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, "SKU-1", 3, 0)
	svc := NewService(repo)

	_, err := svc.Reserve(context.Background(), uuid.New(), []MovementLine{{ProductRef: "SKU-1", Quantity: 5}})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.InDelta(t, 0.0, repo.records["SKU-1"].Reserved, 0.0001)
}

func TestReleaseWithoutHoldIsNoOp(t *testing.T) {
	svc := NewService(newMemoryRepo())
	require.NoError(t, svc.Release(context.Background(), uuid.New()))
}

func TestProductMovementsNewestFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Apply(ctx, uuid.New(), DirectionIncrease, []MovementLine{{ProductRef: "SKU-1", Quantity: 10}})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, uuid.New(), DirectionDecrease, []MovementLine{{ProductRef: "SKU-1", Quantity: 4}})
	require.NoError(t, err)

	movements, err := svc.ProductMovements(ctx, "SKU-1", 0)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.InDelta(t, -4.0, movements[0].QuantityDelta, 0.0001)
	require.InDelta(t, 10.0, movements[1].QuantityDelta, 0.0001)
}

func TestGetStockUnknownProduct(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.GetStock(context.Background(), "SKU-404")
	require.ErrorIs(t, err, ErrStockNotFound)
}
