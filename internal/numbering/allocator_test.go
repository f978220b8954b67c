package numbering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/matola-erp/matola-erp/internal/shared"
)

type memoryStore struct {
	mu   sync.Mutex
	last map[string]int64
	err  error
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{last: make(map[string]int64)}
}

func counterKey(series, period string) string {
	return fmt.Sprintf("%s:%s", series, period)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memoryTx{store: s})
}

func (tx *memoryTx) GetLastForUpdate(ctx context.Context, series, period string) (int64, bool, error) {
	last, found := tx.store.last[counterKey(series, period)]
	return last, found, nil
}

func (tx *memoryTx) SetLast(ctx context.Context, series, period string, value int64) error {
	if tx.store.err != nil {
		return tx.store.err
	}
	tx.store.last[counterKey(series, period)] = value
	return nil
}

func TestNextNumberStartsAtOne(t *testing.T) {
	allocator := NewAllocator(newMemoryStore(), nil, Config{})
	ctx := context.Background()

	number, err := allocator.NextNumber(ctx, "GE", "2025")
	require.NoError(t, err)
	require.Equal(t, "GE 2025/0001", number.String())

	number, err = allocator.NextNumber(ctx, "GE", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 2, number.Sequence)
}

func TestNextNumberSeedsFromStartAt(t *testing.T) {
	allocator := NewAllocator(newMemoryStore(), nil, Config{StartAt: 500})
	ctx := context.Background()

	number, err := allocator.NextNumber(ctx, "FAT", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 500, number.Sequence)

	number, err = allocator.NextNumber(ctx, "FAT", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 501, number.Sequence)
}

func TestNextNumberNamespacesSeriesAndPeriod(t *testing.T) {
	allocator := NewAllocator(newMemoryStore(), nil, Config{})
	ctx := context.Background()

	ge2025, err := allocator.NextNumber(ctx, "GE", "2025")
	require.NoError(t, err)
	fat2025, err := allocator.NextNumber(ctx, "FAT", "2025")
	require.NoError(t, err)
	ge2026, err := allocator.NextNumber(ctx, "GE", "2026")
	require.NoError(t, err)

	require.EqualValues(t, 1, ge2025.Sequence)
	require.EqualValues(t, 1, fat2025.Sequence)
	require.EqualValues(t, 1, ge2026.Sequence)
}

func TestNextNumberRequiresSeriesAndPeriod(t *testing.T) {
	allocator := NewAllocator(newMemoryStore(), nil, Config{})
	ctx := context.Background()

	_, err := allocator.NextNumber(ctx, "", "2025")
	require.Error(t, err)
	_, err = allocator.NextNumber(ctx, "GE", "")
	require.Error(t, err)
}

func TestNextNumberConcurrentAllocationsAreDistinct(t *testing.T) {
	allocator := NewAllocator(newMemoryStore(), nil, Config{})
	ctx := context.Background()

	const n = 50
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := allocator.NextNumber(ctx, "GE", "2025")
			if err != nil {
				t.Error(err)
				return
			}
			results <- number.Sequence
		}()
	}
	wg.Wait()
	close(results)

	issued := make([]int64, 0, n)
	for seq := range results {
		issued = append(issued, seq)
	}
	require.Len(t, issued, n)
	sort.Slice(issued, func(i, j int) bool { return issued[i] < issued[j] })
	for i, seq := range issued {
		require.EqualValues(t, i+1, seq, "sequence must be gapless")
	}
}

func TestNextNumberFailedWriteIssuesNothing(t *testing.T) {
	store := newMemoryStore()
	allocator := NewAllocator(store, nil, Config{})
	ctx := context.Background()

	store.err = fmt.Errorf("%w: serialization failure", shared.ErrPersistence)
	_, err := allocator.NextNumber(ctx, "GE", "2025")
	require.ErrorIs(t, err, ErrAllocationConflict)

	store.err = nil
	number, err := allocator.NextNumber(ctx, "GE", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 1, number.Sequence, "failed allocation must not consume a number")
}

func TestNextNumberNonPersistenceErrorPassesThrough(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("boom")
	allocator := NewAllocator(store, nil, Config{})

	_, err := allocator.NextNumber(context.Background(), "GE", "2025")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAllocationConflict)
}

func TestNextNumberWithRedisLock(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	locker := redislock.New(client)
	allocator := NewAllocator(newMemoryStore(), locker, Config{LockTTL: time.Second})
	ctx := context.Background()

	first, err := allocator.NextNumber(ctx, "FAT", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Sequence)

	second, err := allocator.NextNumber(ctx, "FAT", "2025")
	require.NoError(t, err)
	require.EqualValues(t, 2, second.Sequence)

	// Lock is released after each allocation.
	require.False(t, srv.Exists(shared.SequenceLockKey("FAT", "2025")))
}

func TestNextNumberRedisLockContention(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	locker := redislock.New(client)
	key := shared.SequenceLockKey("GE", "2025")

	// Hold the lock longer than the allocator is willing to retry.
	held, err := locker.Obtain(context.Background(), key, time.Minute, nil)
	require.NoError(t, err)
	defer held.Release(context.Background())

	allocator := NewAllocator(newMemoryStore(), locker, Config{LockTTL: time.Second})
	_, err = allocator.NextNumber(context.Background(), "GE", "2025")
	require.ErrorIs(t, err, ErrAllocationConflict)
}
