// Package numbering issues sequential document numbers per (series, period)
// namespace. Numbers are durably recorded before they are handed out, so a
// crash can skip work but never duplicate a number.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"

	"github.com/matola-erp/matola-erp/internal/documents"
	"github.com/matola-erp/matola-erp/internal/shared"
)

// ErrAllocationConflict indicates the counter write failed or raced. No
// number was issued; the caller retries the whole createDocument call.
var ErrAllocationConflict = shared.ErrAllocationConflict

// Store abstracts the durable counter table.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore exposes the counter operations inside one transaction. The read
// must hold a row lock so two allocators never observe the same last value.
type TxStore interface {
	GetLastForUpdate(ctx context.Context, series, period string) (int64, bool, error)
	SetLast(ctx context.Context, series, period string, value int64) error
}

// Config tunes the allocator.
type Config struct {
	// StartAt is the first sequence issued for a fresh (series, period),
	// letting a deployment continue an existing paper numbering scheme.
	StartAt int64
	// LockTTL bounds how long the cross-process lock is held.
	LockTTL time.Duration
}

// Allocator hands out the next number for a (series, period) pair.
// Allocation is serialized three ways: an in-process mutex per key, an
// optional redis lock across processes, and the row lock on the counter.
type Allocator struct {
	store   Store
	locker  *redislock.Client
	startAt int64
	lockTTL time.Duration

	mu      sync.Mutex
	keyLock map[string]*sync.Mutex
}

// NewAllocator builds an Allocator. locker may be nil for single-process
// deployments; the database row lock still serializes allocation.
func NewAllocator(store Store, locker *redislock.Client, cfg Config) *Allocator {
	startAt := cfg.StartAt
	if startAt < 1 {
		startAt = 1
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Allocator{
		store:   store,
		locker:  locker,
		startAt: startAt,
		lockTTL: ttl,
		keyLock: make(map[string]*sync.Mutex),
	}
}

// NextNumber issues the next sequence for (series, period) and durably
// records it before returning. On any failure no number is returned and the
// stored counter is unchanged.
func (a *Allocator) NextNumber(ctx context.Context, series, period string) (documents.DocumentNumber, error) {
	if series == "" {
		return documents.DocumentNumber{}, fmt.Errorf("numbering: series required")
	}
	if period == "" {
		return documents.DocumentNumber{}, fmt.Errorf("numbering: period required")
	}

	key := shared.SequenceLockKey(series, period)
	mu := a.keyMutex(key)
	mu.Lock()
	defer mu.Unlock()

	if a.locker != nil {
		lock, err := a.locker.Obtain(ctx, key, a.lockTTL, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
		})
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				return documents.DocumentNumber{}, fmt.Errorf("%w: lock not obtained for %s", ErrAllocationConflict, key)
			}
			return documents.DocumentNumber{}, fmt.Errorf("%w: %w", ErrAllocationConflict, err)
		}
		defer func() { _ = lock.Release(ctx) }()
	}

	var next int64
	err := a.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		last, found, err := tx.GetLastForUpdate(ctx, series, period)
		if err != nil {
			return err
		}
		if found {
			next = last + 1
		} else {
			next = a.startAt
		}
		return tx.SetLast(ctx, series, period, next)
	})
	if err != nil {
		if errors.Is(err, shared.ErrPersistence) {
			return documents.DocumentNumber{}, fmt.Errorf("%w: %w", ErrAllocationConflict, err)
		}
		return documents.DocumentNumber{}, err
	}
	return documents.DocumentNumber{Series: series, Period: period, Sequence: next}, nil
}

func (a *Allocator) keyMutex(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	mu, ok := a.keyLock[key]
	if !ok {
		mu = &sync.Mutex{}
		a.keyLock[key] = mu
	}
	return mu
}
