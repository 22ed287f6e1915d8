// Package gate provides the admission-control primitive for outgoing sends.
package gate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidLimit is returned when a Gate is constructed with a
// non-positive concurrency limit.
var ErrInvalidLimit = errors.New("gate: limit must be positive")

// Gate is a counting semaphore bounding how many send operations run at
// once. Waiters are served in FIFO order; Release wakes exactly one.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a Gate admitting at most limit concurrent holders.
func New(limit int) (*Gate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: limit}, nil
}

// Limit reports the configured concurrency limit.
func (g *Gate) Limit() int { return g.limit }

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("gate: acquire: %w", err)
	}
	return nil
}

// Release frees one slot and wakes the oldest waiter, if any.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Run executes task while holding a slot. The slot is released on every
// exit path, including a panicking task.
func (g *Gate) Run(ctx context.Context, task func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return task(ctx)
}
