package patient

import (
	"context"
	"time"
)

// Snapshot is the complete record collection keyed by patient id.
type Snapshot map[string]Record

// Store persists the whole snapshot as one unit. Every mutation is a full
// load, modify and save cycle run through Mutate.
type Store interface {
	LoadAll(ctx context.Context) (Snapshot, error)
	SaveAll(ctx context.Context, snap Snapshot) error
	// Mutate loads the snapshot, applies fn and saves the result while
	// holding exclusive access. Nothing is saved when fn returns an error.
	Mutate(ctx context.Context, fn func(Snapshot) error) error
}

// OpObserver receives the outcome of each store operation.
type OpObserver interface {
	ObserveStoreOp(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStoreOp(string, time.Duration, error) {}
