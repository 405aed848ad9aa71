package counter

import (
	"context"

	"github.com/google/uuid"

	"tally/internal/coord"
)

// Atomic applies deltas to one stored counter.
type Atomic interface {
	Add(ctx context.Context, delta int64) (coord.AtomicValue, error)
	Subtract(ctx context.Context, delta int64) (coord.AtomicValue, error)
	Get(ctx context.Context) (coord.AtomicValue, error)
}

// OnceAtomic is an Atomic whose applies are keyed. Repeating AddOnce with
// the same id applies delta at most once.
type OnceAtomic interface {
	Atomic
	AddOnce(ctx context.Context, id uuid.UUID, delta int64) (coord.AtomicValue, error)
}

// Store is where counters live.
type Store interface {
	// EnsurePath makes path usable by Handle. It must be idempotent.
	EnsurePath(ctx context.Context, path string) error
	// Handle binds a counter to path without doing I/O.
	Handle(path string) Atomic
}

// CoordStore keeps counters as AtomicLong nodes in the coordination service.
type CoordStore struct {
	client coord.Client
	retry  coord.RetryNTimes
}

// NewCoordStore binds a store to client with the per-operation retry policy.
func NewCoordStore(client coord.Client, retry coord.RetryNTimes) *CoordStore {
	return &CoordStore{client: client, retry: retry}
}

// EnsurePath creates path and its parents.
func (s *CoordStore) EnsurePath(ctx context.Context, path string) error {
	return s.client.EnsurePath(ctx, path)
}

// Handle returns an AtomicLong bound to path.
func (s *CoordStore) Handle(path string) Atomic {
	return coord.NewAtomicLong(s.client, path, s.retry)
}
