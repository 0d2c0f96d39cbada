// Package repo stores signals by id and by input event hash.
//
// Two flavors share one contract: a bounded in-memory FIFO map for
// single-process runs, and a Postgres-backed store whose upsert keys
// on the deterministic signal id so retries are harmless. A Redis
// decorator can front either for cross-process recent lookups.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/riskcast/omen/internal/domain"
)

// ErrNotFound is returned when no signal matches the lookup.
var ErrNotFound = errors.New("signal not found")

// SignalRepository is the storage contract the pipeline depends on.
type SignalRepository interface {
	// Save persists the signal under both indices. Saving the same
	// signal id twice is an upsert, not an error.
	Save(ctx context.Context, signal domain.Signal) error

	// FindByID returns the signal with the given id.
	FindByID(ctx context.Context, signalID string) (domain.Signal, error)

	// FindByHash returns the signal derived from the event with the
	// given input hash. This is the pipeline's idempotency lookup.
	FindByHash(ctx context.Context, inputEventHash string) (domain.Signal, error)

	// FindRecent returns up to limit signals in reverse insertion
	// order; a non-zero since filters to signals generated after it.
	FindRecent(ctx context.Context, limit int, since time.Time) ([]domain.Signal, error)
}
