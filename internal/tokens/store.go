package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AllocationStore persists weekly allocations. Implementations must enforce
// uniqueness of (user, week start) and evaluate quota checks themselves.
type AllocationStore interface {
	// FindByUserAndWeek returns the allocation whose week start falls inside
	// week, or nil when there is none.
	FindByUserAndWeek(ctx context.Context, userID string, week Week) (*Allocation, error)

	// InsertIfAbsent stores a unless an allocation already exists for the
	// same user and week start, in which case the existing one is returned.
	InsertIfAbsent(ctx context.Context, a *Allocation) (*Allocation, error)

	// UpdateIfQuotaAllows adds delta to the used counter of type t only if
	// the result stays within [0, quota]. It reports false when the update
	// was rejected and ErrAllocationNotFound when no allocation matches.
	UpdateIfQuotaAllows(ctx context.Context, userID string, weekStart time.Time, t TokenType, delta int) (bool, error)
}

// EventStore is the append-only reset log.
type EventStore interface {
	Append(ctx context.Context, e *ResetEvent) (uuid.UUID, error)

	// QueryByUser returns the user's events newest first.
	QueryByUser(ctx context.Context, userID string, q EventQuery) ([]ResetEvent, error)
}

// Store combines both stores with a transaction boundary. Everything done
// through the Store handed to fn commits or rolls back together.
type Store interface {
	AllocationStore
	EventStore
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
