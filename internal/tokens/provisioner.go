package tokens

import (
	"context"

	"github.com/google/uuid"
)

// Provisioner guarantees that a learner has exactly one allocation for the
// current week.
type Provisioner struct {
	store  AllocationStore
	weeks  WeekCalculator
	clock  Clock
	quotas map[TokenType]int
}

// NewProvisioner creates a Provisioner. Quotas are copied so later changes
// to cfg never reach allocations created from it.
func NewProvisioner(store AllocationStore, weeks WeekCalculator, clock Clock, cfg Config) *Provisioner {
	return &Provisioner{
		store:  store,
		weeks:  weeks,
		clock:  clock,
		quotas: cfg.quotas(),
	}
}

// EnsureAllocation returns the caller's allocation for the current week,
// creating it with zero usage when it does not exist yet.
func (p *Provisioner) EnsureAllocation(ctx context.Context, userID string) (*Allocation, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	now := p.clock.Now()
	week := p.weeks.Window(now)

	existing, err := p.store.FindByUserAndWeek(ctx, userID, week)
	if err != nil {
		return nil, readFailure("finding allocation", err)
	}
	if existing != nil {
		return existing, nil
	}

	fresh := p.newAllocation(userID, week)
	stored, err := p.store.InsertIfAbsent(ctx, fresh)
	if err != nil {
		return nil, writeFailure("inserting allocation", err)
	}
	return stored, nil
}

func (p *Provisioner) newAllocation(userID string, week Week) *Allocation {
	quota := make(map[TokenType]int, len(p.quotas))
	used := make(map[TokenType]int, len(p.quotas))
	for _, t := range AllTokenTypes() {
		quota[t] = p.quotas[t]
		used[t] = 0
	}
	return &Allocation{
		ID:        uuid.New(),
		UserID:    userID,
		WeekStart: week.Start,
		WeekEnd:   week.End,
		Quota:     quota,
		Used:      used,
		CreatedAt: p.clock.Now(),
	}
}
