package tokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and single-instance
// development. Transactions work on a copy of the state that replaces the
// live state only on success.
type MemoryStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memoryState
	inTx    bool
}

type memoryState struct {
	allocations map[string][]*Allocation
	events      []ResetEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{allocations: make(map[string][]*Allocation)}}
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		allocations: make(map[string][]*Allocation, len(st.allocations)),
		events:      make([]ResetEvent, len(st.events)),
	}
	for user, list := range st.allocations {
		cl := make([]*Allocation, len(list))
		for i, a := range list {
			cl[i] = a.Clone()
		}
		c.allocations[user] = cl
	}
	copy(c.events, st.events)
	return c
}

func (s *MemoryStore) FindByUserAndWeek(ctx context.Context, userID string, week Week) (*Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.state.allocations[userID] {
		if week.Contains(a.WeekStart) {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, a *Allocation) (*Allocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lockWrite()
	defer s.unlockWrite()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.allocations[a.UserID] {
		if existing.WeekStart.Equal(a.WeekStart) {
			return existing.Clone(), nil
		}
	}
	stored := a.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	s.state.allocations[a.UserID] = append(s.state.allocations[a.UserID], stored)
	return stored.Clone(), nil
}

func (s *MemoryStore) UpdateIfQuotaAllows(ctx context.Context, userID string, weekStart time.Time, t TokenType, delta int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.lockWrite()
	defer s.unlockWrite()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.state.allocations[userID] {
		if !a.WeekStart.Equal(weekStart) {
			continue
		}
		next := a.Used[t] + delta
		if next < 0 || next > a.Quota[t] {
			return false, nil
		}
		a.Used[t] = next
		return true, nil
	}
	return false, ErrAllocationNotFound
}

func (s *MemoryStore) Append(ctx context.Context, e *ResetEvent) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.lockWrite()
	defer s.unlockWrite()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.mu.Lock()
	s.state.events = append(s.state.events, *e)
	s.mu.Unlock()
	return e.ID, nil
}

func (s *MemoryStore) QueryByUser(ctx context.Context, userID string, q EventQuery) ([]ResetEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []ResetEvent
	// Walk backwards so equal timestamps come out most recently appended first.
	for i := len(s.state.events) - 1; i >= 0; i-- {
		e := s.state.events[i]
		if e.UserID != userID {
			continue
		}
		if q.Type != nil && e.Type != *q.Type {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsedAt.After(out[j].UsedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	view := &MemoryStore{state: s.state.clone(), inTx: true}
	s.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = view.state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) lockWrite() {
	if !s.inTx {
		s.writeMu.Lock()
	}
}

func (s *MemoryStore) unlockWrite() {
	if !s.inTx {
		s.writeMu.Unlock()
	}
}
