package tokens

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// manualClock is a Clock tests move by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// wed is Wednesday 2025-01-08 10:00 UTC, inside the week of Monday 2025-01-06.
var wed = time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return DefaultConfig()
}

func newTestService(t *testing.T, store Store, clock Clock, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewService(store, testConfig(), opts...)
}

func useReq(user string, typ TokenType, item string) UseRequest {
	return UseRequest{UserID: user, Type: typ, ItemID: item, ItemTitle: "Title of " + item}
}

// faultyStore wraps a MemoryStore and injects failures.
type faultyStore struct {
	*MemoryStore

	mu        sync.Mutex
	findErr   error
	queryErr  error
	appendErr error
	conflicts int // WithinTx calls that fail with ErrConflict before succeeding
	txCalls   int
}

func newFaultyStore() *faultyStore { return &faultyStore{MemoryStore: NewMemoryStore()} }

func (s *faultyStore) FindByUserAndWeek(ctx context.Context, userID string, week Week) (*Allocation, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStore.FindByUserAndWeek(ctx, userID, week)
}

func (s *faultyStore) QueryByUser(ctx context.Context, userID string, q EventQuery) ([]ResetEvent, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.MemoryStore.QueryByUser(ctx, userID, q)
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	s.txCalls++
	conflict := s.conflicts > 0
	if conflict {
		s.conflicts--
	}
	s.mu.Unlock()

	return s.MemoryStore.WithinTx(ctx, func(tx Store) error {
		if conflict {
			// Mutate first so a leaked write would be visible.
			if _, err := tx.Append(ctx, &ResetEvent{UserID: "leak"}); err != nil {
				return err
			}
			return ErrConflict
		}
		return fn(&faultyTx{Store: tx, appendErr: s.appendErr})
	})
}

func (s *faultyStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCalls
}

type faultyTx struct {
	Store
	appendErr error
}

func (t *faultyTx) Append(ctx context.Context, e *ResetEvent) (uuid.UUID, error) {
	if t.appendErr != nil {
		return uuid.Nil, t.appendErr
	}
	return t.Store.Append(ctx, e)
}
