//go:build integration

package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "roadmap_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/roadmap_test?sslmode=disable", host, port.Port())

	mig, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		log.Fatalf("creating migrator: %v", err)
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("running migrations: %v", err)
	}

	testPool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connecting to postgres: %v", err)
	}

	code := m.Run()

	testPool.Close()
	container.Terminate(ctx)
	os.Exit(code)
}

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE reset_events, token_allocation_counters, token_allocations`)
	require.NoError(t, err)
	return NewPostgresStore(testPool)
}

func TestPostgresStore_InsertIfAbsentKeepsFirst(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	week := NewWeekCalculator(time.UTC).Window(wed)

	first := &Allocation{UserID: "u1", WeekStart: week.Start, WeekEnd: week.End,
		Quota: DefaultConfig().quotas(), Used: map[TokenType]int{}}
	stored, err := store.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)

	second := &Allocation{UserID: "u1", WeekStart: week.Start, WeekEnd: week.End,
		Quota: map[TokenType]int{TokenQuiz: 9, TokenLab: 9, TokenBattleDrill: 9}, Used: map[TokenType]int{}}
	stored, err = store.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, 2, stored.Quota[TokenQuiz])

	found, err := store.FindByUserAndWeek(ctx, "u1", week)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, map[TokenType]int{TokenQuiz: 0, TokenLab: 0, TokenBattleDrill: 0}, found.Used)

	missing, err := store.FindByUserAndWeek(ctx, "u2", week)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresStore_UpdateIfQuotaAllows(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	week := NewWeekCalculator(time.UTC).Window(wed)

	_, err := store.UpdateIfQuotaAllows(ctx, "u1", week.Start, TokenLab, 1)
	assert.ErrorIs(t, err, ErrAllocationNotFound)

	_, err = store.InsertIfAbsent(ctx, &Allocation{UserID: "u1", WeekStart: week.Start, WeekEnd: week.End,
		Quota: DefaultConfig().quotas(), Used: map[TokenType]int{}})
	require.NoError(t, err)

	ok, err := store.UpdateIfQuotaAllows(ctx, "u1", week.Start, TokenLab, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateIfQuotaAllows(ctx, "u1", week.Start, TokenLab, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.UpdateIfQuotaAllows(ctx, "u1", week.Start, TokenQuiz, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_QueryByUserOrdering(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	appendEvents(t, store,
		ResetEvent{UserID: "u1", Type: TokenQuiz, ItemID: "a", UsedAt: wed},
		ResetEvent{UserID: "u1", Type: TokenLab, ItemID: "b", UsedAt: wed.Add(time.Hour)},
		ResetEvent{UserID: "u2", Type: TokenQuiz, ItemID: "c", UsedAt: wed},
		ResetEvent{UserID: "u1", Type: TokenQuiz, ItemID: "d", UsedAt: wed},
	)

	events, err := store.QueryByUser(ctx, "u1", EventQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "a"}, itemIDs(events))

	quiz := TokenQuiz
	events, err = store.QueryByUser(ctx, "u1", EventQuery{Type: &quiz, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, itemIDs(events))
}

func TestPostgresStore_WithinTxRollsBack(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx Store) error {
		_, err := tx.Append(ctx, &ResetEvent{UserID: "u1", Type: TokenQuiz, ItemID: "a", UsedAt: wed})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	events, err := store.QueryByUser(ctx, "u1", EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostgresStore_ServiceScenario(t *testing.T) {
	clock := newManualClock(wed)
	svc := newTestService(t, newPostgresStore(t), clock)
	ctx := context.Background()

	res, err := svc.UseToken(ctx, useReq("u1", TokenLab, "l1"))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Allocation.Remaining(TokenLab))

	clock.Advance(time.Hour)
	res, err = svc.UseToken(ctx, useReq("u1", TokenLab, "l2"))
	require.NoError(t, err)
	assert.Equal(t, ReasonQuotaExhausted, res.Reason)

	// Next Monday brings a fresh allocation.
	clock.Set(time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC))
	res, err = svc.UseToken(ctx, useReq("u1", TokenLab, "l2"))
	require.NoError(t, err)
	assert.True(t, res.Success)

	stats, err := svc.GetUsageStats(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalResetsUsed)
	assert.Equal(t, 2, stats.ActiveWeeks)
}

func TestPostgresStore_ConcurrentUseHonoursQuota(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMinutes = 0
	cfg.MaxRetries = 5
	svc := NewService(newPostgresStore(t), cfg, WithClock(newManualClock(wed)))
	ctx := context.Background()

	_, err := svc.LoadAllocation(ctx, "u1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.UseToken(ctx, useReq("u1", TokenBattleDrill, fmt.Sprintf("d%d", i)))
			if err == nil && res.Success {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), successes.Load())

	alloc, err := svc.LoadAllocation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, alloc.Remaining(TokenBattleDrill))

	events, err := svc.RecentResets(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
