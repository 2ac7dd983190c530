package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes retried as ErrConflict.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps allocations, their per-type counters and the reset
// log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   dbtx
}

// NewPostgresStore creates a PostgresStore on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) FindByUserAndWeek(ctx context.Context, userID string, week Week) (*Allocation, error) {
	query := `
		SELECT a.id, a.user_id, a.week_start, a.week_end, a.created_at, c.token_type, c.quota, c.used
		FROM token_allocations a
		JOIN token_allocation_counters c ON c.allocation_id = a.id
		WHERE a.user_id = $1 AND a.week_start >= $2 AND a.week_start < $3
		ORDER BY a.week_start`

	rows, err := s.db.Query(ctx, query, userID, week.Start, week.next())
	if err != nil {
		return nil, pgError("querying allocation", err)
	}
	defer rows.Close()

	var alloc *Allocation
	for rows.Next() {
		var (
			row       Allocation
			tokenType string
			quota     int
			used      int
		)
		if err := rows.Scan(&row.ID, &row.UserID, &row.WeekStart, &row.WeekEnd, &row.CreatedAt,
			&tokenType, &quota, &used); err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		if alloc == nil {
			row.Quota = make(map[TokenType]int, 3)
			row.Used = make(map[TokenType]int, 3)
			alloc = &row
		}
		if row.ID != alloc.ID {
			continue
		}
		alloc.Quota[TokenType(tokenType)] = quota
		alloc.Used[TokenType(tokenType)] = used
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("reading allocation rows", err)
	}
	return alloc, nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, a *Allocation) (*Allocation, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	var stored *Allocation
	err := s.inTx(ctx, func(q *PostgresStore) error {
		// A concurrent insert of the same week blocks here until the other
		// transaction finishes, so the read below always sees counters.
		tag, err := q.db.Exec(ctx, `
			INSERT INTO token_allocations (id, user_id, week_start, week_end, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, week_start) DO NOTHING`,
			a.ID, a.UserID, a.WeekStart, a.WeekEnd, a.CreatedAt)
		if err != nil {
			return pgError("inserting allocation", err)
		}

		if tag.RowsAffected() == 1 {
			for _, t := range AllTokenTypes() {
				_, err := q.db.Exec(ctx, `
					INSERT INTO token_allocation_counters (allocation_id, token_type, quota, used)
					VALUES ($1, $2, $3, $4)`,
					a.ID, string(t), a.Quota[t], a.Used[t])
				if err != nil {
					return pgError("inserting allocation counter", err)
				}
			}
		}

		stored, err = q.FindByUserAndWeek(ctx, a.UserID, Week{Start: a.WeekStart, End: a.WeekEnd})
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("allocation for %s at %s vanished after insert", a.UserID, a.WeekStart)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *PostgresStore) UpdateIfQuotaAllows(ctx context.Context, userID string, weekStart time.Time, t TokenType, delta int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE token_allocation_counters c
		SET used = c.used + $4
		FROM token_allocations a
		WHERE c.allocation_id = a.id
		  AND a.user_id = $1
		  AND a.week_start = $2
		  AND c.token_type = $3
		  AND c.used + $4 <= c.quota
		  AND c.used + $4 >= 0`,
		userID, weekStart, string(t), delta)
	if err != nil {
		return false, pgError("updating used counter", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_allocations WHERE user_id = $1 AND week_start = $2)`,
		userID, weekStart).Scan(&exists)
	if err != nil {
		return false, pgError("checking allocation", err)
	}
	if !exists {
		return false, ErrAllocationNotFound
	}
	return false, nil
}

func (s *PostgresStore) Append(ctx context.Context, e *ResetEvent) (uuid.UUID, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO reset_events (id, user_id, token_type, used_at, item_id, item_title, week_number, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, string(e.Type), e.UsedAt, e.ItemID, e.ItemTitle, e.WeekNumber, e.Reason)
	if err != nil {
		return uuid.Nil, pgError("inserting reset event", err)
	}
	return e.ID, nil
}

func (s *PostgresStore) QueryByUser(ctx context.Context, userID string, q EventQuery) ([]ResetEvent, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}

	if q.Type != nil {
		args = append(args, string(*q.Type))
		conditions = append(conditions, fmt.Sprintf("token_type = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, token_type, used_at, item_id, item_title, week_number, reason
		FROM reset_events
		WHERE %s
		ORDER BY used_at DESC, seq DESC`, strings.Join(conditions, " AND "))
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError("querying reset events", err)
	}
	defer rows.Close()

	var events []ResetEvent
	for rows.Next() {
		var (
			e         ResetEvent
			tokenType string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &tokenType, &e.UsedAt, &e.ItemID, &e.ItemTitle,
			&e.WeekNumber, &e.Reason); err != nil {
			return nil, fmt.Errorf("scanning reset event: %w", err)
		}
		e.Type = TokenType(tokenType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("reading reset events", err)
	}
	return events, nil
}

// WithinTx runs fn in a READ COMMITTED transaction. The row lock taken by
// UpdateIfQuotaAllows serialises concurrent consumers of the same counter.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.inTx(ctx, func(q *PostgresStore) error { return fn(q) })
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q *PostgresStore) error) error {
	if s.pool == nil {
		return fn(s)
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
	return pgError("transaction", err)
}

// pgError maps retryable Postgres failures to ErrConflict and annotates the
// rest. Errors that did not come from Postgres pass through untouched.
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if errors.Is(err, errDenied) || errors.Is(err, ErrConflict) || IsStoreFailure(err) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s: %s", ErrConflict, op, pgErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
