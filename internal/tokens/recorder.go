package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// errDenied aborts a consume transaction that hit a quota or cooldown limit.
var errDenied = errors.New("reset denied")

// Recorder consumes reset tokens.
type Recorder struct {
	store       Store
	provisioner *Provisioner
	checker     *EligibilityChecker
	clock       Clock
	maxRetries  int
}

// NewRecorder creates a Recorder. maxRetries bounds how many times a consume
// transaction that lost a race is attempted.
func NewRecorder(store Store, provisioner *Provisioner, checker *EligibilityChecker, clock Clock, maxRetries int) *Recorder {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Recorder{
		store:       store,
		provisioner: provisioner,
		checker:     checker,
		clock:       clock,
		maxRetries:  maxRetries,
	}
}

// UseToken spends one token of req.Type. Quota and cooldown refusals are
// returned as an unsuccessful UseResult; errors are reserved for invalid
// input and storage faults, and leave nothing persisted.
func (r *Recorder) UseToken(ctx context.Context, req UseRequest) (UseResult, error) {
	if err := req.validate(); err != nil {
		return UseResult{}, err
	}

	alloc, err := r.provisioner.EnsureAllocation(ctx, req.UserID)
	if err != nil {
		return UseResult{}, err
	}

	recent, err := latestEvents(ctx, r.store, req.UserID, req.Type)
	if err != nil {
		return UseResult{}, err
	}

	// The UI checks too; this check is the one that counts.
	if e := r.checker.Check(alloc, recent, req.Type); !e.Allowed {
		return deniedResult(e), nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		result, err := r.consume(ctx, alloc, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConflict) {
			return UseResult{}, err
		}
		lastErr = err
		slog.Debug("tokens: consume conflict, retrying",
			"user_id", req.UserID, "type", req.Type, "attempt", attempt)
	}
	return UseResult{}, writeFailure("consuming token",
		fmt.Errorf("giving up after %d attempts: %w", r.maxRetries, lastErr))
}

// consume performs the counter increment and the event append as one unit.
func (r *Recorder) consume(ctx context.Context, alloc *Allocation, req UseRequest) (UseResult, error) {
	var result UseResult
	week := Week{Start: alloc.WeekStart, End: alloc.WeekEnd}

	err := r.store.WithinTx(ctx, func(tx Store) error {
		ok, err := tx.UpdateIfQuotaAllows(ctx, req.UserID, alloc.WeekStart, req.Type, 1)
		if errors.Is(err, ErrAllocationNotFound) {
			result = deniedResult(r.checker.Check(nil, nil, req.Type))
			return errDenied
		}
		if err != nil {
			return writeFailure("incrementing used counter", err)
		}
		if !ok {
			exhausted := alloc.Clone()
			exhausted.Used[req.Type] = exhausted.Quota[req.Type]
			result = deniedResult(r.checker.Check(exhausted, nil, req.Type))
			return errDenied
		}

		// Re-read under the counter lock so a concurrent reset that just
		// committed is visible.
		recent, err := latestEvents(ctx, tx, req.UserID, req.Type)
		if err != nil {
			return err
		}
		if denial, blocked := r.checker.checkCooldown(recent, req.Type, alloc.Remaining(req.Type)); blocked {
			result = deniedResult(denial)
			return errDenied
		}

		event := &ResetEvent{
			UserID:     req.UserID,
			Type:       req.Type,
			UsedAt:     r.clock.Now(),
			ItemID:     req.ItemID,
			ItemTitle:  req.ItemTitle,
			WeekNumber: req.WeekNumber,
			Reason:     req.Reason,
		}
		id, err := tx.Append(ctx, event)
		if err != nil {
			return writeFailure("appending reset event", err)
		}
		event.ID = id

		updated, err := tx.FindByUserAndWeek(ctx, req.UserID, week)
		if err != nil {
			return readFailure("reloading allocation", err)
		}
		result = UseResult{Success: true, Allocation: updated, Event: event}
		return nil
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, errDenied):
		return result, nil
	case errors.Is(err, ErrConflict), IsStoreFailure(err):
		return UseResult{}, err
	default:
		return UseResult{}, writeFailure("consuming token", err)
	}
}

func latestEvents(ctx context.Context, events EventStore, userID string, t TokenType) ([]ResetEvent, error) {
	recent, err := events.QueryByUser(ctx, userID, EventQuery{Type: &t, Limit: 1})
	if err != nil {
		return nil, readFailure("querying recent resets", err)
	}
	return recent, nil
}

func deniedResult(e Eligibility) UseResult {
	return UseResult{
		Success:                  false,
		Reason:                   e.Reason,
		Message:                  e.Message,
		CooldownRemainingMinutes: e.CooldownRemainingMinutes,
	}
}

func (req UseRequest) validate() error {
	if req.UserID == "" {
		return ErrNotAuthenticated
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTokenType, req.Type)
	}
	if strings.TrimSpace(req.ItemID) == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidRequest)
	}
	return nil
}
