package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devops-roadmap/roadmap-api/internal/metrics"
	inats "github.com/devops-roadmap/roadmap-api/internal/nats"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	sideEffectTimeout = 5 * time.Second
)

// EventPublisher receives notifications about committed resets.
type EventPublisher interface {
	PublishTokenConsumed(ctx context.Context, event inats.TokenConsumed) error
	PublishAuditEvent(ctx context.Context, event inats.AuditEvent) error
}

// Service is the entry point for everything the UI does with reset tokens.
type Service struct {
	store       Store
	weeks       WeekCalculator
	clock       Clock
	provisioner *Provisioner
	checker     *EligibilityChecker
	recorder    *Recorder
	stats       *StatsAggregator
	cache       StatsCache
	publisher   EventPublisher
	topItems    int
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithStatsCache caches GetUsageStats results between resets.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher emits events after every committed reset.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService wires the token components around store.
func NewService(store Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		weeks:    NewWeekCalculator(cfg.Location),
		clock:    SystemClock{},
		topItems: cfg.TopItems,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.topItems <= 0 {
		s.topItems = DefaultConfig().TopItems
	}

	s.provisioner = NewProvisioner(store, s.weeks, s.clock, cfg)
	s.checker = NewEligibilityChecker(s.clock, cfg.Cooldown())
	s.recorder = NewRecorder(store, s.provisioner, s.checker, s.clock, cfg.MaxRetries)
	s.stats = NewStatsAggregator(store, s.weeks, s.topItems)
	return s
}

// LoadAllocation returns the caller's allocation for the current week,
// creating it on first access.
func (s *Service) LoadAllocation(ctx context.Context, userID string) (*Allocation, error) {
	alloc, err := s.provisioner.EnsureAllocation(ctx, userID)
	if err != nil {
		s.logFault("load_allocation", userID, err)
		return nil, err
	}
	metrics.AllocationsLoadedTotal.Inc()
	return alloc, nil
}

// DaysUntilRefresh returns the days left until the next weekly refresh.
func (s *Service) DaysUntilRefresh() int {
	return s.weeks.DaysUntilRefresh(s.clock.Now())
}

// CheckEligibility reports whether a token of type t could be spent now.
// It does not modify anything.
func (s *Service) CheckEligibility(ctx context.Context, userID string, t TokenType) (Eligibility, error) {
	if !t.Valid() {
		return Eligibility{}, fmt.Errorf("%w: %q", ErrInvalidTokenType, t)
	}
	alloc, err := s.LoadAllocation(ctx, userID)
	if err != nil {
		return Eligibility{}, err
	}
	recent, err := latestEvents(ctx, s.store, userID, t)
	if err != nil {
		s.logFault("check_eligibility", userID, err)
		return Eligibility{}, err
	}
	return s.checker.Check(alloc, recent, t), nil
}

// UseToken spends one token. See Recorder.UseToken.
func (s *Service) UseToken(ctx context.Context, req UseRequest) (UseResult, error) {
	result, err := s.recorder.UseToken(ctx, req)
	if err != nil {
		s.logFault("use_token", req.UserID, err)
		return UseResult{}, err
	}
	if !result.Success {
		metrics.TokensDeniedTotal.WithLabelValues(string(req.Type), string(result.Reason)).Inc()
		return result, nil
	}

	metrics.TokensConsumedTotal.WithLabelValues(string(req.Type)).Inc()
	s.afterConsume(ctx, result)
	return result, nil
}

// afterConsume runs the side effects of a committed reset. None of them can
// undo the reset, so failures are only logged. They run detached from the
// request so a client that disconnects after the commit still gets its
// reset announced.
func (s *Service) afterConsume(ctx context.Context, result UseResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	event := result.Event
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, event.UserID); err != nil {
			slog.Warn("invalidating usage stats cache", "error", err, "user_id", event.UserID)
		}
	}
	if s.publisher == nil {
		return
	}

	consumed := inats.TokenConsumed{
		EventID:    event.ID,
		UserID:     event.UserID,
		TokenType:  string(event.Type),
		ItemID:     event.ItemID,
		ItemTitle:  event.ItemTitle,
		WeekStart:  result.Allocation.WeekStart,
		Remaining:  result.Allocation.Remaining(event.Type),
		WeekNumber: event.WeekNumber,
		UsedAt:     event.UsedAt,
	}
	if err := s.publisher.PublishTokenConsumed(ctx, consumed); err != nil {
		slog.Warn("publishing token consumed event", "error", err, "event_id", event.ID)
	}

	audit := inats.AuditEvent{
		OwnerUserID:  event.UserID,
		EventType:    "reset_token_used",
		Severity:     "info",
		ResourceType: "reset_event",
		ResourceID:   event.ID.String(),
		Details:      fmt.Sprintf("%s reset used on %q", event.Type.Label(), event.ItemTitle),
		Timestamp:    event.UsedAt,
	}
	if err := s.publisher.PublishAuditEvent(ctx, audit); err != nil {
		slog.Warn("publishing audit event", "error", err, "event_id", event.ID)
	}
}

// GetUsageStats summarises the caller's reset history. Results for the
// default ranking size are cached until the next reset.
func (s *Service) GetUsageStats(ctx context.Context, userID string, top int) (UsageStats, error) {
	if userID == "" {
		return UsageStats{}, ErrNotAuthenticated
	}
	if top <= 0 {
		top = s.topItems
	}
	cacheable := s.cache != nil && top == s.topItems

	// The generation is read before the store so a reset committed while
	// the stats are computed keeps them out of the cache.
	var gen int64
	if cacheable {
		cached, g, err := s.cache.Get(ctx, userID)
		gen = g
		switch {
		case err != nil:
			metrics.StatsCacheLookupsTotal.WithLabelValues("error").Inc()
			slog.Warn("reading usage stats cache", "error", err, "user_id", userID)
			cacheable = false
		case cached != nil:
			metrics.StatsCacheLookupsTotal.WithLabelValues("hit").Inc()
			return *cached, nil
		default:
			metrics.StatsCacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	stats, err := s.stats.UsageStats(ctx, userID, top)
	if err != nil {
		s.logFault("usage_stats", userID, err)
		return UsageStats{}, err
	}

	if cacheable {
		if err := s.cache.Set(ctx, userID, gen, stats); err != nil {
			slog.Warn("writing usage stats cache", "error", err, "user_id", userID)
		}
	}
	return stats, nil
}

// RecentResets returns the caller's latest resets, newest first.
func (s *Service) RecentResets(ctx context.Context, userID string, limit int) ([]ResetEvent, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	events, err := s.store.QueryByUser(ctx, userID, EventQuery{Limit: limit})
	if err != nil {
		err = readFailure("querying recent resets", err)
		s.logFault("recent_resets", userID, err)
		return nil, err
	}
	if events == nil {
		events = []ResetEvent{}
	}
	return events, nil
}

func (s *Service) logFault(op, userID string, err error) {
	if !IsStoreFailure(err) {
		return
	}
	metrics.TokenStoreErrorsTotal.WithLabelValues(op).Inc()
	slog.Error("token store failure", "op", op, "user_id", userID, "error", err)
}
