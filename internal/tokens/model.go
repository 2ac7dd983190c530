package tokens

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenType identifies what a reset token may be spent on.
type TokenType string

const (
	TokenQuiz        TokenType = "quiz"
	TokenLab         TokenType = "lab"
	TokenBattleDrill TokenType = "battleDrill"
)

// AllTokenTypes returns every token type in display order.
func AllTokenTypes() []TokenType {
	return []TokenType{TokenQuiz, TokenLab, TokenBattleDrill}
}

// ParseTokenType accepts the canonical names as well as the legacy
// "<type>-reset" names still sent by older clients.
func ParseTokenType(s string) (TokenType, error) {
	switch strings.TrimSpace(s) {
	case "quiz", "quiz-reset":
		return TokenQuiz, nil
	case "lab", "lab-reset":
		return TokenLab, nil
	case "battleDrill", "battle-drill", "battle-drill-reset":
		return TokenBattleDrill, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTokenType, s)
}

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenQuiz, TokenLab, TokenBattleDrill:
		return true
	}
	return false
}

// Label is the human readable name shown to learners.
func (t TokenType) Label() string {
	switch t {
	case TokenQuiz:
		return "Quiz"
	case TokenLab:
		return "Lab"
	case TokenBattleDrill:
		return "Battle Drill"
	}
	return string(t)
}

// Allocation is a learner's reset budget for one Monday to Sunday week.
type Allocation struct {
	ID        uuid.UUID         `json:"id"`
	UserID    string            `json:"user_id"`
	WeekStart time.Time         `json:"week_start"`
	WeekEnd   time.Time         `json:"week_end"`
	Quota     map[TokenType]int `json:"quota"`
	Used      map[TokenType]int `json:"used"`
	CreatedAt time.Time         `json:"created_at"`
}

// Remaining returns how many tokens of type t are left this week.
func (a *Allocation) Remaining(t TokenType) int {
	return a.Quota[t] - a.Used[t]
}

// RemainingByType returns Remaining for every token type.
func (a *Allocation) RemainingByType() map[TokenType]int {
	out := make(map[TokenType]int, len(a.Quota))
	for _, t := range AllTokenTypes() {
		out[t] = a.Remaining(t)
	}
	return out
}

// Clone returns a deep copy so callers never share the counter maps.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	c := *a
	c.Quota = make(map[TokenType]int, len(a.Quota))
	c.Used = make(map[TokenType]int, len(a.Used))
	for k, v := range a.Quota {
		c.Quota[k] = v
	}
	for k, v := range a.Used {
		c.Used[k] = v
	}
	return &c
}

// ResetEvent records a single token consumption. Events are never updated
// or deleted.
type ResetEvent struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	Type       TokenType `json:"type"`
	UsedAt     time.Time `json:"used_at"`
	ItemID     string    `json:"item_id"`
	ItemTitle  string    `json:"item_title"`
	WeekNumber *int      `json:"week_number,omitempty"`
	Reason     *string   `json:"reason,omitempty"`
}

// EventQuery narrows an EventStore read. A zero Limit means unbounded.
type EventQuery struct {
	Type  *TokenType
	Limit int
}

// DenialReason explains why a reset was refused.
type DenialReason string

const (
	ReasonQuotaExhausted      DenialReason = "quota_exhausted"
	ReasonCooldownActive      DenialReason = "cooldown_active"
	ReasonAllocationNotLoaded DenialReason = "allocation_not_loaded"
)

// Eligibility is the outcome of an eligibility check.
type Eligibility struct {
	Allowed                  bool         `json:"allowed"`
	Reason                   DenialReason `json:"reason,omitempty"`
	Message                  string       `json:"message,omitempty"`
	CooldownRemainingMinutes int          `json:"cooldown_remaining_minutes,omitempty"`
	Remaining                int          `json:"remaining"`
}

// UseRequest carries the inputs of UseToken.
type UseRequest struct {
	UserID     string
	Type       TokenType
	ItemID     string
	ItemTitle  string
	WeekNumber *int
	Reason     *string
}

// UseResult is the outcome of UseToken. Denials are reported here, not as errors.
type UseResult struct {
	Success                  bool         `json:"success"`
	Reason                   DenialReason `json:"error,omitempty"`
	Message                  string       `json:"message,omitempty"`
	CooldownRemainingMinutes int          `json:"cooldown_remaining_minutes,omitempty"`
	Allocation               *Allocation  `json:"allocation,omitempty"`
	Event                    *ResetEvent  `json:"event,omitempty"`
}

// ItemResetCount is one row of the most-reset ranking.
type ItemResetCount struct {
	ItemID       string    `json:"item_id"`
	ItemTitle    string    `json:"item_title"`
	Type         TokenType `json:"type"`
	ResetCount   int       `json:"reset_count"`
	FirstResetAt time.Time `json:"first_reset_at"`
}

// UsageStats summarises a learner's whole reset history.
type UsageStats struct {
	TotalResetsUsed      int               `json:"total_resets_used"`
	ResetsByType         map[TokenType]int `json:"resets_by_type"`
	AverageResetsPerWeek float64           `json:"average_resets_per_week"`
	ActiveWeeks          int               `json:"active_weeks"`
	MostResetsInWeek     int               `json:"most_resets_in_week"`
	ItemsMostReset       []ItemResetCount  `json:"items_most_reset"`
}

func emptyUsageStats() UsageStats {
	byType := make(map[TokenType]int, 3)
	for _, t := range AllTokenTypes() {
		byType[t] = 0
	}
	return UsageStats{
		ResetsByType:   byType,
		ItemsMostReset: []ItemResetCount{},
	}
}
