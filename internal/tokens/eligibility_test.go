package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func allocWith(used map[TokenType]int) *Allocation {
	a := &Allocation{
		UserID: "u1",
		Quota:  DefaultConfig().quotas(),
		Used:   map[TokenType]int{TokenQuiz: 0, TokenLab: 0, TokenBattleDrill: 0},
	}
	for k, v := range used {
		a.Used[k] = v
	}
	return a
}

func TestEligibilityChecker_Check(t *testing.T) {
	clock := newManualClock(wed)
	checker := NewEligibilityChecker(clock, 30*time.Minute)
	event := func(typ TokenType, ago time.Duration) ResetEvent {
		return ResetEvent{Type: typ, UsedAt: wed.Add(-ago)}
	}

	tests := []struct {
		name   string
		alloc  *Allocation
		recent []ResetEvent
		typ    TokenType
		want   Eligibility
	}{
		{
			name: "allocation not loaded",
			typ:  TokenQuiz,
			want: Eligibility{Reason: ReasonAllocationNotLoaded, Message: "Token allocation is still loading"},
		},
		{
			name:  "fresh allocation",
			alloc: allocWith(nil),
			typ:   TokenQuiz,
			want:  Eligibility{Allowed: true, Remaining: 2},
		},
		{
			name:  "quota exhausted",
			alloc: allocWith(map[TokenType]int{TokenQuiz: 2}),
			typ:   TokenQuiz,
			want:  Eligibility{Reason: ReasonQuotaExhausted, Message: "No quiz resets remaining this week"},
		},
		{
			name:   "quota wins over cooldown",
			alloc:  allocWith(map[TokenType]int{TokenLab: 1}),
			recent: []ResetEvent{event(TokenLab, time.Minute)},
			typ:    TokenLab,
			want:   Eligibility{Reason: ReasonQuotaExhausted, Message: "No lab resets remaining this week"},
		},
		{
			name:   "cooldown active",
			alloc:  allocWith(map[TokenType]int{TokenQuiz: 1}),
			recent: []ResetEvent{event(TokenQuiz, 10 * time.Minute)},
			typ:    TokenQuiz,
			want: Eligibility{
				Reason: ReasonCooldownActive, Message: "Cooldown active. Wait 20 more minute(s)",
				CooldownRemainingMinutes: 20, Remaining: 1,
			},
		},
		{
			name:   "partial minute rounds up",
			alloc:  allocWith(nil),
			recent: []ResetEvent{event(TokenBattleDrill, 29*time.Minute+59*time.Second)},
			typ:    TokenBattleDrill,
			want: Eligibility{
				Reason: ReasonCooldownActive, Message: "Cooldown active. Wait 1 more minute(s)",
				CooldownRemainingMinutes: 1, Remaining: 3,
			},
		},
		{
			name:   "cooldown elapsed exactly",
			alloc:  allocWith(map[TokenType]int{TokenQuiz: 1}),
			recent: []ResetEvent{event(TokenQuiz, 30 * time.Minute)},
			typ:    TokenQuiz,
			want:   Eligibility{Allowed: true, Remaining: 1},
		},
		{
			name:   "cooldown is per type",
			alloc:  allocWith(map[TokenType]int{TokenQuiz: 1}),
			recent: []ResetEvent{event(TokenQuiz, time.Minute)},
			typ:    TokenLab,
			want:   Eligibility{Allowed: true, Remaining: 1},
		},
		{
			name:  "only newest event of the type counts",
			alloc: allocWith(map[TokenType]int{TokenBattleDrill: 1}),
			recent: []ResetEvent{
				event(TokenLab, time.Minute),
				event(TokenBattleDrill, 40*time.Minute),
				event(TokenBattleDrill, 5*time.Minute), // out of order, ignored
			},
			typ:  TokenBattleDrill,
			want: Eligibility{Allowed: true, Remaining: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.Check(tt.alloc, tt.recent, tt.typ))
		})
	}
}

func TestEligibilityChecker_ZeroQuota(t *testing.T) {
	checker := NewEligibilityChecker(newManualClock(wed), 30*time.Minute)
	a := allocWith(nil)
	a.Quota[TokenLab] = 0

	got := checker.Check(a, nil, TokenLab)
	assert.False(t, got.Allowed)
	assert.Equal(t, ReasonQuotaExhausted, got.Reason)
}
