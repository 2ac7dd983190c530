package tokens

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EligibilityChecker decides whether a reset is currently permitted. It does
// no I/O; callers supply the allocation and the recent events.
type EligibilityChecker struct {
	clock    Clock
	cooldown time.Duration
}

// NewEligibilityChecker creates a checker enforcing cooldown between resets
// of the same type.
func NewEligibilityChecker(clock Clock, cooldown time.Duration) *EligibilityChecker {
	return &EligibilityChecker{clock: clock, cooldown: cooldown}
}

// Check applies the weekly quota and then the cooldown. recent must be
// ordered newest first; events of other types are ignored.
func (c *EligibilityChecker) Check(alloc *Allocation, recent []ResetEvent, t TokenType) Eligibility {
	if alloc == nil {
		return Eligibility{
			Allowed: false,
			Reason:  ReasonAllocationNotLoaded,
			Message: "Token allocation is still loading",
		}
	}

	remaining := alloc.Remaining(t)
	if remaining <= 0 {
		return Eligibility{
			Allowed:   false,
			Reason:    ReasonQuotaExhausted,
			Message:   fmt.Sprintf("No %s resets remaining this week", strings.ToLower(t.Label())),
			Remaining: 0,
		}
	}

	if denial, blocked := c.checkCooldown(recent, t, remaining); blocked {
		return denial
	}

	return Eligibility{Allowed: true, Remaining: remaining}
}

// checkCooldown reports whether the newest event of type t is still inside
// the cooldown window.
func (c *EligibilityChecker) checkCooldown(recent []ResetEvent, t TokenType, remaining int) (Eligibility, bool) {
	last := latestOfType(recent, t)
	if last == nil {
		return Eligibility{}, false
	}
	left := c.cooldownLeft(last.UsedAt)
	if left <= 0 {
		return Eligibility{}, false
	}
	minutes := int(math.Ceil(left.Minutes()))
	return Eligibility{
		Allowed:                  false,
		Reason:                   ReasonCooldownActive,
		Message:                  fmt.Sprintf("Cooldown active. Wait %d more minute(s)", minutes),
		CooldownRemainingMinutes: minutes,
		Remaining:                remaining,
	}, true
}

func (c *EligibilityChecker) cooldownLeft(usedAt time.Time) time.Duration {
	elapsed := c.clock.Now().Sub(usedAt)
	if elapsed >= c.cooldown {
		return 0
	}
	return c.cooldown - elapsed
}

func latestOfType(events []ResetEvent, t TokenType) *ResetEvent {
	for i := range events {
		if events[i].Type == t {
			return &events[i]
		}
	}
	return nil
}
