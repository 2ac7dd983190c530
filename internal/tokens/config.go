package tokens

import "time"

// Config is the process-wide token policy. It is read once at startup.
type Config struct {
	QuotaPerWeek    map[TokenType]int
	CooldownMinutes int
	MaxRetries      int
	TopItems        int
	Location        *time.Location
}

// DefaultConfig returns the stock policy: 2 quiz, 1 lab and 3 battle drill
// resets per week with a 30 minute cooldown.
func DefaultConfig() Config {
	return Config{
		QuotaPerWeek: map[TokenType]int{
			TokenQuiz:        2,
			TokenLab:         1,
			TokenBattleDrill: 3,
		},
		CooldownMinutes: 30,
		MaxRetries:      3,
		TopItems:        5,
		Location:        time.UTC,
	}
}

// Cooldown returns CooldownMinutes as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

func (c Config) quotas() map[TokenType]int {
	out := make(map[TokenType]int, len(c.QuotaPerWeek))
	for _, t := range AllTokenTypes() {
		out[t] = c.QuotaPerWeek[t]
	}
	return out
}
