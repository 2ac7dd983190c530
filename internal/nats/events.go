package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds every domain event the API emits.
const StreamEvents = "ROADMAP_EVENTS"

// Subject constants.
const (
	SubjectEventsAll     = "roadmap.events.>"
	SubjectTokenConsumed = "roadmap.events.tokens.consumed"
	SubjectAuditEvent    = "roadmap.events.audit"
)

// TokenConsumed is published after a reset token has been spent and committed.
type TokenConsumed struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     string    `json:"user_id"`
	TokenType  string    `json:"token_type"`
	ItemID     string    `json:"item_id"`
	ItemTitle  string    `json:"item_title"`
	WeekStart  time.Time `json:"week_start"`
	Remaining  int       `json:"remaining"`
	WeekNumber *int      `json:"week_number,omitempty"`
	UsedAt     time.Time `json:"used_at"`
}

// AuditEvent is published for compliance/audit logging.
type AuditEvent struct {
	OwnerUserID  string    `json:"owner_user_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
