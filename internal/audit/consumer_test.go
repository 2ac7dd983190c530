package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/devops-roadmap/roadmap-api/internal/nats"
)

type fakeInserter struct {
	logs []*AuditLog
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, log *AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, log)
	return nil
}

type fakeMsg struct {
	acked, naked bool
}

func (m *fakeMsg) Ack() error { m.acked = true; return nil }
func (m *fakeMsg) Nak() error { m.naked = true; return nil }

func TestEventToLog_ResetResourceID(t *testing.T) {
	eventID := uuid.New()
	event := inats.AuditEvent{
		OwnerUserID:  "learner-1",
		EventType:    "reset_token_used",
		Severity:     "info",
		ResourceType: "reset_event",
		ResourceID:   eventID.String(),
		Details:      `Quiz reset used on "Linux Basics"`,
		Timestamp:    time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC),
	}

	log := eventToLog(event)

	assert.Equal(t, eventID, log.ID, "reset id reused for idempotent inserts")
	assert.Equal(t, "learner-1", log.OwnerUserID)
	assert.Equal(t, "reset_token_used", log.EventType)
	assert.Equal(t, "reset_event", log.ResourceType)
	assert.Equal(t, eventID.String(), log.ResourceID)
	assert.Equal(t, event.Timestamp, log.CreatedAt)

	var details map[string]string
	require.NoError(t, json.Unmarshal(log.Details, &details))
	assert.Equal(t, `Quiz reset used on "Linux Basics"`, details["message"])
}

func TestEventToLog_NonUUIDResource(t *testing.T) {
	log := eventToLog(inats.AuditEvent{
		OwnerUserID: "learner-1",
		EventType:   "custom_event",
		ResourceID:  "not-a-uuid",
	})

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "not-a-uuid", log.ResourceID)
	assert.Equal(t, "info", log.Severity)
}

func TestConsumer_HandleEvent(t *testing.T) {
	payload, err := json.Marshal(inats.AuditEvent{OwnerUserID: "u1", EventType: "reset_token_used"})
	require.NoError(t, err)

	t.Run("persists and acks", func(t *testing.T) {
		repo := &fakeInserter{}
		msg := &fakeMsg{}
		NewConsumer(repo, nil).handleEvent(context.Background(), payload, msg)

		require.Len(t, repo.logs, 1)
		assert.Equal(t, "u1", repo.logs[0].OwnerUserID)
		assert.True(t, msg.acked)
		assert.False(t, msg.naked)
	})

	t.Run("naks on store failure", func(t *testing.T) {
		repo := &fakeInserter{err: errors.New("db down")}
		msg := &fakeMsg{}
		NewConsumer(repo, nil).handleEvent(context.Background(), payload, msg)

		assert.True(t, msg.naked)
		assert.False(t, msg.acked)
	})

	t.Run("acks malformed payload without storing", func(t *testing.T) {
		repo := &fakeInserter{}
		msg := &fakeMsg{}
		NewConsumer(repo, nil).handleEvent(context.Background(), []byte("{"), msg)

		assert.Empty(t, repo.logs)
		assert.True(t, msg.acked)
	})
}
