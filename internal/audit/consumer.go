package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/devops-roadmap/roadmap-api/internal/metrics"
	inats "github.com/devops-roadmap/roadmap-api/internal/nats"
)

const (
	consumerName = "audit-persister"

	// A row that still fails after this many deliveries is dropped from the
	// stream and only shows up in the persisted_total{status="error"} metric.
	maxDeliveries = 5
)

// Inserter persists audit logs.
type Inserter interface {
	Insert(ctx context.Context, log *AuditLog) error
}

// Consumer listens on the audit event NATS subject and persists entries to the database.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.ConsumerSpec{
		Durable:       consumerName,
		FilterSubject: inats.SubjectAuditEvent,
		MaxDeliver:    maxDeliveries,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg.Data(), msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

type acker interface {
	Ack() error
	Nak() error
}

func (c *Consumer) handleEvent(ctx context.Context, data []byte, msg acker) {
	var event inats.AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		metrics.AuditEventsPersistedTotal.WithLabelValues("malformed").Inc()
		// Redelivery cannot fix a bad payload.
		_ = msg.Ack()
		return
	}

	log := eventToLog(event)
	if err := c.repo.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		metrics.AuditEventsPersistedTotal.WithLabelValues("error").Inc()
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	metrics.AuditEventsPersistedTotal.WithLabelValues("ok").Inc()

	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"owner", event.OwnerUserID,
		"resource_id", event.ResourceID,
	)
}

// eventToLog converts a bus event into a row. Events about a reset reuse the
// reset's id so a redelivered event is stored once.
func eventToLog(event inats.AuditEvent) *AuditLog {
	log := &AuditLog{
		ID:           uuid.New(),
		OwnerUserID:  event.OwnerUserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		CreatedAt:    event.Timestamp,
	}
	if parsed, err := uuid.Parse(event.ResourceID); err == nil {
		log.ID = parsed
	}
	if log.Severity == "" {
		log.Severity = "info"
	}

	// Store Details as JSONB {"message": "..."}
	detailsMap := map[string]string{"message": event.Details}
	if data, err := json.Marshal(detailsMap); err == nil {
		log.Details = data
	}
	return log
}
