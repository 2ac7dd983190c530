package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishTokenConsumed announces a committed reset.
func (p *Publisher) PublishTokenConsumed(ctx context.Context, event TokenConsumed) error {
	// The event id doubles as the JetStream dedup key.
	return p.publish(ctx, SubjectTokenConsumed, event, jetstream.WithMsgID(event.EventID.String()))
}

// PublishAuditEvent publishes an audit event. Events about a resource are
// deduplicated per resource and event type.
func (p *Publisher) PublishAuditEvent(ctx context.Context, event AuditEvent) error {
	if event.ResourceID == "" {
		return p.publish(ctx, SubjectAuditEvent, event)
	}
	msgID := "audit:" + event.EventType + ":" + event.ResourceID
	return p.publish(ctx, SubjectAuditEvent, event, jetstream.WithMsgID(msgID))
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
