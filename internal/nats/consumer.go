package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec describes a durable pull consumer on StreamEvents.
type ConsumerSpec struct {
	Durable       string
	FilterSubject string
	MaxDeliver    int           // 0 means unlimited redeliveries
	AckWait       time.Duration // 0 keeps the server default
}

// ConsumerManager creates the durable consumers the API reads from.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates the consumer described by spec, or updates it when
// it already exists with a different configuration.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    spec.MaxDeliver,
		AckWait:       spec.AckWait,
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = -1
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, StreamEvents, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Durable, StreamEvents, err)
	}
	return consumer, nil
}
