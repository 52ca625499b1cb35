// Package events delivers order events to the users they concern.
package events

import (
	"context"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/messaging"
)

const Topic = "order.events"

type Publisher interface {
	Publish(ctx context.Context, userID string, event domain.OrderEvent) error
}

// KafkaPublisher keys every message by recipient.
type KafkaPublisher struct {
	producer *messaging.Producer
}

func NewKafkaPublisher(producer *messaging.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, userID string, event domain.OrderEvent) error {
	event.UserID = userID
	return p.producer.Publish(ctx, userID, event)
}
