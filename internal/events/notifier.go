package events

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

const DefaultTimeout = 2 * time.Second

// Notifier publishes events on a best-effort basis. A failed publish is
// logged and counted; it never reaches the caller.
type Notifier struct {
	publisher Publisher
	breaker   *resilience.Breaker
	timeout   time.Duration
	logger    *slog.Logger
}

func NewNotifier(publisher Publisher, breaker *resilience.Breaker, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		publisher: publisher,
		breaker:   breaker,
		timeout:   timeout,
		logger:    logger,
	}
}

func (n *Notifier) Notify(ctx context.Context, events ...domain.OrderEvent) {
	// The state change is already committed; a client hanging up must not
	// drop its notifications.
	ctx = context.WithoutCancel(ctx)

	for _, event := range events {
		if event.UserID == "" {
			continue
		}
		if err := n.publish(ctx, event); err != nil {
			telemetry.NotificationFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("type", string(event.Type))))
			n.logger.Warn("failed to publish order event",
				"error", err,
				"type", event.Type,
				"order_id", event.OrderID,
				"user_id", event.UserID,
			)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, event domain.OrderEvent) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := resilience.Execute(n.breaker, func() (struct{}, error) {
		return struct{}{}, n.publisher.Publish(ctx, event.UserID, event)
	})
	return err
}
