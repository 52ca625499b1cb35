// Package notifier relays order events from Kafka to the notification
// webhook.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

const (
	DefaultMaxTries      = 4
	defaultRetryInterval = 200 * time.Millisecond
)

// Relay delivers each consumed event to the webhook. Events that still fail
// after the retries are logged and dropped so one bad recipient cannot stall
// the partition.
type Relay struct {
	http          *resty.Client
	webhookURL    string
	maxTries      uint
	retryInterval time.Duration
	logger        *slog.Logger
}

type Option func(*Relay)

func WithRetry(maxTries uint, interval time.Duration) Option {
	return func(r *Relay) {
		r.maxTries = maxTries
		r.retryInterval = interval
	}
}

func NewRelay(httpClient *resty.Client, webhookURL string, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		http:          httpClient,
		webhookURL:    webhookURL,
		maxTries:      DefaultMaxTries,
		retryInterval: defaultRetryInterval,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle matches messaging.Handler. It only returns an error when ctx is done,
// which leaves the message uncommitted for the next consumer.
func (r *Relay) Handle(ctx context.Context, key string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Error("dropping malformed order event", "error", err, "key", key)
		return nil
	}
	if event.UserID == "" {
		event.UserID = key
	}

	r.logger.Info("relaying order event",
		"type", event.Type,
		"order_id", event.OrderID,
		"user_id", event.UserID,
	)

	if err := r.deliver(ctx, event); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.NotificationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", string(event.Type))))
		r.logger.Error("failed to deliver order event",
			"error", err,
			"type", event.Type,
			"order_id", event.OrderID,
			"user_id", event.UserID,
		)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, event domain.OrderEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		resp, err := r.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", idempotencyKey(event)).
			SetBody(event).
			Post(r.webhookURL)
		if err != nil {
			return struct{}{}, fmt.Errorf("webhook request: %w", err)
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return struct{}{}, nil
		case status == http.StatusTooManyRequests || status >= 500:
			return struct{}{}, fmt.Errorf("webhook returned status %d", status)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook rejected event with status %d", status))
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Debug("retrying webhook", "error", err, "wait", wait, "order_id", event.OrderID)
		}),
	)
	return err
}

func idempotencyKey(event domain.OrderEvent) string {
	return fmt.Sprintf("%s:%s:%s:%d", event.Type, event.OrderID, event.UserID, event.OccurredAt.UnixNano())
}
