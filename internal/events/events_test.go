package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.OrderEvent
	err       error
	block     bool
}

func (p *recordingPublisher) Publish(ctx context.Context, userID string, event domain.OrderEvent) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	event.UserID = userID
	p.published = append(p.published, event)
	return nil
}

func newTestNotifier(pub Publisher, timeout time.Duration) (*Notifier, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	breaker := resilience.NewBreaker("events", resilience.DefaultBreakerSettings(), logger)
	return NewNotifier(pub, breaker, timeout, logger), &buf
}

var at = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:      "6f1c2d3e-aaaa-bbbb-cccc-000000000001",
		BuyerID: "buyer-1",
		Status:  domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{SellerID: "seller-a"},
			{SellerID: "seller-b"},
			{SellerID: "seller-a"},
		},
	}
}

func TestNotifier_Notify(t *testing.T) {
	t.Run("publishes to each recipient", func(t *testing.T) {
		pub := &recordingPublisher{}
		n, _ := newTestNotifier(pub, time.Second)

		n.Notify(context.Background(), Created(testOrder(), at)...)

		if len(pub.published) != 2 {
			t.Fatalf("expected 2 events, got %d", len(pub.published))
		}
		if pub.published[0].UserID != "seller-a" || pub.published[1].UserID != "seller-b" {
			t.Errorf("unexpected recipients: %s, %s", pub.published[0].UserID, pub.published[1].UserID)
		}
	})

	t.Run("failures are logged and swallowed", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("broker down")}
		n, logs := newTestNotifier(pub, time.Second)

		n.Notify(context.Background(), Paid(testOrder(), at)...)

		if !strings.Contains(logs.String(), "level=WARN") {
			t.Errorf("expected a WARN log, got %q", logs.String())
		}
		if !strings.Contains(logs.String(), "broker down") {
			t.Errorf("expected error in log, got %q", logs.String())
		}
	})

	t.Run("a stuck publisher is bounded by the timeout", func(t *testing.T) {
		pub := &recordingPublisher{block: true}
		n, _ := newTestNotifier(pub, 20*time.Millisecond)

		start := time.Now()
		n.Notify(context.Background(), Delivered(testOrder(), at)...)

		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("expected Notify to return promptly, took %s", elapsed)
		}
	})

	t.Run("cancelled request context still publishes", func(t *testing.T) {
		pub := &recordingPublisher{}
		n, _ := newTestNotifier(pub, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		n.Notify(ctx, Paid(testOrder(), at)...)

		if len(pub.published) != 1 {
			t.Errorf("expected 1 event, got %d", len(pub.published))
		}
	})
}

func TestMessages(t *testing.T) {
	t.Run("status change addresses the buyer", func(t *testing.T) {
		order := testOrder()
		order.Status = domain.OrderStatusProcessing

		got := StatusChanged(order, at)

		if len(got) != 1 || got[0].Type != domain.EventOrderStatusUpdate || got[0].UserID != "buyer-1" {
			t.Errorf("unexpected events: %+v", got)
		}
		if !strings.Contains(got[0].Message, "#6f1c2d3e") {
			t.Errorf("expected short order id in message, got %q", got[0].Message)
		}
	})

	t.Run("delivered status uses the delivery event", func(t *testing.T) {
		order := testOrder()
		order.Status = domain.OrderStatusDelivered

		got := StatusChanged(order, at)

		if len(got) != 1 || got[0].Type != domain.EventOrderDelivered {
			t.Errorf("unexpected events: %+v", got)
		}
	})

	t.Run("assignment notifies carrier and buyer when shipped", func(t *testing.T) {
		order := testOrder()
		order.Status = domain.OrderStatusShipped
		order.Shipment = &domain.Shipment{CarrierID: "shipper-1", TrackingNumber: "TRK123456"}

		got := Assigned(order, true, at)

		if len(got) != 2 {
			t.Fatalf("expected 2 events, got %d", len(got))
		}
		if got[0].UserID != "shipper-1" || got[0].Type != domain.EventOrderAssigned {
			t.Errorf("unexpected carrier event: %+v", got[0])
		}
		if got[1].UserID != "buyer-1" || got[1].Type != domain.EventOrderShipped {
			t.Errorf("unexpected buyer event: %+v", got[1])
		}
	})

	t.Run("metadata-only assignment notifies the carrier", func(t *testing.T) {
		order := testOrder()
		order.Shipment = &domain.Shipment{CarrierID: "shipper-1"}

		if got := Assigned(order, false, at); len(got) != 1 {
			t.Errorf("expected 1 event, got %d", len(got))
		}
	})
}
