package events

import (
	"fmt"
	"time"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func event(t domain.EventType, userID string, order *domain.Order, at time.Time, msg string) domain.OrderEvent {
	return domain.OrderEvent{
		Type:       t,
		UserID:     userID,
		OrderID:    order.ID,
		Status:     order.Status,
		Message:    msg,
		OccurredAt: at,
	}
}

// Created addresses one new_order event to every seller of order.
func Created(order *domain.Order, at time.Time) []domain.OrderEvent {
	var out []domain.OrderEvent
	for _, sellerID := range order.SellerIDs() {
		out = append(out, event(domain.EventNewOrder, sellerID, order, at,
			fmt.Sprintf("New order #%s received", shortID(order.ID))))
	}
	return out
}

func Paid(order *domain.Order, at time.Time) []domain.OrderEvent {
	return []domain.OrderEvent{event(domain.EventOrderPaid, order.BuyerID, order, at,
		fmt.Sprintf("Payment received for order #%s", shortID(order.ID)))}
}

// StatusChanged tells the buyer about a new status. Delivery gets its own
// event type.
func StatusChanged(order *domain.Order, at time.Time) []domain.OrderEvent {
	if order.Status == domain.OrderStatusDelivered {
		return Delivered(order, at)
	}
	return []domain.OrderEvent{event(domain.EventOrderStatusUpdate, order.BuyerID, order, at,
		fmt.Sprintf("Order #%s is now %s", shortID(order.ID), order.Status))}
}

// Assigned notifies the carrier, and the buyer when the order started
// shipping.
func Assigned(order *domain.Order, shipped bool, at time.Time) []domain.OrderEvent {
	out := []domain.OrderEvent{event(domain.EventOrderAssigned, order.Shipment.CarrierID, order, at,
		fmt.Sprintf("Order #%s has been assigned to you", shortID(order.ID)))}
	if shipped {
		out = append(out, event(domain.EventOrderShipped, order.BuyerID, order, at,
			fmt.Sprintf("Order #%s has shipped, tracking %s", shortID(order.ID), order.Shipment.TrackingNumber)))
	}
	return out
}

func Delivered(order *domain.Order, at time.Time) []domain.OrderEvent {
	return []domain.OrderEvent{event(domain.EventOrderDelivered, order.BuyerID, order, at,
		fmt.Sprintf("Order #%s has been delivered", shortID(order.ID)))}
}
