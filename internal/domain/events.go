package domain

import "time"

type EventType string

const (
	EventNewOrder          EventType = "new_order"
	EventOrderPaid         EventType = "order_paid"
	EventOrderStatusUpdate EventType = "order_status_update"
	EventOrderShipped      EventType = "order_shipped"
	EventOrderAssigned     EventType = "order_assigned"
	EventOrderDelivered    EventType = "order_delivered"
)

// OrderEvent is addressed to a single user.
type OrderEvent struct {
	Type       EventType   `json:"type"`
	UserID     string      `json:"user_id"`
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status,omitempty"`
	Message    string      `json:"message"`
	OccurredAt time.Time   `json:"occurred_at"`
}
