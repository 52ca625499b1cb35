// Package workflow holds the order state machine and the role policy that
// gates who may drive it.
package workflow

import (
	"fmt"
	"slices"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

var adjacency = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

type policy struct {
	targets []domain.OrderStatus
	// owns reports whether the actor is a party to the order in this role.
	owns func(actor domain.Actor, order *domain.Order) bool
	// precondition is checked after adjacency; nil means none.
	precondition func(order *domain.Order) bool
	// unrestricted skips ownership, adjacency and preconditions.
	unrestricted bool
}

var policies = map[domain.Role]policy{
	domain.RoleBuyer: {
		targets: []domain.OrderStatus{domain.OrderStatusCancelled},
		owns: func(actor domain.Actor, order *domain.Order) bool {
			return order.BuyerID == actor.ID
		},
		precondition: func(order *domain.Order) bool {
			return order.Status == domain.OrderStatusPending
		},
	},
	domain.RoleSeller: {
		targets: []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		owns: func(actor domain.Actor, order *domain.Order) bool {
			return order.HasSeller(actor.ID)
		},
	},
	domain.RoleShipper: {
		targets: []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered},
		owns: func(actor domain.Actor, order *domain.Order) bool {
			return order.IsCarrier(actor.ID)
		},
	},
	domain.RoleAdmin: {
		targets: []domain.OrderStatus{
			domain.OrderStatusPending,
			domain.OrderStatusProcessing,
			domain.OrderStatusShipped,
			domain.OrderStatusDelivered,
			domain.OrderStatusCancelled,
		},
		unrestricted: true,
	},
}

// CanTransition reports whether target directly follows current in the
// state machine.
func CanTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(adjacency[current], target)
}

// AllowedTargets lists the statuses a role may request, regardless of order state.
func AllowedTargets(role domain.Role) []domain.OrderStatus {
	return slices.Clone(policies[role].targets)
}

// Authorize decides whether actor may move order to target. It returns an
// error wrapping domain.ErrValidation, domain.ErrUnauthorized or
// domain.ErrInvalidTransition.
func Authorize(actor domain.Actor, order *domain.Order, target domain.OrderStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, target)
	}

	p, ok := policies[actor.Role]
	if !ok {
		return fmt.Errorf("%w: role %q may not change order status", domain.ErrUnauthorized, actor.Role)
	}
	if p.unrestricted {
		return nil
	}

	if !slices.Contains(p.targets, target) {
		return fmt.Errorf("%w: role %s may not set status %s", domain.ErrUnauthorized, actor.Role, target)
	}
	if !p.owns(actor, order) {
		return fmt.Errorf("%w: %s %s is not a party to order %s", domain.ErrUnauthorized, actor.Role, actor.ID, order.ID)
	}
	if !CanTransition(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
	}
	if p.precondition != nil && !p.precondition(order) {
		return fmt.Errorf("%w: role %s may not set %s while order is %s", domain.ErrUnauthorized, actor.Role, target, order.Status)
	}

	return nil
}
