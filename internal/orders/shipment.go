package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/events"
)

type Assignment struct {
	CarrierID         string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// AssignCarrier attaches a carrier to an order. An order in processing starts
// shipping and gets its pending payouts; any other open order only has its
// shipment details replaced.
func (s *Service) AssignCarrier(ctx context.Context, actor domain.Actor, id string, in Assignment) (*domain.Order, error) {
	in.CarrierID = strings.TrimSpace(in.CarrierID)
	if in.CarrierID == "" {
		return nil, fmt.Errorf("%w: carrier_id is required", domain.ErrValidation)
	}
	if !actor.IsAdmin() && actor.Role != domain.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers and admins can assign carriers", domain.ErrForbidden)
	}

	// Permission and existence are checked before the directory is asked so
	// an unknown order reports NotFound, not a carrier problem.
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canAssign(actor, order); err != nil {
		return nil, err
	}

	if err := s.vetCarrier(ctx, in.CarrierID); err != nil {
		return nil, err
	}

	var shipped bool
	updated, err := s.mutate(ctx, actor, id, func(order *domain.Order, now time.Time) (mutation, error) {
		if err := canAssign(actor, order); err != nil {
			return mutation{}, err
		}

		order.Shipment = s.shipmentFor(order.Shipment, in, now)

		shipped = order.Status == domain.OrderStatusProcessing
		if !shipped {
			return mutation{events: func(o *domain.Order, at time.Time) []domain.OrderEvent {
				return events.Assigned(o, false, at)
			}}, nil
		}

		order.Status = domain.OrderStatusShipped
		return mutation{
			ledger: ensurePending,
			events: func(o *domain.Order, at time.Time) []domain.OrderEvent {
				return events.Assigned(o, true, at)
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("carrier assigned",
		"order_id", updated.ID,
		"carrier_id", in.CarrierID,
		"tracking_number", updated.Shipment.TrackingNumber,
		"shipped", shipped,
	)
	return updated, nil
}

func canAssign(actor domain.Actor, order *domain.Order) error {
	if !actor.IsAdmin() && !order.HasSeller(actor.ID) {
		return fmt.Errorf("%w: seller %s has no items in order %s", domain.ErrForbidden, actor.ID, order.ID)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, order.ID, order.Status)
	}
	return nil
}

func (s *Service) vetCarrier(ctx context.Context, carrierID string) error {
	user, err := s.directory.Lookup(ctx, carrierID)
	if err != nil {
		return fmt.Errorf("look up carrier: %w", err)
	}
	if user == nil {
		return fmt.Errorf("%w: unknown user %s", domain.ErrInvalidCarrier, carrierID)
	}
	if user.Role != domain.RoleShipper {
		return fmt.Errorf("%w: user %s is not a shipper", domain.ErrInvalidCarrier, carrierID)
	}
	if !user.Active() {
		return fmt.Errorf("%w: shipper %s is %s", domain.ErrInvalidCarrier, carrierID, user.Status)
	}
	return nil
}

// shipmentFor keeps the previous tracking number and estimate unless new ones
// are given, and generates them when there are none.
func (s *Service) shipmentFor(prev *domain.Shipment, in Assignment, now time.Time) *domain.Shipment {
	next := &domain.Shipment{CarrierID: in.CarrierID}

	switch {
	case strings.TrimSpace(in.TrackingNumber) != "":
		next.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	case prev != nil && prev.TrackingNumber != "":
		next.TrackingNumber = prev.TrackingNumber
	default:
		next.TrackingNumber = s.trackingNo()
	}

	switch {
	case in.EstimatedDelivery != nil:
		eta := in.EstimatedDelivery.UTC()
		next.EstimatedDelivery = &eta
	case prev != nil && prev.EstimatedDelivery != nil:
		next.EstimatedDelivery = prev.EstimatedDelivery
	default:
		eta := now.AddDate(0, 0, DefaultDeliveryDays)
		next.EstimatedDelivery = &eta
	}

	return next
}

// UploadDeliveryProof lets the assigned carrier confirm delivery. A shipped
// order becomes delivered; a delivered one gets its proof replaced. Both
// settle payouts through the same path as a direct status change.
func (s *Service) UploadDeliveryProof(ctx context.Context, actor domain.Actor, id, proof string) (*domain.Order, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, fmt.Errorf("%w: delivery proof is required", domain.ErrValidation)
	}

	return s.mutate(ctx, actor, id, func(order *domain.Order, now time.Time) (mutation, error) {
		if !order.IsCarrier(actor.ID) {
			return mutation{}, fmt.Errorf("%w: %s is not the carrier of order %s", domain.ErrForbidden, actor.ID, order.ID)
		}

		m := mutation{ledger: completePayouts}

		switch order.Status {
		case domain.OrderStatusShipped:
			order.Status = domain.OrderStatusDelivered
			order.DeliveredAt = &now
			m.events = events.Delivered
		case domain.OrderStatusDelivered:
		default:
			return mutation{}, fmt.Errorf("%w: order %s is %s, not shipped", domain.ErrInvalidTransition, order.ID, order.Status)
		}

		order.DeliveryProof = proof
		return m, nil
	})
}
