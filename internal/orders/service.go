package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/events"
	"github.com/joao-fontenele/fulfillment/internal/ledger"
	"github.com/joao-fontenele/fulfillment/internal/pricing"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
	"github.com/joao-fontenele/fulfillment/internal/workflow"
)

const (
	DefaultMaxAttempts  = 5
	DefaultDeliveryDays = 7
)

type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, order *domain.Order) error
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)
	CarrierStats(ctx context.Context, carrierID string) (domain.CarrierStats, error)
}

// UnitOfWork scopes repository calls made inside fn to one transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Resolver interface {
	Resolve(ctx context.Context, lines []domain.LineRequest) ([]domain.OrderItem, error)
}

type Directory interface {
	Lookup(ctx context.Context, userID string) (*domain.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, events ...domain.OrderEvent)
}

// Deps bundles the collaborators of Service. Clock, TrackingNumber and
// MaxAttempts fall back to defaults when zero.
type Deps struct {
	Orders         Repository
	UnitOfWork     UnitOfWork
	Ledger         *ledger.Ledger
	Catalog        Resolver
	Directory      Directory
	Notifier       Notifier
	Pricing        pricing.Calculator
	Clock          func() time.Time
	TrackingNumber func() string
	MaxAttempts    uint
	RetryInterval  time.Duration
	Logger         *slog.Logger
}

type Service struct {
	orders        Repository
	uow           UnitOfWork
	ledger        *ledger.Ledger
	catalog       Resolver
	directory     Directory
	notifier      Notifier
	pricing       pricing.Calculator
	clock         func() time.Time
	trackingNo    func() string
	maxAttempts   uint
	retryInterval time.Duration
	logger        *slog.Logger
}

func NewService(deps Deps) (*Service, error) {
	if deps.Orders == nil {
		return nil, errors.New("orders service: order repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("orders service: unit of work is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("orders service: ledger is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("orders service: catalog resolver is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("orders service: user directory is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("orders service: notifier is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	trackingNo := deps.TrackingNumber
	if trackingNo == nil {
		trackingNo = randomTrackingNumber
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryInterval := deps.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 10 * time.Millisecond
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		orders:    deps.Orders,
		uow:       deps.UnitOfWork,
		ledger:    deps.Ledger,
		catalog:   deps.Catalog,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		pricing:   deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		trackingNo:    trackingNo,
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
		logger:        logger,
	}, nil
}

func randomTrackingNumber() string {
	return fmt.Sprintf("TRK%06d", rand.IntN(1_000_000))
}

type CreateOrderInput struct {
	Items           []domain.LineRequest
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	// Totals is optional; when set it must agree with the resolved items.
	Totals *domain.Totals
}

func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, in CreateOrderInput) (*domain.Order, error) {
	if actor.Role != domain.RoleBuyer && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only buyers can place orders", domain.ErrForbidden)
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	items, err := s.catalog.Resolve(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	totals, err := s.pricing.Reconcile(items, in.Totals)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		BuyerID:         actor.ID,
		Items:           items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Totals:          totals,
		Status:          domain.OrderStatusPending,
		CreatedAt:       s.clock(),
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	telemetry.OrdersCreated.Add(ctx, 1)
	s.logger.Info("order created",
		"order_id", order.ID,
		"buyer_id", order.BuyerID,
		"items", len(order.Items),
		"total_price", order.TotalPrice.StringFixed(2),
	)

	s.notifier.Notify(ctx, events.Created(order, order.CreatedAt)...)
	return order, nil
}

func validateCreate(in CreateOrderInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", domain.ErrValidation)
	}
	for i, line := range in.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: item %d is missing product_id", domain.ErrValidation, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", domain.ErrValidation, i)
		}
	}
	if missing := in.ShippingAddress.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: shipping address is missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if in.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", domain.ErrValidation)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, in.PaymentMethod)
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrForbidden, id)
	}
	return order, nil
}

func canView(actor domain.Actor, order *domain.Order) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleBuyer:
		return order.BuyerID == actor.ID
	case domain.RoleSeller:
		return order.HasSeller(actor.ID) || order.BuyerID == actor.ID
	case domain.RoleShipper:
		return order.IsCarrier(actor.ID)
	}
	return false
}

func (s *Service) load(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return order, nil
}

type StatusChange struct {
	Status       domain.OrderStatus
	CancelReason string
}

func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, id string, change StatusChange) (*domain.Order, error) {
	return s.mutate(ctx, actor, id, func(order *domain.Order, now time.Time) (mutation, error) {
		if err := workflow.Authorize(actor, order, change.Status); err != nil {
			return mutation{}, err
		}

		order.Status = change.Status
		m := mutation{events: events.StatusChanged}

		switch change.Status {
		case domain.OrderStatusCancelled:
			order.CancelReason = strings.TrimSpace(change.CancelReason)
		case domain.OrderStatusShipped:
			m.ledger = ensurePending
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
			m.ledger = completePayouts
		}

		return m, nil
	})
}

// MarkPaid records a payment confirmation. Confirming an already paid order
// changes nothing.
func (s *Service) MarkPaid(ctx context.Context, actor domain.Actor, id string, result domain.PaymentResult) (*domain.Order, error) {
	return s.mutate(ctx, actor, id, func(order *domain.Order, now time.Time) (mutation, error) {
		if !actor.IsAdmin() && order.BuyerID != actor.ID {
			return mutation{}, fmt.Errorf("%w: only the buyer can pay order %s", domain.ErrForbidden, order.ID)
		}
		if order.Status == domain.OrderStatusCancelled {
			return mutation{}, fmt.Errorf("%w: order %s is cancelled", domain.ErrInvalidTransition, order.ID)
		}
		if order.IsPaid {
			return mutation{unchanged: true}, nil
		}

		order.IsPaid = true
		order.PaidAt = &now
		order.PaymentResult = &result
		return mutation{events: events.Paid}, nil
	})
}

type ledgerEffect int

const (
	noLedger ledgerEffect = iota
	ensurePending
	completePayouts
)

type mutation struct {
	ledger ledgerEffect
	events func(order *domain.Order, at time.Time) []domain.OrderEvent
	// unchanged skips the write entirely.
	unchanged bool
}

type mutateFunc func(order *domain.Order, now time.Time) (mutation, error)

// mutate runs one read-modify-write of an order, together with its ledger
// effect, in a single transaction. A concurrent writer makes the attempt fail
// with domain.ErrConflictRetry; the whole attempt, including the
// authorization in apply, is then repeated against the fresh order.
func (s *Service) mutate(ctx context.Context, actor domain.Actor, id string, apply mutateFunc) (*domain.Order, error) {
	var (
		m    mutation
		from domain.OrderStatus
		now  time.Time
	)

	attempt := func() (*domain.Order, error) {
		var order *domain.Order

		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			current, err := s.load(ctx, id)
			if err != nil {
				return err
			}

			from = current.Status
			now = s.clock()

			m, err = apply(current, now)
			if err != nil {
				return err
			}
			if m.unchanged {
				order = current
				return nil
			}

			current.UpdatedAt = now
			if err := s.orders.Update(ctx, current); err != nil {
				return err
			}

			switch m.ledger {
			case ensurePending:
				if _, err := s.ledger.EnsurePending(ctx, current); err != nil {
					return fmt.Errorf("ensure pending payouts: %w", err)
				}
			case completePayouts:
				if _, _, err := s.ledger.CompleteForOrder(ctx, current); err != nil {
					return fmt.Errorf("complete payouts: %w", err)
				}
			}

			order = current
			return nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflictRetry) {
				telemetry.OrderConflicts.Add(ctx, 1)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return order, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 20 * s.retryInterval

	order, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Debug("retrying order write", "order_id", id, "error", err, "wait", wait)
		}),
	)
	if err != nil {
		if errors.Is(err, domain.ErrConflictRetry) {
			s.logger.Warn("giving up on contended order", "order_id", id, "attempts", s.maxAttempts)
		}
		return nil, err
	}

	if m.unchanged {
		return order, nil
	}

	if order.Status != from {
		telemetry.OrderTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(order.Status)),
			attribute.String("role", string(actor.Role)),
		))
		s.logger.Info("order status changed",
			"order_id", order.ID,
			"from", from,
			"to", order.Status,
			"actor_id", actor.ID,
			"actor_role", actor.Role,
		)
	}

	if m.ledger != noLedger {
		s.ledger.Invalidate(ctx, order.SellerIDs()...)
	}
	if m.events != nil {
		s.notifier.Notify(ctx, m.events(order, now)...)
	}

	return order, nil
}

type ListQuery struct {
	Page   int
	Limit  int
	Status domain.OrderStatus
	Search string
	// DeliveredSince applies to carrier listings only.
	DeliveredSince *time.Time
}

func (s *Service) ListForBuyer(ctx context.Context, actor domain.Actor, q ListQuery) (*domain.OrderPage, error) {
	return s.list(ctx, OrderFilter{BuyerID: actor.ID}, q)
}

func (s *Service) ListForSeller(ctx context.Context, actor domain.Actor, q ListQuery) (*domain.OrderPage, error) {
	if actor.Role != domain.RoleSeller {
		return nil, fmt.Errorf("%w: seller listing requires the seller role", domain.ErrForbidden)
	}
	return s.list(ctx, OrderFilter{SellerID: actor.ID}, q)
}

func (s *Service) ListForCarrier(ctx context.Context, actor domain.Actor, q ListQuery) (*domain.OrderPage, error) {
	if actor.Role != domain.RoleShipper {
		return nil, fmt.Errorf("%w: carrier listing requires the shipper role", domain.ErrForbidden)
	}
	return s.list(ctx, OrderFilter{CarrierID: actor.ID, DeliveredSince: q.DeliveredSince}, q)
}

func (s *Service) ListAll(ctx context.Context, actor domain.Actor, q ListQuery) (*domain.OrderPage, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: listing all orders requires the admin role", domain.ErrForbidden)
	}
	return s.list(ctx, OrderFilter{}, q)
}

func (s *Service) list(ctx context.Context, filter OrderFilter, q ListQuery) (*domain.OrderPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, q.Status)
	}

	filter.Page, filter.Limit = domain.NormalizePage(q.Page, q.Limit)
	filter.Status = q.Status
	filter.Search = NormalizeSearch(q.Search)

	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	return &domain.OrderPage{
		Orders: orders,
		Page:   filter.Page,
		Pages:  domain.PageCount(total, filter.Limit),
		Total:  total,
	}, nil
}

// NormalizeSearch turns "#ab12" into "ab12" so users can paste displayed ids.
func NormalizeSearch(term string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(term), "#"))
}

func (s *Service) CarrierStats(ctx context.Context, actor domain.Actor) (domain.CarrierStats, error) {
	if actor.Role != domain.RoleShipper {
		return domain.CarrierStats{}, fmt.Errorf("%w: carrier stats require the shipper role", domain.ErrForbidden)
	}
	return s.orders.CarrierStats(ctx, actor.ID)
}

type PayoutQuery struct {
	// SellerID is honoured for admins only; sellers always see their own.
	SellerID string
	Page     int
	Limit    int
	Status   domain.PayoutStatus
}

func (s *Service) ListPayouts(ctx context.Context, actor domain.Actor, q PayoutQuery) (*domain.PayoutPage, error) {
	sellerID, err := payoutSubject(actor, q.SellerID)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListPayouts(ctx, sellerID, q.Page, q.Limit, q.Status)
}

func (s *Service) Earnings(ctx context.Context, actor domain.Actor, sellerID, timeframe string) (*domain.Earnings, error) {
	sellerID, err := payoutSubject(actor, sellerID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Earnings(ctx, sellerID, timeframe)
}

func payoutSubject(actor domain.Actor, requested string) (string, error) {
	switch actor.Role {
	case domain.RoleSeller:
		return actor.ID, nil
	case domain.RoleAdmin:
		if requested == "" {
			return "", fmt.Errorf("%w: seller_id is required", domain.ErrValidation)
		}
		return requested, nil
	}
	return "", fmt.Errorf("%w: payouts are visible to sellers only", domain.ErrForbidden)
}
