package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/fulfillment/internal/catalog"
	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/ledger"
	"github.com/joao-fontenele/fulfillment/internal/ledger/ledgertest"
	"github.com/joao-fontenele/fulfillment/internal/pricing"
)

type memoryRepository struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*domain.Order

	// onUpdate runs before the version check of every Update call.
	onUpdate func(stored *domain.Order)
	updates  int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.Shipment != nil {
		s := *o.Shipment
		c.Shipment = &s
	}
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		c.PaymentResult = &pr
	}
	return &c
}

func (m *memoryRepository) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	order.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", m.seq)
	order.Version = 1
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (m *memoryRepository) Update(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates++
	stored, ok := m.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: order %s vanished", domain.ErrConflictRetry, order.ID)
	}
	if m.onUpdate != nil {
		m.onUpdate(stored)
	}
	if stored.Version != order.Version {
		return fmt.Errorf("%w: order %s version %d", domain.ErrConflictRetry, order.ID, order.Version)
	}

	order.Version++
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *memoryRepository) List(_ context.Context, f OrderFilter) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []domain.Order
	for _, o := range m.orders {
		switch {
		case f.BuyerID != "" && o.BuyerID != f.BuyerID,
			f.SellerID != "" && !o.HasSeller(f.SellerID),
			f.CarrierID != "" && !o.IsCarrier(f.CarrierID),
			f.Status != "" && o.Status != f.Status,
			f.Search != "" && !strings.Contains(strings.ToLower(o.ID), strings.ToLower(f.Search)),
			f.DeliveredSince != nil && (o.DeliveredAt == nil || o.DeliveredAt.Before(*f.DeliveredSince)):
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}

	slices.SortFunc(matched, func(a, b domain.Order) int { return strings.Compare(b.ID, a.ID) })

	start := min((f.Page-1)*f.Limit, len(matched))
	end := min(start+f.Limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *memoryRepository) CarrierStats(_ context.Context, carrierID string) (domain.CarrierStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats domain.CarrierStats
	for _, o := range m.orders {
		if !o.IsCarrier(carrierID) {
			continue
		}
		switch o.Status {
		case domain.OrderStatusProcessing, domain.OrderStatusShipped:
			stats.PendingDeliveries++
		case domain.OrderStatusDelivered:
			stats.CompletedDeliveries++
		}
	}
	stats.OnTimeRate = 100
	return stats, nil
}

type passthroughUnitOfWork struct{}

func (passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type catalogResolver struct {
	products map[string]domain.Product
}

func (c catalogResolver) Resolve(_ context.Context, lines []domain.LineRequest) ([]domain.OrderItem, error) {
	if err := catalog.ValidateLines(lines); err != nil {
		return nil, err
	}
	return catalog.Snapshot(lines, c.products)
}

type memoryDirectory map[string]domain.User

func (d memoryDirectory) Lookup(_ context.Context, id string) (*domain.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (n *recordingNotifier) Notify(_ context.Context, evs ...domain.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evs...)
}

func (n *recordingNotifier) ofType(t domain.EventType) []domain.OrderEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	buyer     = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	otherBuy  = domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	sellerA   = domain.Actor{ID: "seller-a", Role: domain.RoleSeller}
	sellerB   = domain.Actor{ID: "seller-b", Role: domain.RoleSeller}
	sellerZ   = domain.Actor{ID: "seller-z", Role: domain.RoleSeller}
	carrier   = domain.Actor{ID: "shipper-1", Role: domain.RoleShipper}
	otherShip = domain.Actor{ID: "shipper-2", Role: domain.RoleShipper}
	admin     = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

	testAddress = domain.Address{
		Street:     "1 Main St",
		City:       "Lahore",
		State:      "Punjab",
		PostalCode: "54000",
		Country:    "PK",
		Phone:      "+92-300-0000000",
	}
)

func testProducts() map[string]domain.Product {
	return map[string]domain.Product{
		"PROD-001": {ID: "PROD-001", SellerID: "seller-a", Name: "Mug", Images: []string{"mug.jpg"}, Price: dec("25.00"), IsAvailable: true},
		"PROD-002": {ID: "PROD-002", SellerID: "seller-b", Name: "Lamp", Images: []string{"lamp.jpg"}, Price: dec("40.00"), IsAvailable: true},
		"PROD-003": {ID: "PROD-003", SellerID: "seller-a", Name: "Retired", Price: dec("5.00"), IsAvailable: false},
	}
}

type fixture struct {
	service  *Service
	repo     *memoryRepository
	payouts  *ledgertest.Repository
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }

	f := &fixture{
		repo:     newMemoryRepository(),
		payouts:  ledgertest.NewRepository(),
		notifier: &recordingNotifier{},
	}

	deps := Deps{
		Orders:     f.repo,
		UnitOfWork: passthroughUnitOfWork{},
		Ledger:     ledger.New(f.payouts, logger, ledger.WithClock(clock)),
		Catalog:    catalogResolver{products: testProducts()},
		Directory: memoryDirectory{
			"shipper-1": {ID: "shipper-1", Role: domain.RoleShipper, Status: "active"},
			"shipper-2": {ID: "shipper-2", Role: domain.RoleShipper, Status: "active"},
			"retired":   {ID: "retired", Role: domain.RoleShipper, Status: "suspended"},
			"buyer-1":   {ID: "buyer-1", Role: domain.RoleBuyer, Status: "active"},
		},
		Notifier:       f.notifier,
		Pricing:        pricing.NewCalculator(pricing.DefaultShippingPrice, pricing.DefaultTaxRate),
		Clock:          clock,
		TrackingNumber: func() string { return "TRK000042" },
		RetryInterval:  time.Millisecond,
		Logger:         logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc, err := NewService(deps)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	f.service = svc
	return f
}

// placeTwoSellerOrder creates 2×PROD-001 from seller-a and 1×PROD-002 from seller-b.
func (f *fixture) placeTwoSellerOrder(t *testing.T) *domain.Order {
	t.Helper()

	order, err := f.service.CreateOrder(context.Background(), buyer, CreateOrderInput{
		Items: []domain.LineRequest{
			{ProductID: "PROD-001", Quantity: 2},
			{ProductID: "PROD-002", Quantity: 1},
		},
		ShippingAddress: testAddress,
		PaymentMethod:   domain.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	return order
}

// shipped drives a fresh order to shipped with shipper-1 as carrier.
func (f *fixture) shipped(t *testing.T) *domain.Order {
	t.Helper()

	order := f.placeTwoSellerOrder(t)
	ctx := context.Background()

	if _, err := f.service.UpdateStatus(ctx, sellerA, order.ID, StatusChange{Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("failed to mark processing: %v", err)
	}
	order, err := f.service.AssignCarrier(ctx, sellerA, order.ID, Assignment{CarrierID: "shipper-1"})
	if err != nil {
		t.Fatalf("failed to assign carrier: %v", err)
	}
	return order
}

func (f *fixture) payoutsFor(orderID string) map[string]domain.Transaction {
	out := make(map[string]domain.Transaction)
	for _, tx := range f.payouts.All() {
		if tx.OrderID == orderID {
			out[tx.SellerID] = tx
		}
	}
	return out
}

func (f *fixture) payoutCount(orderID string) int {
	n := 0
	for _, tx := range f.payouts.All() {
		if tx.OrderID == orderID {
			n++
		}
	}
	return n
}
