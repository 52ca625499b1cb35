package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/store"
)

const orderColumns = `
	id, buyer_id, status, payment_method,
	ship_street, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
	items_price, shipping_price, tax_price, total_price,
	is_paid, paid_at, payment_result,
	carrier_id, tracking_number, estimated_delivery,
	delivery_proof, cancel_reason, delivered_at,
	version, created_at, updated_at`

// OrderFilter selects orders for listings. Empty fields do not filter.
type OrderFilter struct {
	BuyerID        string
	SellerID       string
	CarrierID      string
	Status         domain.OrderStatus
	Search         string
	DeliveredSince *time.Time
	Page           int
	Limit          int
}

type OrderRepository struct {
	store *store.Store
}

func NewOrderRepository(s *store.Store) *OrderRepository {
	return &OrderRepository{store: s}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.store.Conn(ctx)

		order.ID = uuid.New().String()
		order.Version = 1

		paymentResult, err := marshalPaymentResult(order.PaymentResult)
		if err != nil {
			return err
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO orders (
				id, buyer_id, status, payment_method,
				ship_street, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
				items_price, shipping_price, tax_price, total_price,
				is_paid, paid_at, payment_result,
				version, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
		`, order.ID, order.BuyerID, order.Status, order.PaymentMethod,
			order.ShippingAddress.Street, order.ShippingAddress.City, order.ShippingAddress.State,
			order.ShippingAddress.PostalCode, order.ShippingAddress.Country, order.ShippingAddress.Phone,
			order.ItemsPrice, order.ShippingPrice, order.TaxPrice, order.TotalPrice,
			order.IsPaid, order.PaidAt, paymentResult,
			order.Version, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			_, err = conn.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, position, product_id, seller_id, name, image, unit_price, quantity)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, uuid.New().String(), order.ID, i, item.ProductID, item.SellerID, item.Name, item.Image, item.UnitPrice, item.Quantity)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		order.UpdatedAt = order.CreatedAt
		return nil
	})
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	conn := r.store.Conn(ctx)
	order, err := scanOrder(conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.attachItems(ctx, conn, map[string]*domain.Order{order.ID: order}, []string{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

// Update persists the mutable fields of order if nobody else has written it
// since it was read. It fails with domain.ErrConflictRetry otherwise.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	paymentResult, err := marshalPaymentResult(order.PaymentResult)
	if err != nil {
		return err
	}

	var carrierID, trackingNumber sql.NullString
	var estimatedDelivery sql.NullTime
	if order.Shipment != nil {
		carrierID = nullString(order.Shipment.CarrierID)
		trackingNumber = nullString(order.Shipment.TrackingNumber)
		if order.Shipment.EstimatedDelivery != nil {
			estimatedDelivery = sql.NullTime{Time: *order.Shipment.EstimatedDelivery, Valid: true}
		}
	}

	result, err := r.store.Conn(ctx).ExecContext(ctx, `
		UPDATE orders SET
			status = $3,
			is_paid = $4, paid_at = $5, payment_result = $6,
			carrier_id = $7, tracking_number = $8, estimated_delivery = $9,
			delivery_proof = $10, cancel_reason = $11, delivered_at = $12,
			updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2
	`, order.ID, order.Version, order.Status,
		order.IsPaid, order.PaidAt, paymentResult,
		carrierID, trackingNumber, estimatedDelivery,
		nullString(order.DeliveryProof), nullString(order.CancelReason), order.DeliveredAt,
		order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: order %s version %d", domain.ErrConflictRetry, order.ID, order.Version)
	}

	order.Version++
	return nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error) {
	where, args := buildWhere(filter)
	conn := r.store.Conn(ctx)

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM orders%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, total, nil
	}

	if err := r.attachItems(ctx, conn, orderMap, orderIDs); err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, total, nil
}

func (r *OrderRepository) CarrierStats(ctx context.Context, carrierID string) (domain.CarrierStats, error) {
	var stats domain.CarrierStats
	var onTime int

	err := r.store.Conn(ctx).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('processing', 'shipped')),
			COUNT(*) FILTER (WHERE status = 'delivered'),
			COUNT(*) FILTER (WHERE status = 'delivered'
				AND delivered_at IS NOT NULL
				AND estimated_delivery IS NOT NULL
				AND delivered_at <= estimated_delivery)
		FROM orders
		WHERE carrier_id = $1
	`, carrierID).Scan(&stats.PendingDeliveries, &stats.CompletedDeliveries, &onTime)
	if err != nil {
		return stats, fmt.Errorf("carrier stats: %w", err)
	}

	stats.OnTimeRate = onTimeRate(onTime, stats.CompletedDeliveries)
	return stats, nil
}

func onTimeRate(onTime, delivered int) int {
	if delivered == 0 {
		return 100
	}
	return (onTime*100 + delivered/2) / delivered
}

func buildWhere(filter OrderFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.BuyerID != "" {
		add("buyer_id = $%d", filter.BuyerID)
	}
	if filter.SellerID != "" {
		add("EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.seller_id = $%d)", filter.SellerID)
	}
	if filter.CarrierID != "" {
		add("carrier_id = $%d", filter.CarrierID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Search != "" {
		add("id::text ILIKE '%%' || $%d || '%%'", filter.Search)
	}
	if filter.DeliveredSince != nil {
		add("delivered_at >= $%d", *filter.DeliveredSince)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *OrderRepository) attachItems(ctx context.Context, conn store.DBTX, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT order_id, product_id, seller_id, name, image, unit_price, quantity
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Name, &item.Image, &item.UnitPrice, &item.Quantity); err != nil {
			return err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                                  domain.Order
		paidAt, estimatedDelivery, deliveredAt sql.NullTime
		paymentResult                          []byte
		carrierID, trackingNumber              sql.NullString
		deliveryProof, cancelReason            sql.NullString
	)

	err := row.Scan(
		&order.ID, &order.BuyerID, &order.Status, &order.PaymentMethod,
		&order.ShippingAddress.Street, &order.ShippingAddress.City, &order.ShippingAddress.State,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Country, &order.ShippingAddress.Phone,
		&order.ItemsPrice, &order.ShippingPrice, &order.TaxPrice, &order.TotalPrice,
		&order.IsPaid, &paidAt, &paymentResult,
		&carrierID, &trackingNumber, &estimatedDelivery,
		&deliveryProof, &cancelReason, &deliveredAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.PaidAt = timePtr(paidAt)
	order.DeliveredAt = timePtr(deliveredAt)
	order.DeliveryProof = deliveryProof.String
	order.CancelReason = cancelReason.String

	if carrierID.Valid {
		order.Shipment = &domain.Shipment{
			CarrierID:         carrierID.String,
			TrackingNumber:    trackingNumber.String,
			EstimatedDelivery: timePtr(estimatedDelivery),
		}
	}

	if len(paymentResult) > 0 {
		var pr domain.PaymentResult
		if err := json.Unmarshal(paymentResult, &pr); err != nil {
			return nil, fmt.Errorf("decode payment result: %w", err)
		}
		order.PaymentResult = &pr
	}

	return &order, nil
}

func marshalPaymentResult(pr *domain.PaymentResult) (sql.NullString, error) {
	if pr == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(pr)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode payment result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
