package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentEasypaisa PaymentMethod = "easypaisa"
	PaymentJazzcash  PaymentMethod = "jazzcash"
	PaymentSadapay   PaymentMethod = "sadapay"
	PaymentCOD       PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentEasypaisa, PaymentJazzcash, PaymentSadapay, PaymentCOD:
		return true
	}
	return false
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// MissingFields lists the json names of empty address fields.
func (a Address) MissingFields() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// OrderItem is a snapshot of a purchased line taken at order creation.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineRequest is what a buyer asks for before the catalog snapshot is taken.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Totals struct {
	ItemsPrice    decimal.Decimal `json:"items_price"`
	ShippingPrice decimal.Decimal `json:"shipping_price"`
	TaxPrice      decimal.Decimal `json:"tax_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

var totalsTolerance = decimal.New(1, -2)

// Consistent reports whether TotalPrice equals the sum of its parts within one cent
// and no component is negative.
func (t Totals) Consistent() bool {
	for _, v := range []decimal.Decimal{t.ItemsPrice, t.ShippingPrice, t.TaxPrice, t.TotalPrice} {
		if v.IsNegative() {
			return false
		}
	}
	sum := t.ItemsPrice.Add(t.ShippingPrice).Add(t.TaxPrice)
	return sum.Sub(t.TotalPrice).Abs().LessThanOrEqual(totalsTolerance)
}

type Shipment struct {
	CarrierID         string     `json:"carrier_id"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

// PaymentResult is the opaque confirmation attached by the payment path.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

type Order struct {
	ID              string         `json:"id"`
	BuyerID         string         `json:"buyer_id"`
	Items           []OrderItem    `json:"items"`
	ShippingAddress Address        `json:"shipping_address"`
	PaymentMethod   PaymentMethod  `json:"payment_method"`
	Totals
	IsPaid          bool           `json:"is_paid"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	PaymentResult   *PaymentResult `json:"payment_result,omitempty"`
	Status          OrderStatus    `json:"status"`
	Shipment        *Shipment      `json:"shipment,omitempty"`
	DeliveryProof   string         `json:"delivery_proof,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	Version         int            `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

func (o *Order) IsCarrier(userID string) bool {
	return o.Shipment != nil && o.Shipment.CarrierID != "" && o.Shipment.CarrierID == userID
}

// SellerIDs returns the distinct sellers of the order in first-seen item order.
func (o *Order) SellerIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var ids []string
	for _, item := range o.Items {
		if item.SellerID == "" || seen[item.SellerID] {
			continue
		}
		seen[item.SellerID] = true
		ids = append(ids, item.SellerID)
	}
	return ids
}

// SellerTotals sums line totals per seller.
func (o *Order) SellerTotals() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, item := range o.Items {
		if item.SellerID == "" {
			continue
		}
		totals[item.SellerID] = totals[item.SellerID].Add(item.LineTotal())
	}
	return totals
}

// OrderPage is one page of an order listing.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Pages  int     `json:"pages"`
	Total  int     `json:"total"`
}
