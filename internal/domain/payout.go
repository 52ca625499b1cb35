package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
)

func (s PayoutStatus) Valid() bool {
	return s == PayoutPending || s == PayoutCompleted
}

// Transaction is the payout owed to one seller for one order. At most one
// exists per (SellerID, OrderID).
type Transaction struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"seller_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PayoutStatus    `json:"status"`
	Date      time.Time       `json:"date"`
	CreatedAt time.Time       `json:"created_at"`
}

type PayoutTotals struct {
	Pending   decimal.Decimal `json:"pending"`
	Completed decimal.Decimal `json:"completed"`
	Total     decimal.Decimal `json:"total"`
}

type PayoutPage struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	Pages        int           `json:"pages"`
	Total        int           `json:"total"`
	Totals       PayoutTotals  `json:"totals"`
}

type DailyEarning struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type Earnings struct {
	Timeframe string         `json:"timeframe"`
	Totals    PayoutTotals   `json:"totals"`
	Daily     []DailyEarning `json:"daily"`
}

type CarrierStats struct {
	PendingDeliveries   int `json:"pending_deliveries"`
	CompletedDeliveries int `json:"completed_deliveries"`
	OnTimeRate          int `json:"on_time_rate"`
}
