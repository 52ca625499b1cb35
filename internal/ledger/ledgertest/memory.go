// Package ledgertest provides an in-memory ledger.Repository for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

type Repository struct {
	mu    sync.Mutex
	seq   int
	rows  map[string]*domain.Transaction
	order []string

	// FailInsert makes InsertIfAbsent return the error when set.
	FailInsert error
}

func NewRepository() *Repository {
	return &Repository{rows: make(map[string]*domain.Transaction)}
}

func key(sellerID, orderID string) string { return sellerID + "|" + orderID }

func (r *Repository) InsertIfAbsent(_ context.Context, tx *domain.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailInsert != nil {
		return false, r.FailInsert
	}

	k := key(tx.SellerID, tx.OrderID)
	if _, ok := r.rows[k]; ok {
		return false, nil
	}

	r.seq++
	tx.ID = fmt.Sprintf("tx-%d", r.seq)
	tx.CreatedAt = tx.Date
	stored := *tx
	r.rows[k] = &stored
	r.order = append(r.order, k)
	return true, nil
}

func (r *Repository) CompletePending(_ context.Context, orderID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sellers []string
	for _, k := range r.order {
		tx := r.rows[k]
		if tx.OrderID == orderID && tx.Status == domain.PayoutPending {
			tx.Status = domain.PayoutCompleted
			tx.Date = at
			sellers = append(sellers, tx.SellerID)
		}
	}
	return sellers, nil
}

func (r *Repository) ListByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs := []domain.Transaction{}
	for _, k := range r.order {
		if tx := r.rows[k]; tx.OrderID == orderID {
			txs = append(txs, *tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].SellerID < txs[j].SellerID })
	return txs, nil
}

func (r *Repository) ListBySeller(_ context.Context, sellerID string, status domain.PayoutStatus, page, limit int) ([]domain.Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.Transaction
	for i := len(r.order) - 1; i >= 0; i-- {
		tx := r.rows[r.order[i]]
		if tx.SellerID != sellerID || (status != "" && tx.Status != status) {
			continue
		}
		matched = append(matched, *tx)
	}

	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+limit, len(matched))
	return append([]domain.Transaction{}, matched[start:end]...), len(matched), nil
}

func (r *Repository) Totals(_ context.Context, sellerID string, since *time.Time) (domain.PayoutTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := domain.PayoutTotals{Pending: decimal.Zero, Completed: decimal.Zero, Total: decimal.Zero}
	for _, k := range r.order {
		tx := r.rows[k]
		if tx.SellerID != sellerID || (since != nil && tx.CreatedAt.Before(*since)) {
			continue
		}
		switch tx.Status {
		case domain.PayoutPending:
			totals.Pending = totals.Pending.Add(tx.Amount)
		case domain.PayoutCompleted:
			totals.Completed = totals.Completed.Add(tx.Amount)
		}
		totals.Total = totals.Total.Add(tx.Amount)
	}
	return totals, nil
}

func (r *Repository) Daily(_ context.Context, sellerID string, since time.Time) ([]domain.DailyEarning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byDay := make(map[string]decimal.Decimal)
	for _, k := range r.order {
		tx := r.rows[k]
		if tx.SellerID != sellerID || tx.CreatedAt.Before(since) {
			continue
		}
		day := tx.CreatedAt.UTC().Format(time.DateOnly)
		byDay[day] = byDay[day].Add(tx.Amount)
	}

	daily := []domain.DailyEarning{}
	for day, amount := range byDay {
		daily = append(daily, domain.DailyEarning{Date: day, Amount: amount})
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })
	return daily, nil
}

// All returns every stored transaction in insertion order.
func (r *Repository) All() []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs := make([]domain.Transaction, 0, len(r.order))
	for _, k := range r.order {
		txs = append(txs, *r.rows[k])
	}
	return txs
}
