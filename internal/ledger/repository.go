package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/store"
)

// TransactionRepository relies on the UNIQUE (seller_id, order_id) constraint
// of the transactions table for its idempotent writes.
type TransactionRepository struct {
	store *store.Store
}

func NewTransactionRepository(s *store.Store) *TransactionRepository {
	return &TransactionRepository{store: s}
}

// InsertIfAbsent creates tx unless a record for the same seller and order
// already exists. It reports whether a row was written.
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error) {
	tx.ID = uuid.New().String()

	err := r.store.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO transactions (id, seller_id, order_id, amount, status, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (seller_id, order_id) DO NOTHING
		RETURNING created_at
	`, tx.ID, tx.SellerID, tx.OrderID, tx.Amount, tx.Status, tx.Date).Scan(&tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			tx.ID = ""
			return false, nil
		}
		return false, fmt.Errorf("insert transaction: %w", err)
	}

	return true, nil
}

// CompletePending flips every pending record of the order and returns the
// affected sellers.
func (r *TransactionRepository) CompletePending(ctx context.Context, orderID string, at time.Time) ([]string, error) {
	rows, err := r.store.Conn(ctx).QueryContext(ctx, `
		UPDATE transactions SET status = 'completed', date = $2
		WHERE order_id = $1 AND status = 'pending'
		RETURNING seller_id
	`, orderID, at)
	if err != nil {
		return nil, fmt.Errorf("complete transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sellers []string
	for rows.Next() {
		var sellerID string
		if err := rows.Scan(&sellerID); err != nil {
			return nil, err
		}
		sellers = append(sellers, sellerID)
	}

	return sellers, rows.Err()
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	rows, err := r.store.Conn(ctx).QueryContext(ctx, `
		SELECT id, seller_id, order_id, amount, status, date, created_at
		FROM transactions
		WHERE order_id = $1
		ORDER BY seller_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *TransactionRepository) ListBySeller(ctx context.Context, sellerID string, status domain.PayoutStatus, page, limit int) ([]domain.Transaction, int, error) {
	conn := r.store.Conn(ctx)

	var total int
	err := conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE seller_id = $1 AND ($2 = '' OR status = $2)
	`, sellerID, string(status)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, seller_id, order_id, amount, status, date, created_at
		FROM transactions
		WHERE seller_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY date DESC, id
		LIMIT $3 OFFSET $4
	`, sellerID, string(status), limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// Totals sums a seller's payouts by status, optionally restricted to records
// created at or after since.
func (r *TransactionRepository) Totals(ctx context.Context, sellerID string, since *time.Time) (domain.PayoutTotals, error) {
	var totals domain.PayoutTotals

	err := r.store.Conn(ctx).QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE seller_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
	`, sellerID, since).Scan(&totals.Pending, &totals.Completed, &totals.Total)
	if err != nil {
		return totals, fmt.Errorf("sum transactions: %w", err)
	}

	return totals, nil
}

func (r *TransactionRepository) Daily(ctx context.Context, sellerID string, since time.Time) ([]domain.DailyEarning, error) {
	rows, err := r.store.Conn(ctx).QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, SUM(amount)
		FROM transactions
		WHERE seller_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day
	`, sellerID, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	daily := []domain.DailyEarning{}
	for rows.Next() {
		var d domain.DailyEarning
		if err := rows.Scan(&d.Date, &d.Amount); err != nil {
			return nil, err
		}
		daily = append(daily, d)
	}

	return daily, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer func() { _ = rows.Close() }()

	txs := []domain.Transaction{}
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.SellerID, &tx.OrderID, &tx.Amount, &tx.Status, &tx.Date, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}
