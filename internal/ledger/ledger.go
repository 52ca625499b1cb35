// Package ledger owns seller payout records. Its writes are keyed on
// (seller, order) and may be repeated any number of times without creating a
// second record for the same pair.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error)
	CompletePending(ctx context.Context, orderID string, at time.Time) ([]string, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
	ListBySeller(ctx context.Context, sellerID string, status domain.PayoutStatus, page, limit int) ([]domain.Transaction, int, error)
	Totals(ctx context.Context, sellerID string, since *time.Time) (domain.PayoutTotals, error)
	Daily(ctx context.Context, sellerID string, since time.Time) ([]domain.DailyEarning, error)
}

// EarningsCache stores computed earnings views. Implementations must tolerate
// being unavailable; a miss is reported as (nil, nil).
type EarningsCache interface {
	Get(ctx context.Context, sellerID, timeframe string) (*domain.Earnings, error)
	Set(ctx context.Context, sellerID, timeframe string, earnings *domain.Earnings) error
	Invalidate(ctx context.Context, sellerIDs ...string) error
}

type Ledger struct {
	repo   Repository
	cache  EarningsCache
	clock  func() time.Time
	logger *slog.Logger
}

type Option func(*Ledger)

func WithCache(cache EarningsCache) Option {
	return func(l *Ledger) { l.cache = cache }
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

func New(repo Repository, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsurePending records one pending payout per seller of order. Sellers that
// already have a record, in any status, are left untouched.
func (l *Ledger) EnsurePending(ctx context.Context, order *domain.Order) ([]domain.Transaction, error) {
	return l.insertMissing(ctx, order, domain.PayoutPending)
}

// CompleteForOrder completes every pending payout of order and creates
// completed payouts for sellers that never got one, so a delivery never
// leaves a seller unpaid.
func (l *Ledger) CompleteForOrder(ctx context.Context, order *domain.Order) (completed []string, created []domain.Transaction, err error) {
	completed, err = l.repo.CompletePending(ctx, order.ID, l.clock())
	if err != nil {
		return nil, nil, err
	}
	if len(completed) > 0 {
		telemetry.PayoutsWritten.Add(ctx, int64(len(completed)),
			metric.WithAttributes(attribute.String("status", string(domain.PayoutCompleted))))
	}

	created, err = l.insertMissing(ctx, order, domain.PayoutCompleted)
	if err != nil {
		return nil, nil, err
	}

	if len(created) > 0 {
		l.logger.Info("created completed payouts without pending records",
			"order_id", order.ID, "count", len(created))
	}

	return completed, created, nil
}

func (l *Ledger) insertMissing(ctx context.Context, order *domain.Order, status domain.PayoutStatus) ([]domain.Transaction, error) {
	totals := order.SellerTotals()
	now := l.clock()

	var created []domain.Transaction
	// Sorted so concurrent writers lock unique index entries in the same order.
	for _, sellerID := range slices.Sorted(maps.Keys(totals)) {
		tx := domain.Transaction{
			SellerID: sellerID,
			OrderID:  order.ID,
			Amount:   totals[sellerID],
			Status:   status,
			Date:     now,
		}
		ok, err := l.repo.InsertIfAbsent(ctx, &tx)
		if err != nil {
			return nil, fmt.Errorf("payout for seller %s: %w", sellerID, err)
		}
		if ok {
			created = append(created, tx)
		}
	}

	if len(created) > 0 {
		telemetry.PayoutsWritten.Add(ctx, int64(len(created)),
			metric.WithAttributes(attribute.String("status", string(status))))
	}

	return created, nil
}

// Invalidate drops cached earnings of the given sellers. Call it after the
// transaction holding the ledger writes has committed.
func (l *Ledger) Invalidate(ctx context.Context, sellerIDs ...string) {
	if l.cache == nil || len(sellerIDs) == 0 {
		return
	}
	if err := l.cache.Invalidate(ctx, sellerIDs...); err != nil {
		l.logger.Warn("failed to invalidate earnings cache", "error", err, "sellers", sellerIDs)
	}
}

func (l *Ledger) ForOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	return l.repo.ListByOrder(ctx, orderID)
}

func (l *Ledger) ListPayouts(ctx context.Context, sellerID string, page, limit int, status domain.PayoutStatus) (*domain.PayoutPage, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payout status %q", domain.ErrValidation, status)
	}
	page, limit = domain.NormalizePage(page, limit)

	txs, total, err := l.repo.ListBySeller(ctx, sellerID, status, page, limit)
	if err != nil {
		return nil, err
	}

	totals, err := l.repo.Totals(ctx, sellerID, nil)
	if err != nil {
		return nil, err
	}

	return &domain.PayoutPage{
		Transactions: txs,
		Page:         page,
		Pages:        domain.PageCount(total, limit),
		Total:        total,
		Totals:       totals,
	}, nil
}

func (l *Ledger) Earnings(ctx context.Context, sellerID, timeframe string) (*domain.Earnings, error) {
	since, timeframe := rangeStart(l.clock(), timeframe)

	if l.cache != nil {
		cached, err := l.cache.Get(ctx, sellerID, timeframe)
		if err != nil {
			l.logger.Warn("failed to read earnings cache", "error", err, "seller_id", sellerID)
		}
		if cached != nil {
			return cached, nil
		}
	}

	totals, err := l.repo.Totals(ctx, sellerID, &since)
	if err != nil {
		return nil, err
	}

	daily, err := l.repo.Daily(ctx, sellerID, since)
	if err != nil {
		return nil, err
	}

	earnings := &domain.Earnings{Timeframe: timeframe, Totals: totals, Daily: daily}

	if l.cache != nil {
		if err := l.cache.Set(ctx, sellerID, timeframe, earnings); err != nil {
			l.logger.Warn("failed to write earnings cache", "error", err, "seller_id", sellerID)
		}
	}

	return earnings, nil
}

var Timeframes = []string{"week", "month", "year"}

// rangeStart returns the first instant covered by timeframe, which defaults
// to month.
func rangeStart(now time.Time, timeframe string) (time.Time, string) {
	var start time.Time
	switch timeframe {
	case "week":
		start = now.AddDate(0, 0, -6)
	case "year":
		start = now.AddDate(-1, 0, 0)
	default:
		timeframe = "month"
		start = now.AddDate(0, -1, 0)
	}
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()), timeframe
}
