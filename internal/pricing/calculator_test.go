package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculator_Quote(t *testing.T) {
	calc := NewCalculator(DefaultShippingPrice, DefaultTaxRate)

	t.Run("two sellers", func(t *testing.T) {
		items := []domain.OrderItem{
			{SellerID: "seller-a", UnitPrice: dec("25.00"), Quantity: 2},
			{SellerID: "seller-b", UnitPrice: dec("40.00"), Quantity: 1},
		}

		totals := calc.Quote(items)

		if !totals.ItemsPrice.Equal(dec("90")) {
			t.Errorf("expected items price 90, got %s", totals.ItemsPrice)
		}
		if !totals.ShippingPrice.Equal(dec("10")) {
			t.Errorf("expected shipping price 10, got %s", totals.ShippingPrice)
		}
		if !totals.TaxPrice.Equal(dec("4.5")) {
			t.Errorf("expected tax price 4.5, got %s", totals.TaxPrice)
		}
		if !totals.TotalPrice.Equal(dec("104.5")) {
			t.Errorf("expected total price 104.5, got %s", totals.TotalPrice)
		}
	})

	t.Run("tax rounds to cents", func(t *testing.T) {
		items := []domain.OrderItem{{SellerID: "s", UnitPrice: dec("3.33"), Quantity: 3}}

		totals := calc.Quote(items)

		if !totals.TaxPrice.Equal(dec("0.50")) {
			t.Errorf("expected tax 0.50, got %s", totals.TaxPrice)
		}
		if !totals.Consistent() {
			t.Errorf("expected consistent totals, got %+v", totals)
		}
	})

	t.Run("total invariant holds for assorted prices", func(t *testing.T) {
		prices := []string{"0.01", "0.99", "1.05", "19.99", "123.45", "999.99"}
		for _, p := range prices {
			for q := 1; q <= 7; q++ {
				totals := calc.Quote([]domain.OrderItem{{UnitPrice: dec(p), Quantity: q}})
				if !totals.Consistent() {
					t.Errorf("price %s qty %d: inconsistent totals %+v", p, q, totals)
				}
			}
		}
	})
}

func TestCalculator_Reconcile(t *testing.T) {
	calc := NewCalculator(DefaultShippingPrice, DefaultTaxRate)
	items := []domain.OrderItem{{SellerID: "seller-a", UnitPrice: dec("20"), Quantity: 1}}

	t.Run("computes when nothing supplied", func(t *testing.T) {
		totals, err := calc.Reconcile(items, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !totals.TotalPrice.Equal(dec("31")) {
			t.Errorf("expected total 31, got %s", totals.TotalPrice)
		}
	})

	t.Run("accepts consistent supplied totals", func(t *testing.T) {
		supplied := &domain.Totals{ItemsPrice: dec("20"), ShippingPrice: dec("0"), TaxPrice: dec("0"), TotalPrice: dec("20")}
		totals, err := calc.Reconcile(items, supplied)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !totals.ShippingPrice.IsZero() {
			t.Errorf("expected supplied shipping price to be kept, got %s", totals.ShippingPrice)
		}
	})

	t.Run("rejects broken invariant", func(t *testing.T) {
		supplied := &domain.Totals{ItemsPrice: dec("20"), ShippingPrice: dec("10"), TaxPrice: dec("1"), TotalPrice: dec("5")}
		if _, err := calc.Reconcile(items, supplied); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects items price that disagrees with catalog", func(t *testing.T) {
		supplied := &domain.Totals{ItemsPrice: dec("1"), ShippingPrice: dec("0"), TaxPrice: dec("0"), TotalPrice: dec("1")}
		if _, err := calc.Reconcile(items, supplied); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}
