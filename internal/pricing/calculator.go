package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

var (
	DefaultShippingPrice = decimal.NewFromInt(10)
	DefaultTaxRate       = decimal.RequireFromString("0.05")
)

// Calculator derives order totals from resolved line items.
type Calculator struct {
	shipping decimal.Decimal
	taxRate  decimal.Decimal
}

func NewCalculator(shipping, taxRate decimal.Decimal) Calculator {
	return Calculator{shipping: shipping, taxRate: taxRate}
}

func (c Calculator) ItemsPrice(items []domain.OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

func (c Calculator) Quote(items []domain.OrderItem) domain.Totals {
	itemsPrice := c.ItemsPrice(items)
	tax := itemsPrice.Mul(c.taxRate).Round(2)
	return domain.Totals{
		ItemsPrice:    itemsPrice,
		ShippingPrice: c.shipping,
		TaxPrice:      tax,
		TotalPrice:    itemsPrice.Add(c.shipping).Add(tax).Round(2),
	}
}

// Reconcile returns the caller's totals when they agree with the resolved
// items, or a freshly computed quote when the caller supplied none.
func (c Calculator) Reconcile(items []domain.OrderItem, supplied *domain.Totals) (domain.Totals, error) {
	if supplied == nil {
		return c.Quote(items), nil
	}
	if !supplied.Consistent() {
		return domain.Totals{}, fmt.Errorf("%w: total_price must equal items_price + shipping_price + tax_price", domain.ErrValidation)
	}
	if expected := c.ItemsPrice(items); !expected.Equal(supplied.ItemsPrice) {
		return domain.Totals{}, fmt.Errorf("%w: items_price %s does not match catalog price %s", domain.ErrValidation, supplied.ItemsPrice, expected)
	}
	return *supplied, nil
}
