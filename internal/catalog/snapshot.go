// Package catalog resolves purchase lines against the product catalog,
// freezing seller, price, name and image into order items.
package catalog

import (
	"fmt"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

// ValidateLines checks the shape of a purchase request before any lookup.
func ValidateLines(lines []domain.LineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", domain.ErrValidation)
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return fmt.Errorf("%w: item %d is missing product_id", domain.ErrValidation, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", domain.ErrValidation, i)
		}
	}
	return nil
}

// Snapshot builds one order item per line from products. The first line whose
// product is missing or unavailable fails the whole request.
func Snapshot(lines []domain.LineRequest, products map[string]domain.Product) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok || !p.IsAvailable {
			return nil, &UnavailableError{ProductID: line.ProductID}
		}

		var image string
		if len(p.Images) > 0 {
			image = p.Images[0]
		}

		items = append(items, domain.OrderItem{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Name:      p.Name,
			Image:     image,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
		})
	}
	return items, nil
}

// UnavailableError names the product that could not be sold.
type UnavailableError struct {
	ProductID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s", domain.ErrProductUnavailable, e.ProductID)
}

func (e *UnavailableError) Unwrap() error { return domain.ErrProductUnavailable }

func productIDs(lines []domain.LineRequest) []string {
	seen := make(map[string]bool, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}
	return ids
}
