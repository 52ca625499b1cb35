package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
)

// Client resolves lines against a remote catalog service.
type Client struct {
	http    *resty.Client
	baseURL string
	breaker *resilience.Breaker
}

func NewClient(httpClient *resty.Client, baseURL string, breaker *resilience.Breaker) *Client {
	return &Client{http: httpClient, baseURL: baseURL, breaker: breaker}
}

func (c *Client) Resolve(ctx context.Context, lines []domain.LineRequest) ([]domain.OrderItem, error) {
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}

	return resilience.Execute(c.breaker, func() ([]domain.OrderItem, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(resolveRequest{Items: lines}).
			Post(c.baseURL + "/products/resolve")
		if err != nil {
			return nil, fmt.Errorf("catalog request: %w", err)
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			var out resolveResponse
			if err := json.Unmarshal(resp.Body(), &out); err != nil {
				return nil, fmt.Errorf("decode catalog response: %w", err)
			}
			return out.Items, nil
		case http.StatusUnprocessableEntity:
			var out unavailableResponse
			_ = json.Unmarshal(resp.Body(), &out)
			return nil, resilience.Healthy(&UnavailableError{ProductID: out.ProductID})
		case http.StatusBadRequest:
			var out map[string]string
			_ = json.Unmarshal(resp.Body(), &out)
			return nil, resilience.Healthy(fmt.Errorf("%w: catalog rejected request: %s", domain.ErrValidation, out["error"]))
		default:
			return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode(), resp.String())
		}
	})
}
