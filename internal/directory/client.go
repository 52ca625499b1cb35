// Package directory looks up accounts in the users service.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
)

var errUserNotFound = errors.New("user not found")

type Client struct {
	http    *resty.Client
	baseURL string
	breaker *resilience.Breaker
}

func NewClient(httpClient *resty.Client, baseURL string, breaker *resilience.Breaker) *Client {
	return &Client{http: httpClient, baseURL: baseURL, breaker: breaker}
}

// Lookup returns the user with id, or nil if the directory does not know it.
func (c *Client) Lookup(ctx context.Context, id string) (*domain.User, error) {
	user, err := resilience.Execute(c.breaker, func() (*domain.User, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			Get(c.baseURL + "/users/" + url.PathEscape(id))
		if err != nil {
			return nil, fmt.Errorf("directory request: %w", err)
		}

		switch resp.StatusCode() {
		case http.StatusOK:
			var u domain.User
			if err := json.Unmarshal(resp.Body(), &u); err != nil {
				return nil, fmt.Errorf("decode directory response: %w", err)
			}
			return &u, nil
		case http.StatusNotFound:
			return nil, resilience.Healthy(errUserNotFound)
		default:
			return nil, fmt.Errorf("directory returned status %d", resp.StatusCode())
		}
	})
	if errors.Is(err, errUserNotFound) {
		return nil, nil
	}
	return user, err
}
