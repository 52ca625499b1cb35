// Package resilience guards calls to other services with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

var ErrUnavailable = errors.New("dependency unavailable")

type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     15 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewBreaker(name string, settings BreakerSettings, logger *slog.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.BreakerStateChanges.Add(context.Background(), 1,
				metric.WithAttributes(
					attribute.String("breaker", name),
					attribute.String("state", to.String()),
				))
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Breaker{cb: cb}
}

// Execute runs fn through the breaker. Errors wrapped with Healthy, such as
// a 404 from a service that is up, do not count as failures.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	result, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			var pass passthrough
			if errors.As(err, &pass) {
				return passthrough{v: v, err: pass.err}, nil
			}
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: circuit %s: %v", ErrUnavailable, b.cb.Name(), err)
		}
		return zero, err
	}

	if p, ok := result.(passthrough); ok {
		v, _ := p.v.(T)
		return v, p.err
	}
	v, _ := result.(T)
	return v, nil
}

// Healthy wraps err so the breaker records the call as a success while
// Execute still returns err to the caller.
func Healthy(err error) error {
	return passthrough{err: err}
}

type passthrough struct {
	v   any
	err error
}

func (p passthrough) Error() string { return p.err.Error() }
func (p passthrough) Unwrap() error { return p.err }

func (b *Breaker) State() string {
	return b.cb.State().String()
}
