package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var meter = otel.Meter("github.com/joao-fontenele/fulfillment")

// Instruments are created against the global MeterProvider, which forwards to
// the real provider once InitMeterProvider has run.
var (
	OrdersCreated, _ = meter.Int64Counter("orders_created_total",
		otelmetric.WithDescription("Orders accepted from buyers"))
	OrderTransitions, _ = meter.Int64Counter("order_transitions_total",
		otelmetric.WithDescription("Order status transitions by from, to and actor role"))
	PayoutsWritten, _ = meter.Int64Counter("payouts_written_total",
		otelmetric.WithDescription("Payout records created or completed by status"))
	OrderConflicts, _ = meter.Int64Counter("order_conflicts_total",
		otelmetric.WithDescription("Optimistic lock collisions on order writes"))
	BreakerStateChanges, _ = meter.Int64Counter("circuit_breaker_state_changes_total",
		otelmetric.WithDescription("Circuit breaker transitions by breaker and target state"))
	NotificationFailures, _ = meter.Int64Counter("notification_failures_total",
		otelmetric.WithDescription("Order events that could not be published"))
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		return nil, nil, err
	}

	return promhttp.Handler(), mp.Shutdown, nil
}
