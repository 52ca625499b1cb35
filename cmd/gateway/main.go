package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/fulfillment/internal/config"
	"github.com/joao-fontenele/fulfillment/internal/gateway"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(
		config.WithRequired("ORDERS_SERVICE_URL", "CATALOG_SERVICE_URL", "JWT_SECRET"),
	)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, "gateway", cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("gateway", cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	ordersProxy := gateway.NewServiceProxy(cfg.Services.OrdersURL, httpClient)
	catalogProxy := gateway.NewServiceProxy(cfg.Services.CatalogURL, httpClient)
	handler := gateway.NewHandler(ordersProxy, catalogProxy, logger)
	auth := gateway.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, logger)

	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(auth.Require(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", protected(handler.HandleOrders))
	mux.HandleFunc("GET /orders", protected(handler.HandleOrders))
	mux.HandleFunc("GET /orders/mine", protected(handler.HandleOrders))
	mux.HandleFunc("GET /orders/seller", protected(handler.HandleOrders))
	mux.HandleFunc("GET /orders/carrier", protected(handler.HandleOrders))
	mux.HandleFunc("GET /orders/{id}", protected(handler.HandleOrders))
	mux.HandleFunc("PATCH /orders/{id}/status", protected(handler.HandleOrders))
	mux.HandleFunc("PUT /orders/{id}/assign", protected(handler.HandleOrders))
	mux.HandleFunc("PUT /orders/{id}/delivery-proof", protected(handler.HandleOrders))
	mux.HandleFunc("PUT /orders/{id}/pay", protected(handler.HandleOrders))
	mux.HandleFunc("GET /payouts", protected(handler.HandleOrders))
	mux.HandleFunc("GET /payouts/earnings", protected(handler.HandleOrders))
	mux.HandleFunc("GET /carriers/me/stats", protected(handler.HandleOrders))
	mux.HandleFunc("GET /catalog/products/{id}", telemetry.WithHTTPRoute(handler.HandleCatalog))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, "gateway",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
