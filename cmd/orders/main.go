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

	"github.com/go-resty/resty/v2"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/fulfillment/internal/catalog"
	"github.com/joao-fontenele/fulfillment/internal/config"
	"github.com/joao-fontenele/fulfillment/internal/directory"
	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/events"
	"github.com/joao-fontenele/fulfillment/internal/ledger"
	"github.com/joao-fontenele/fulfillment/internal/messaging"
	"github.com/joao-fontenele/fulfillment/internal/orders"
	"github.com/joao-fontenele/fulfillment/internal/pricing"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
	"github.com/joao-fontenele/fulfillment/internal/store"
	"github.com/joao-fontenele/fulfillment/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(
		config.WithDefaultPort("8081"),
		config.WithRequired("POSTGRES_URL", "CATALOG_SERVICE_URL", "USERS_SERVICE_URL"),
	)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, "orders", cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(cfg.Postgres.URL, "orders")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	st := store.New(db)

	var ledgerOpts []ledger.Option
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, earnings will be computed on every request", "error", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithCache(ledger.NewRedisCache(redisClient, cfg.Redis.EarningsTTL)))
	}
	payouts := ledger.New(ledger.NewTransactionRepository(st), logger, ledgerOpts...)

	httpClient := resty.New().
		SetTimeout(cfg.Services.ClientTimeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport))

	catalogClient := catalog.NewClient(httpClient, cfg.Services.CatalogURL,
		resilience.NewBreaker("catalog", resilience.DefaultBreakerSettings(), logger))
	directoryClient := directory.NewClient(httpClient, cfg.Services.UsersURL,
		resilience.NewBreaker("users", resilience.DefaultBreakerSettings(), logger))

	var publisher events.Publisher = logPublisher{logger: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()
		publisher = events.NewKafkaPublisher(producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will only be logged")
	}
	notifier := events.NewNotifier(publisher,
		resilience.NewBreaker("events", resilience.DefaultBreakerSettings(), logger),
		cfg.Orders.NotifyTimeout, logger)

	service, err := orders.NewService(orders.Deps{
		Orders:      orders.NewOrderRepository(st),
		UnitOfWork:  st,
		Ledger:      payouts,
		Catalog:     catalogClient,
		Directory:   directoryClient,
		Notifier:    notifier,
		Pricing:     pricing.NewCalculator(cfg.Pricing.ShippingFlat, cfg.Pricing.TaxRate),
		MaxAttempts: uint(cfg.Orders.MaxAttempts),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build orders service", "error", err)
		os.Exit(1)
	}
	handler := orders.NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(handler.HandleCreateOrder))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(handler.HandleListAll))
	mux.HandleFunc("GET /orders/mine", telemetry.WithHTTPRoute(handler.HandleListMine))
	mux.HandleFunc("GET /orders/seller", telemetry.WithHTTPRoute(handler.HandleListSeller))
	mux.HandleFunc("GET /orders/carrier", telemetry.WithHTTPRoute(handler.HandleListCarrier))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(handler.HandleGetOrder))
	mux.HandleFunc("PATCH /orders/{id}/status", telemetry.WithHTTPRoute(handler.HandleUpdateStatus))
	mux.HandleFunc("PUT /orders/{id}/assign", telemetry.WithHTTPRoute(handler.HandleAssignCarrier))
	mux.HandleFunc("PUT /orders/{id}/delivery-proof", telemetry.WithHTTPRoute(handler.HandleDeliveryProof))
	mux.HandleFunc("PUT /orders/{id}/pay", telemetry.WithHTTPRoute(handler.HandleMarkPaid))
	mux.HandleFunc("GET /payouts", telemetry.WithHTTPRoute(handler.HandleListPayouts))
	mux.HandleFunc("GET /payouts/earnings", telemetry.WithHTTPRoute(handler.HandleEarnings))
	mux.HandleFunc("GET /carriers/me/stats", telemetry.WithHTTPRoute(handler.HandleCarrierStats))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, "orders",
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
		logger.Info("starting orders service", "port", cfg.Server.Port)
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

// logPublisher stands in for Kafka in local runs without a broker.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(_ context.Context, userID string, event domain.OrderEvent) error {
	p.logger.Info("order event", "user_id", userID, "type", event.Type, "order_id", event.OrderID)
	return nil
}
