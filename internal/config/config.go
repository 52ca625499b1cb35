// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultPort           = "8080"
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultTopic          = "order.events"
	defaultGroupID        = "order-notifier"
	defaultEarningsTTL    = 5 * time.Minute
	defaultShippingFlat   = "10.00"
	defaultTaxRate        = "0.05"
	defaultMaxAttempts    = 5
	defaultNotifyTimeout  = 2 * time.Second
	defaultClientTimeout  = 5 * time.Second
	defaultOTLPEndpoint   = "localhost:4317"
	defaultServiceVersion = "0.1.0"
)

// Config groups every setting used by the binaries. Each binary reads the
// parts it needs and declares its required keys through WithRequired.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Services  ServicesConfig
	Pricing   PricingConfig
	Orders    OrdersConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// RedisConfig is optional; an empty URL disables the earnings cache.
type RedisConfig struct {
	URL         string
	EarningsTTL time.Duration
}

// ServicesConfig holds base URLs of the HTTP services this binary calls.
type ServicesConfig struct {
	OrdersURL        string
	CatalogURL       string
	UsersURL         string
	NotificationsURL string
	ClientTimeout    time.Duration
}

type PricingConfig struct {
	ShippingFlat decimal.Decimal
	TaxRate      decimal.Decimal
}

type OrdersConfig struct {
	MaxAttempts   int
	NotifyTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type TelemetryConfig struct {
	OTLPEndpoint   string
	ServiceVersion string
}

// ValidationError lists the environment keys that are missing or malformed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

type Option func(*loaderOptions)

type loaderOptions struct {
	envMap       map[string]string
	useSystemEnv bool
	defaultPort  string
	required     []string
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithDefaultPort(port string) Option {
	return func(o *loaderOptions) { o.defaultPort = port }
}

// WithRequired makes Load fail when any of the given keys is unset or empty.
func WithRequired(keys ...string) Option {
	return func(o *loaderOptions) { o.required = append(o.required, keys...) }
}

func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		useSystemEnv: true,
		defaultPort:  defaultPort,
	}
	for _, opt := range opts {
		opt(&options)
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			return os.LookupEnv(key)
		}
		return "", false
	}

	var invalid []string
	for _, key := range options.required {
		if value, _ := lookup(key); strings.TrimSpace(value) == "" {
			invalid = append(invalid, key)
		}
	}

	p := parser{lookup: lookup}

	cfg := Config{
		Server: ServerConfig{
			Port:         p.string("PORT", options.defaultPort),
			ReadTimeout:  p.duration("HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: p.duration("HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
		},
		Postgres: PostgresConfig{
			URL: p.string("POSTGRES_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: p.csv("KAFKA_BROKERS"),
			Topic:   p.string("KAFKA_TOPIC", defaultTopic),
			GroupID: p.string("KAFKA_GROUP_ID", defaultGroupID),
		},
		Redis: RedisConfig{
			URL:         p.string("REDIS_URL", ""),
			EarningsTTL: p.duration("EARNINGS_CACHE_TTL", defaultEarningsTTL),
		},
		Services: ServicesConfig{
			OrdersURL:        strings.TrimRight(p.string("ORDERS_SERVICE_URL", ""), "/"),
			CatalogURL:       strings.TrimRight(p.string("CATALOG_SERVICE_URL", ""), "/"),
			UsersURL:         strings.TrimRight(p.string("USERS_SERVICE_URL", ""), "/"),
			NotificationsURL: p.string("NOTIFICATIONS_URL", ""),
			ClientTimeout:    p.duration("HTTP_CLIENT_TIMEOUT", defaultClientTimeout),
		},
		Pricing: PricingConfig{
			ShippingFlat: p.decimal("SHIPPING_FLAT", defaultShippingFlat),
			TaxRate:      p.decimal("TAX_RATE", defaultTaxRate),
		},
		Orders: OrdersConfig{
			MaxAttempts:   p.int("TRANSITION_MAX_ATTEMPTS", defaultMaxAttempts),
			NotifyTimeout: p.duration("NOTIFY_TIMEOUT", defaultNotifyTimeout),
		},
		Auth: AuthConfig{
			JWTSecret: p.string("JWT_SECRET", ""),
			Issuer:    p.string("JWT_ISSUER", ""),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   p.string("OTEL_EXPORTER_OTLP_ENDPOINT", defaultOTLPEndpoint),
			ServiceVersion: p.string("SERVICE_VERSION", defaultServiceVersion),
		},
	}

	invalid = append(invalid, p.invalid...)
	if cfg.Orders.MaxAttempts < 1 {
		invalid = append(invalid, "TRANSITION_MAX_ATTEMPTS")
	}
	if cfg.Pricing.ShippingFlat.IsNegative() {
		invalid = append(invalid, "SHIPPING_FLAT")
	}
	if cfg.Pricing.TaxRate.IsNegative() {
		invalid = append(invalid, "TAX_RATE")
	}

	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

// parser records keys that are set but cannot be parsed, instead of silently
// falling back to the default.
type parser struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (p *parser) raw(key string) (string, bool) {
	value, ok := p.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (p *parser) string(key, fallback string) string {
	if value, ok := p.raw(key); ok {
		return value
	}
	return fallback
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}

func (p *parser) int(key string, fallback int) int {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return n
}

func (p *parser) decimal(key, fallback string) decimal.Decimal {
	value, ok := p.raw(key)
	if !ok {
		return decimal.RequireFromString(fallback)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return decimal.RequireFromString(fallback)
	}
	return d
}

func (p *parser) csv(key string) []string {
	value, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
