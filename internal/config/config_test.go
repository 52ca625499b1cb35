package config

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(WithoutSystemEnv(), WithDefaultPort("8081"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8081" {
		t.Errorf("expected port 8081, got %s", cfg.Server.Port)
	}
	if cfg.Kafka.Topic != "order.events" {
		t.Errorf("expected topic order.events, got %s", cfg.Kafka.Topic)
	}
	if cfg.Pricing.ShippingFlat.String() != "10" {
		t.Errorf("expected shipping 10, got %s", cfg.Pricing.ShippingFlat)
	}
	if cfg.Pricing.TaxRate.String() != "0.05" {
		t.Errorf("expected tax rate 0.05, got %s", cfg.Pricing.TaxRate)
	}
	if cfg.Orders.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Orders.MaxAttempts)
	}
	if cfg.Orders.NotifyTimeout != 2*time.Second {
		t.Errorf("expected notify timeout 2s, got %s", cfg.Orders.NotifyTimeout)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("expected redis to be disabled, got %s", cfg.Redis.URL)
	}
	if cfg.Kafka.Brokers != nil {
		t.Errorf("expected no brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":                    "9000",
		"KAFKA_BROKERS":           "kafka-1:9092, kafka-2:9092,",
		"CATALOG_SERVICE_URL":     "http://catalog:8082/",
		"SHIPPING_FLAT":           "7.50",
		"TAX_RATE":                "0.1",
		"TRANSITION_MAX_ATTEMPTS": "8",
		"NOTIFY_TIMEOUT":          "750ms",
		"JWT_SECRET":              "s3cret",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithRequired("JWT_SECRET"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Server.Port)
	}
	if !slices.Equal(cfg.Kafka.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Services.CatalogURL != "http://catalog:8082" {
		t.Errorf("expected trailing slash to be trimmed, got %s", cfg.Services.CatalogURL)
	}
	if cfg.Pricing.ShippingFlat.String() != "7.5" {
		t.Errorf("expected shipping 7.5, got %s", cfg.Pricing.ShippingFlat)
	}
	if cfg.Orders.MaxAttempts != 8 {
		t.Errorf("expected 8 attempts, got %d", cfg.Orders.MaxAttempts)
	}
	if cfg.Orders.NotifyTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.Orders.NotifyTimeout)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected jwt secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"TAX_RATE":                "five percent",
		"NOTIFY_TIMEOUT":          "soon",
		"TRANSITION_MAX_ATTEMPTS": "0",
		"SHIPPING_FLAT":           "-1",
		"REDIS_URL":               "   ",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithRequired("POSTGRES_URL", "REDIS_URL"))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{"POSTGRES_URL", "REDIS_URL", "TAX_RATE", "NOTIFY_TIMEOUT", "TRANSITION_MAX_ATTEMPTS", "SHIPPING_FLAT"}
	got := verr.Fields()
	for _, field := range want {
		if !slices.Contains(got, field) {
			t.Errorf("expected %s to be reported, got %v", field, got)
		}
	}
	if len(got) != len(want) {
		t.Errorf("expected %d fields, got %v", len(want), got)
	}
}
