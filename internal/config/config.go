package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the panel.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Persistence. Empty DATABASE_URL falls back to the in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// MNG Kargo. Credentials set here seed the settings table on first
	// boot; afterwards the settings table is authoritative.
	CarrierTestMode       bool   `envconfig:"MNG_TEST_MODE" default:"true"`
	CarrierClientID       string `envconfig:"MNG_CLIENT_ID"`
	CarrierClientSecret   string `envconfig:"MNG_CLIENT_SECRET"`
	CarrierCustomerNumber string `envconfig:"MNG_CUSTOMER_NUMBER"`
	CarrierPassword       string `envconfig:"MNG_PASSWORD"`
	CarrierUseMock        bool   `envconfig:"MNG_USE_MOCK" default:"false"`

	// When true and no credentials are configured, the carrier's
	// published sandbox credentials are used. Only honored together
	// with MNG_TEST_MODE.
	CarrierUseSandboxPreset bool `envconfig:"MNG_USE_SANDBOX_PRESET" default:"false"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"kargopanel"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("carrier.test_mode", c.CarrierTestMode),
	}
}
