package main

import (
	"context"
	"errors"

	"github.com/tursped/kargopanel/internal/config"
	"github.com/tursped/kargopanel/internal/store"
	"github.com/tursped/kargopanel/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func newMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics()
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
}

// initStore picks Postgres when DATABASE_URL is set, in-memory
// otherwise. The Postgres store creates its tables at boot.
func initStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("No DATABASE_URL configured, using in-memory store")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	logger.Info("Connected to Postgres")
	return pg, nil
}

// seedCarrierSettings writes environment-provided credentials into the
// settings table on first boot. Existing values win so panel edits
// survive restarts.
func seedCarrierSettings(ctx context.Context, cfg *config.Config, st store.Store, logger *otelzap.Logger) error {
	testMode := "false"
	if cfg.CarrierTestMode {
		testMode = "true"
	}
	seeds := map[string]string{
		store.KeyCarrierTestMode:       testMode,
		store.KeyCarrierClientID:       cfg.CarrierClientID,
		store.KeyCarrierClientSecret:   cfg.CarrierClientSecret,
		store.KeyCarrierCustomerNumber: cfg.CarrierCustomerNumber,
		store.KeyCarrierPassword:       cfg.CarrierPassword,
	}

	for key, value := range seeds {
		_, err := st.GetSetting(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := st.SetSetting(ctx, key, value); err != nil {
			return err
		}
		logger.Debug("Seeded carrier setting", zap.String("key", key))
	}
	return nil
}
