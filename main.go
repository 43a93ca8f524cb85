package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tursped/kargopanel/internal/server"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kargopanel",
	Short:   "MNG Kargo admin panel backend - shipment submission and tracking API",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(ctx)
	}

	st, err := initStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}

	if err := seedCarrierSettings(ctx, cfg, st, logger); err != nil {
		logger.Warn("Seeding carrier settings failed", zap.Error(err))
	}

	logger.Info("Starting kargopanel",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Bool("test_mode", cfg.CarrierTestMode),
	)

	srv := server.New(server.Config{
		Port:          cfg.Port,
		UseMock:       cfg.CarrierUseMock,
		SandboxPreset: cfg.CarrierUseSandboxPreset,
	}, st, logger, tracer, newMetrics())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
