package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recruitbot/internal/config"
	"recruitbot/internal/gateway"
	"recruitbot/internal/memory"
	"recruitbot/internal/metrics"
	"recruitbot/internal/provider"
)

func gatewayCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the development backend (REST + streaming chat)",
		Long:  "Serves conversations, attachments and the streaming chat endpoint backed by SQLite and the configured responder. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Gateway.Addr()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: gateway.host:gateway.port)")
	return cmd
}

func runGateway(ctx context.Context, cfg *config.Config, addr string) error {
	store, err := memory.NewSQLiteStore(config.ExpandPath(cfg.Gateway.DBPath), logger)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	defer store.Close()

	files, err := gateway.NewFileStore(gateway.FileStoreConfig{
		Dir:          config.ExpandPath(cfg.Gateway.AttachmentDir),
		MaxSizeBytes: cfg.Gateway.MaxAttachmentBytes,
		DB:           store,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("attachment store: %w", err)
	}

	responder, err := provider.NewFactory(cfg, logger).Gateway()
	if err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	if err := responder.Healthy(ctx); err != nil {
		logger.Warn("responder unhealthy at startup", "responder", responder.Name(), "err", err)
	} else {
		logger.Info("responder healthy", "responder", responder.Name())
	}

	var limiter *gateway.OwnerLimiter
	if cfg.Gateway.RateLimitPerMinute > 0 {
		limiter = gateway.NewOwnerLimiter(cfg.Gateway.RateLimitBurst, float64(cfg.Gateway.RateLimitPerMinute))
	}

	var (
		gm       *metrics.GatewayMetrics
		endpoint string
	)
	if cfg.Metrics.Enabled {
		gm = metrics.NewGatewayMetrics(metrics.NewMetricsCollector())
		endpoint = cfg.Metrics.Endpoint
	}

	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:            addr,
		Token:           cfg.Client.Token,
		PublicURL:       cfg.Gateway.PublicURL,
		Version:         version,
		Store:           store,
		Files:           files,
		Responder:       responder,
		Limiter:         limiter,
		Metrics:         gm,
		MetricsEndpoint: endpoint,
		Logger:          logger,
	})

	logger.Info("gateway running. Press Ctrl+C to stop.")
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
