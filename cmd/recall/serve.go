package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/logging"
	"github.com/recallhq/recall-go/pkg/server"
	"github.com/recallhq/recall-go/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}

		registry := prometheus.NewRegistry()
		metrics := telemetry.New(registry)

		client, err := core.NewClient(cfg,
			core.WithLogger(logger),
			core.WithMetrics(metrics))
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return server.New(client, cfg, logger, registry).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}
