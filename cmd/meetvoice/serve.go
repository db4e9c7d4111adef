package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/meetvoice/internal/app"
	"github.com/MrWong99/meetvoice/internal/config"
	"github.com/MrWong99/meetvoice/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listenAddr  string
		watchConfig bool
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling HTTP service",
		Long: `Run the HTTP service that hosts scheduling sessions.

The service exposes the session API under /api, health probes at /healthz
and /readyz, Prometheus metrics at /metrics and, when enabled, the MCP tool
surface at /mcp. The config file is watched for changes unless
--watch-config=false is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			return serve(cmd, opts, cfg, watchConfig, quiet)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen_addr")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", true, "apply config file changes without a restart")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "skip the startup summary")
	return cmd
}

func serve(cmd *cobra.Command, opts *rootOptions, cfg *config.Config, watchConfig, quiet bool) error {
	ctx := cmd.Context()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	slog.Info("meetvoice starting",
		"config", opts.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	if !quiet {
		printStartupSummary(cmd.OutOrStdout(), cfg)
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(opts.level),
		app.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if opts.fromFile && watchConfig {
		w, err := config.NewWatcher(opts.configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "path", opts.configPath, "err", err)
		} else {
			defer w.Stop()
			slog.Info("watching config file", "path", opts.configPath)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
