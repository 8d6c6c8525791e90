package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/schaermu/nbpuller/internal/autopull"
	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/metrics"
	"github.com/schaermu/nbpuller/internal/server"
	"github.com/schaermu/nbpuller/internal/sync"
	"github.com/schaermu/nbpuller/internal/webhook"
	"github.com/schaermu/nbpuller/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pulls over HTTP and WebSocket",
	Long: `Serve starts the HTTP server. Clients request a pull through the interact
endpoint and then follow its progress over a WebSocket; the sync endpoint
offers the same pull as a single JSON response.

When autopull.list_file is set the listed repositories are re-pulled on a
timer. When serve.github_webhook_secret_file is also set, GitHub push events
trigger an immediate re-pull.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srv, err := buildServer(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// buildServer wires the engine, worker pool, metrics, auto-pull loop and
// webhook into a server. The auto-pull loop starts immediately and stops
// with ctx.
func buildServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *slog.Logger) (*server.Server, error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pool := worker.NewPool(cfg.Serve.Workers, logger)
	m, err := metrics.New(reg, func() float64 { return float64(pool.Active()) })
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	engine := newEngine(cfg, logger).WithObserver(m)
	syncer := sync.NewPooledSyncer(engine, pool, cfg.Redirect.ErrorURL, logger)
	srv := server.New(cfg, syncer, logger).WithMetrics(reg, m)

	if cfg.AutoPull.ListFile == "" {
		if cfg.Serve.GitHubWebhookSecretFile != "" {
			return nil, fmt.Errorf("serve.github_webhook_secret_file requires autopull.list_file")
		}
		return srv, nil
	}

	runner := autopull.NewRunner(cfg, syncer, logger)
	runner.OnRun(m.AutoPullRun)
	go runner.Loop(ctx)

	if cfg.Serve.GitHubWebhookSecretFile != "" {
		hook, err := webhook.NewHandler(cfg, func() {
			runner.Run(ctx, autopull.TriggerWebhook)
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook handler: %w", err)
		}
		hook.OnEvent(m.WebhookEvent)
		srv.WithWebhook(hook)
	}

	logger.Info("auto-pull enabled",
		"list_file", cfg.AutoPull.ListFile,
		"interval", cfg.AutoPull.Interval,
		"webhook", cfg.Serve.GitHubWebhookSecretFile != "")
	return srv, nil
}
