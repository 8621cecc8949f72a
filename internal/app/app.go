// Package app wires the platform's components together: config, database,
// Redis, and every service's dependencies, then starts either the API
// server or the background worker loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/relaypost/relaypost/internal/config"
	"github.com/relaypost/relaypost/internal/httpserver"
	"github.com/relaypost/relaypost/internal/ledger"
	"github.com/relaypost/relaypost/internal/platform"
	"github.com/relaypost/relaypost/internal/telemetry"
	"github.com/relaypost/relaypost/internal/tokencrypt"
	"github.com/relaypost/relaypost/pkg/budget"
	"github.com/relaypost/relaypost/pkg/platformadapter"
	"github.com/relaypost/relaypost/pkg/scheduler"
	"github.com/relaypost/relaypost/pkg/webhookingress"
	"github.com/relaypost/relaypost/pkg/workflow"
)

// Run is the process entry point. It reads config, connects to
// infrastructure, and starts the mode selected by RELAYPOST_MODE.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting relaypost", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	sealer, err := tokencrypt.NewSealer(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing token sealer: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg, sealer)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg, sealer)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildEngine constructs the pieces shared by both api and worker modes:
// the ledger store, the scheduler, the platform adapter registry, and the
// workflow engine built on top of them.
func buildEngine(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, sealer *tokencrypt.Sealer) (*ledger.Store, *workflow.Engine, *budget.Guard, *webhookingress.Ingress, *webhookingress.Reconciler) {
	store := ledger.NewStore(db)

	breakerTimeout, _ := time.ParseDuration(cfg.RateLimits.BreakerTimeout)
	baseBackoff, _ := time.ParseDuration(cfg.RateLimits.BreakerBaseBackoff)
	maxBackoff, _ := time.ParseDuration(cfg.RateLimits.MaxBackoff)
	failClosedRetryAfter, _ := time.ParseDuration(cfg.RateLimits.FailClosedRetryAfter)

	limiter := scheduler.NewTokenBucketLimiter(rdb, cfg.RateLimits.BreakerThreshold, baseBackoff, cfg.RateLimits.BackoffMultiplier, maxBackoff, breakerTimeout, failClosedRetryAfter)
	fairshare := scheduler.NewFairShareDispatcher(rdb)
	policies := scheduler.PolicyTable{}
	sched := scheduler.NewScheduler(limiter, fairshare, policies, logger, telemetry.SchedulerMetrics{})

	adapters := platformadapter.NewRegistry(
		"https://graph.instagram.example.com",
		"https://open.tiktokapis.example.com",
		"https://api.x.example.com",
		"https://oauth.reddit.example.com",
	)

	workflowCfg := workflowConfigFrom(cfg.Scheduler)
	engine := workflow.NewEngine(store, sched, adapters, sealer, logger, telemetry.WorkflowMetrics{}, workflowCfg)

	guard := budget.NewGuard(store, logger, telemetry.BudgetMetrics{}, budget.Defaults{
		LimitUSD: cfg.Budget.DefaultLimitUSD,
		SoftPct:  cfg.Budget.SoftPct,
		HardStop: cfg.Budget.HardStop,
	})

	tolerance := time.Duration(cfg.Webhook.SignatureToleranceSeconds) * time.Second
	providers := webhookingress.DefaultProviderConfigs(
		cfg.Webhook.InstagramSigningSecret,
		cfg.Webhook.TikTokSigningSecret,
		cfg.Webhook.XSigningSecret,
		cfg.Webhook.RedditSigningSecret,
	)
	ingress := webhookingress.NewIngress(store, engine, providers, tolerance, cfg.Webhook.DLQMaxRetries, logger, telemetry.WebhookMetrics{})
	reconciler := webhookingress.NewReconciler(store, engine, logger, telemetry.WebhookMetrics{}, cfg.Webhook.DLQMaxRetries)

	return store, engine, guard, ingress, reconciler
}

func workflowConfigFrom(sc config.SchedulerConfig) workflow.Config {
	baseBackoff, _ := time.ParseDuration(sc.BaseBackoff)
	dedupeWindow, _ := time.ParseDuration(sc.DedupeWindow)
	activityTimeout, _ := time.ParseDuration(sc.ActivityTimeout)
	workflowTimeout, _ := time.ParseDuration(sc.WorkflowTimeout)
	pollInterval, _ := time.ParseDuration(sc.PollInterval)
	pollTimeout, _ := time.ParseDuration(sc.PollTimeout)
	jitterMin, _ := time.ParseDuration(sc.PostingJitterMin)
	jitterMax, _ := time.ParseDuration(sc.PostingJitterMax)

	return workflow.Config{
		WorkerConcurrency:   sc.WorkerConcurrency,
		WorkflowConcurrency: sc.WorkflowConcurrency,
		MaxAttempts:         sc.MaxAttempts,
		BaseBackoff:         baseBackoff,
		DedupeWindow:        dedupeWindow,
		ActivityTimeout:     activityTimeout,
		WorkflowTimeout:     workflowTimeout,
		PollInterval:        pollInterval,
		PollTimeout:         pollTimeout,
		PostingJitterMin:    jitterMin,
		PostingJitterMax:    jitterMax,
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, sealer *tokencrypt.Sealer) error {
	_, engine, guard, ingress, _ := buildEngine(cfg, logger, db, rdb, sealer)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg)

	workflowHandler := workflow.NewHandler(engine, logger)
	srv.APIRouter.Mount("/posts", workflowHandler.Routes())

	budgetHandler := budget.NewHandler(guard, logger)
	srv.APIRouter.Mount("/budget", budgetHandler.Routes())

	webhookParsers := webhookingress.DefaultParsers()
	webhookHandler := webhookingress.NewHandler(ingress, webhookParsers, logger)
	srv.Router.Mount("/webhooks", webhookHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, sealer *tokencrypt.Sealer) error {
	logger.Info("worker started")

	_, engine, guard, _, reconciler := buildEngine(cfg, logger, db, rdb, sealer)

	parsers := webhookingress.DefaultParsers()

	platforms := []string{"instagram", "tiktok", "x", "reddit"}
	for _, p := range platforms {
		if !cfg.Features.PlatformEnabled(p) {
			logger.Info("platform dispatch disabled by feature flag", "platform", p)
			continue
		}
		platform := p
		go func() {
			if err := engine.RunDispatcher(ctx, platform); err != nil {
				logger.Error("dispatcher stopped", "platform", platform, "error", err)
			}
		}()
		go func() {
			if err := engine.RunPoller(ctx, platform); err != nil {
				logger.Error("poller stopped", "platform", platform, "error", err)
			}
		}()
	}

	reaperInterval, err := time.ParseDuration(cfg.Budget.ReaperInterval)
	if err != nil {
		return fmt.Errorf("parsing budget reaper interval: %w", err)
	}
	reconcileInterval, err := time.ParseDuration(cfg.Webhook.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("parsing webhook reconcile interval: %w", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(everySpec(reaperInterval), func() {
		n, err := guard.ReapExpired(ctx, time.Now())
		if err != nil {
			logger.Error("reaping expired budget reservations", "error", err)
			return
		}
		if n > 0 {
			logger.Info("reaped expired budget reservations", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling budget reaper: %w", err)
	}
	if _, err := c.AddFunc(everySpec(reconcileInterval), func() {
		n, err := reconciler.Run(ctx, parsers)
		if err != nil {
			logger.Error("running webhook reconciler", "error", err)
			return
		}
		if n > 0 {
			logger.Info("reconciled unroutable webhook events", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling webhook reconciler: %w", err)
	}
	c.Start()
	defer c.Stop()

	_ = metricsReg
	<-ctx.Done()
	logger.Info("worker shutting down")
	return nil
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}
