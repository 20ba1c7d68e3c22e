package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/tatamali-wallet/cmd/mainconfig"
	"github.com/wolfman30/tatamali-wallet/internal/api/router"
	"github.com/wolfman30/tatamali-wallet/internal/app/bootstrap"
	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	"github.com/wolfman30/tatamali-wallet/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/tatamali-wallet/internal/http/middleware"
	"github.com/wolfman30/tatamali-wallet/internal/inbound"
	observemetrics "github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting tatamali-wallet API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	metricsHandler, walletMetrics := setupMetrics()

	rt, err := bootstrap.Build(appCtx, cfg, logger, walletMetrics, mainconfig.AWSLoader(cfg))
	if err != nil {
		logger.Error("failed to build wallet runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker := setupInlineWorker(appCtx, cfg, rt, logger)

	limiter := httpmiddleware.NewRateLimiter(float64(cfg.APIRateLimit), cfg.APIRateBurst)
	go evictIdleClients(appCtx, limiter, 10*time.Minute)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, rt, logger, walletMetrics, metricsHandler, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancelApp()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *observemetrics.WalletMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), observemetrics.NewWalletMetrics(reg)
}

func buildRouter(cfg *appconfig.Config, rt *bootstrap.Runtime, logger *logging.Logger, m *observemetrics.WalletMetrics, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter) http.Handler {
	webhookCfg := handlers.WhatsAppWebhookConfig{
		VerifyToken: cfg.WhatsAppVerifyToken,
		AppSecret:   cfg.WhatsAppAppSecret,
		Dedup:       rt.Dedup,
		Publisher:   rt.Publisher,
		Metrics:     m,
		Logger:      logger,
	}
	if rt.Archive != nil {
		webhookCfg.Archive = rt.Archive
	}
	registration := handlers.NewRegistrationHandler(rt.Ledger, rt.Dispatcher, nil, logger)
	if rt.Audit != nil {
		registration = handlers.NewRegistrationHandler(rt.Ledger, rt.Dispatcher, rt.Audit, logger)
	}
	if cfg.WhatsAppAppSecret == "" {
		logger.Warn("WHATSAPP_APP_SECRET not set; webhook signatures are not verified")
	}

	return router.New(&router.Config{
		Logger:         logger,
		Health:         handlers.NewHealthHandler(rt.ReadinessChecks()),
		WhatsApp:       handlers.NewWhatsAppWebhookHandler(webhookCfg),
		Transfers:      handlers.NewTransferHandler(rt.Orchestrator, logger),
		Notifications:  handlers.NewNotificationHandler(rt.Dispatcher, rt.Ledger, logger),
		Registration:   registration,
		History:        handlers.NewHistoryHandler(rt.Ledger, logger),
		MetricsHandler: metricsHandler,
		APIKey:         cfg.APIKey,
		AdminJWTSecret: cfg.AdminJWTSecret,
		RateLimiter:    limiter,
	})
}

// setupInlineWorker consumes the in-process queue. With SQS the
// inbound-worker binary or the Lambda consumes instead.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, logger *logging.Logger) *inbound.Worker {
	if cfg.InboundQueue != "memory" {
		return nil
	}
	worker := inbound.NewWorker(rt.Pipeline, rt.Queue, logger,
		inbound.WithWorkerCount(cfg.WorkerCount),
		inbound.WithReceiveWaitSeconds(1),
	)
	worker.Start(ctx)
	logger.Info("inline inbound worker started", "workers", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *inbound.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline inbound worker stopped")
	case <-time.After(30 * time.Second):
		logger.Warn("timed out waiting for inline inbound worker to stop")
	}
}

func evictIdleClients(ctx context.Context, limiter *httpmiddleware.RateLimiter, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(idle)
		}
	}
}
