package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/app/bootstrap"
	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	httpmiddleware "github.com/wolfman30/tatamali-wallet/internal/http/middleware"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		PublicBaseURL:         "http://localhost:8080",
		WhatsAppToken:         "token",
		WhatsAppPhoneNumberID: "12345",
		WhatsAppVerifyToken:   "verify-me",
		LedgerDriver:          "memory",
		MaxTransferAmount:     "10000",
		CurrencySymbol:        "R",
		NotifyMaxAttempts:     1,
		SessionStore:          "memory",
		SessionTTL:            time.Hour,
		DedupStore:            "memory",
		DedupTTL:              time.Minute,
		DedupMaxSize:          100,
		InboundQueue:          "memory",
		WorkerCount:           1,
		APIKey:                "secret",
		APIRateLimit:          10,
		APIRateBurst:          10,
	}
}

func buildTestRuntime(t *testing.T, cfg *appconfig.Config) *bootstrap.Runtime {
	t.Helper()
	rt, err := bootstrap.Build(context.Background(), cfg, logging.New("error"), nil, nil)
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestSetupMetricsExposesWalletMetrics(t *testing.T) {
	handler, metrics := setupMetrics()
	if handler == nil || metrics == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	metrics.ObserveWebhook("accepted")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "wallet_webhook_events_total") {
		t.Fatalf("expected webhook counter to be exported")
	}
}

func TestBuildRouterServesWebhookVerification(t *testing.T) {
	cfg := testConfig()
	rt := buildTestRuntime(t, cfg)
	handler, metrics := setupMetrics()
	r := buildRouter(cfg, rt, logging.New("error"), metrics, handler, httpmiddleware.NewRateLimiter(10, 10))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %q", rr.Body.String())
	}
}

func TestBuildRouterRequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	rt := buildTestRuntime(t, cfg)
	r := buildRouter(cfg, rt, logging.New("error"), nil, http.NotFoundHandler(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestSetupInlineWorkerDisabledForSQS(t *testing.T) {
	cfg := testConfig()
	rt := buildTestRuntime(t, cfg)
	cfg.InboundQueue = "sqs"

	if worker := setupInlineWorker(context.Background(), cfg, rt, logging.New("error")); worker != nil {
		t.Fatalf("expected no worker when the queue is external")
	}
}

func TestSetupInlineWorkerStartsAndStops(t *testing.T) {
	cfg := testConfig()
	rt := buildTestRuntime(t, cfg)
	logger := logging.New("error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := setupInlineWorker(ctx, cfg, rt, logger)
	if worker == nil {
		t.Fatalf("expected worker for the memory queue")
	}

	cancel()
	waitForInlineWorker(worker, logger)
}

func TestEvictIdleClientsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		evictIdleClients(ctx, httpmiddleware.NewRateLimiter(1, 1), time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("evictIdleClients did not return")
	}
}
