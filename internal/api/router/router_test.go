package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/events"
	"github.com/wolfman30/tatamali-wallet/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/tatamali-wallet/internal/http/middleware"
	"github.com/wolfman30/tatamali-wallet/internal/inbound"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Default()
	dedup := events.NewMemoryCache(time.Minute, 100)
	t.Cleanup(dedup.Close)
	l := ledger.NewMemoryLedger()
	l.Register("+27831234567", wallet.AmountFromMajor(10))

	return New(&Config{
		Logger: logger,
		Health: handlers.NewHealthHandler(nil),
		WhatsApp: handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{
			VerifyToken: "verify-me",
			Dedup:       dedup,
			Publisher:   inbound.NewPublisher(inbound.NewMemoryQueue(10)),
			Logger:      logger,
		}),
		History:     handlers.NewHistoryHandler(l, logger),
		APIKey:      "test-key",
		RateLimiter: limiter,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterWebhookIsPublic(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "abc" {
		t.Fatalf("expected challenge echo, got %d %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(nil))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected empty webhook body to be acknowledged, got %d", rr.Code)
	}
}

func TestRouterAPIRequiresCredentials(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/+27831234567/transactions", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}

	req.Header.Set("X-API-Key", "test-key")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with api key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAPIRateLimit(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0, 1))

	var codes []int
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/+27831234567/transactions", nil)
		req.Header.Set("X-API-Key", "test-key")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}
