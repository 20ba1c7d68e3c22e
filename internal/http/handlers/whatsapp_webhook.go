package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/archive"
	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/events"
	observemetrics "github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

const maxWebhookBytes = 1 << 20

type eventPublisher interface {
	Publish(ctx context.Context, ev whatsapp.InboundEvent) (string, error)
}

type webhookArchiver interface {
	ArchiveWebhook(ctx context.Context, w archive.Webhook) error
}

// WhatsAppWebhookHandler receives WhatsApp Business Platform webhooks and
// hands each new message to the inbound queue.
type WhatsAppWebhookHandler struct {
	verifyToken string
	appSecret   string
	dedup       events.Deduper
	publisher   eventPublisher
	archive     webhookArchiver
	metrics     *observemetrics.WalletMetrics
	logger      *logging.Logger
}

type WhatsAppWebhookConfig struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
	Dedup     events.Deduper
	Publisher eventPublisher
	Archive   webhookArchiver
	Metrics   *observemetrics.WalletMetrics
	Logger    *logging.Logger
}

func NewWhatsAppWebhookHandler(cfg WhatsAppWebhookConfig) *WhatsAppWebhookHandler {
	if cfg.Publisher == nil || cfg.Dedup == nil {
		panic("handlers: whatsapp webhook requires a publisher and a deduper")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WhatsAppWebhookHandler{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		dedup:       cfg.Dedup,
		publisher:   cfg.Publisher,
		archive:     cfg.Archive,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Verify answers the subscription handshake.
func (h *WhatsAppWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.VerifyChallenge(r.URL.Query(), h.verifyToken)
	if !ok {
		h.logger.Warn("whatsapp webhook verification failed", "mode", r.URL.Query().Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive acknowledges a delivery. Only malformed messages (400) and bad
// signatures (401) are refused; everything else gets 200 so the provider
// stops retrying, including deliveries whose processing fails.
func (h *WhatsAppWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.metrics.ObserveWebhook("rejected")
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if h.appSecret != "" && !whatsapp.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("invalid whatsapp webhook signature")
		h.metrics.ObserveWebhook("unauthorized")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	result := whatsapp.ParseWebhook(body)
	switch result.Outcome {
	case whatsapp.OutcomeReject:
		h.logger.Warn("whatsapp webhook rejected", "reason", result.Reason)
		h.metrics.ObserveWebhook("rejected")
		writeError(w, http.StatusBadRequest, result.Reason)
		return
	case whatsapp.OutcomeIgnore:
		h.logger.Debug("whatsapp webhook ignored", "reason", result.Reason, "statuses", len(result.Statuses))
		h.metrics.ObserveWebhook("ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	for _, ev := range result.Events {
		h.accept(r.Context(), ev, body)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WhatsAppWebhookHandler) accept(ctx context.Context, ev whatsapp.InboundEvent, raw []byte) {
	log := h.logger.With("event_id", ev.EventID, "from", logging.MaskPhone(ev.From))

	// A failing dedup backend must not drop messages; the session's last
	// event id still stops replays further down.
	seen, err := h.dedup.CheckAndMark(ctx, ev.EventID)
	if err != nil {
		log.Warn("webhook dedup unavailable", "error", err)
	} else if seen {
		log.Debug("duplicate whatsapp event")
		h.metrics.ObserveWebhook("duplicate")
		return
	}

	if h.archive != nil {
		if err := h.archive.ArchiveWebhook(ctx, archive.Webhook{
			EventID:    ev.EventID,
			From:       ev.From,
			Kind:       string(ev.Kind),
			Body:       raw,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			log.Warn("webhook archive failed", "error", err)
		}
	}

	jobID, err := h.publisher.Publish(ctx, ev)
	if err != nil {
		log.Error("failed to enqueue whatsapp event", "error", err)
		h.metrics.ObserveWebhook("enqueue_failed")
		return
	}
	log.Info("whatsapp event enqueued", "job_id", jobID, "kind", ev.Kind)
	h.metrics.ObserveWebhook("accepted")
}
