package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

const msgRegistrationFailed = "❌ Registration was not completed.\n\n" +
	"Please try again or contact support if you continue to have issues."

type walletLookup interface {
	LookupWallet(ctx context.Context, phone string) (*ledger.Wallet, error)
}

type registrationAuditor interface {
	LogRegistration(ctx context.Context, phone string, success bool) error
}

// RegistrationHandler is called back by the registration app once a user
// finishes (or abandons) sign-up.
type RegistrationHandler struct {
	wallets   walletLookup
	messenger Messenger
	audit     registrationAuditor
	logger    *logging.Logger
}

func NewRegistrationHandler(wallets walletLookup, messenger Messenger, audit registrationAuditor, logger *logging.Logger) *RegistrationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RegistrationHandler{wallets: wallets, messenger: messenger, audit: audit, logger: logger}
}

// Callback handles GET /api/v1/registration/callback?phone=&status=success|error.
func (h *RegistrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("phone") == "" {
		writeError(w, http.StatusBadRequest, "phone number is required")
		return
	}
	phone, err := wallet.ParsePhone(wallet.NormalizePhone(q.Get("phone")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number format")
		return
	}
	log := h.logger.With("phone", logging.MaskPhone(phone))

	switch q.Get("status") {
	case "success":
		if _, err := h.wallets.LookupWallet(r.Context(), phone); err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				h.record(r.Context(), log, phone, false)
				writeError(w, http.StatusNotFound, "user_not_found")
				return
			}
			log.Error("registration callback: wallet lookup failed", "error", err)
			writeError(w, http.StatusBadGateway, "unable to verify registration")
			return
		}
		if _, err := h.messenger.Notify(r.Context(), phone, notify.Welcome{}); err != nil {
			log.Error("failed to send welcome message", "error", err)
		}
		h.record(r.Context(), log, phone, true)
		writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
	case "error":
		if _, err := h.messenger.Send(r.Context(), phone, notify.Text(msgRegistrationFailed)); err != nil {
			log.Error("failed to send registration failure message", "error", err)
		}
		h.record(r.Context(), log, phone, false)
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "failed",
			"error":  defaultString(q.Get("error"), "unknown"),
		})
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
	}
}

func (h *RegistrationHandler) record(ctx context.Context, log *logging.Logger, phone string, success bool) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogRegistration(ctx, phone, success); err != nil {
		log.Warn("registration audit failed", "error", err)
	}
}
