package handlers

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// Messenger sends outbound WhatsApp messages; *notify.Dispatcher implements it.
type Messenger interface {
	Send(ctx context.Context, to string, msg notify.Message) (string, error)
	Notify(ctx context.Context, to string, n notify.Notification) (string, error)
}

type walletReader interface {
	GetOrCreateWallet(ctx context.Context, phone string) (*ledger.Wallet, error)
}

// NotificationHandler exposes templated notifications and raw message sends.
type NotificationHandler struct {
	messenger Messenger
	wallets   walletReader
	logger    *logging.Logger
}

func NewNotificationHandler(messenger Messenger, wallets walletReader, logger *logging.Logger) *NotificationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationHandler{messenger: messenger, wallets: wallets, logger: logger}
}

type notificationRequest struct {
	Type string           `json:"type"`
	To   string           `json:"to"`
	Data notificationData `json:"data"`
}

type notificationData struct {
	FirstName string      `json:"firstName,omitempty"`
	Type      string      `json:"type,omitempty"`
	Amount    amountField `json:"amount,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
	Sender    string      `json:"sender,omitempty"`
	Campaign  string      `json:"campaign,omitempty"`
}

// Send handles POST /api/v1/notifications.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: to and type")
		return
	}
	to, err := wallet.ParsePhone(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number format")
		return
	}

	var n notify.Notification
	switch req.Type {
	case "balance":
		wl, err := h.wallets.GetOrCreateWallet(r.Context(), to)
		if err != nil {
			h.logger.Error("balance notification: wallet lookup failed", "error", err, "phone", logging.MaskPhone(to))
			writeError(w, http.StatusBadGateway, "unable to read balance")
			return
		}
		n = notify.Balance{Amount: wl.Balance}
	case "welcome":
		n = notify.Welcome{FirstName: req.Data.FirstName}
	case "transaction":
		amount, err := req.Data.Amount.parse()
		if err != nil {
			writeError(w, http.StatusBadRequest, amountError(err).Error())
			return
		}
		switch req.Data.Type {
		case "sent":
			n = notify.TransactionSent{Amount: amount, To: req.Data.Recipient}
		case "received":
			n = notify.TransactionReceived{Amount: amount, From: req.Data.Sender}
		default:
			writeError(w, http.StatusBadRequest, "invalid transaction type")
			return
		}
	case "promotion":
		n = notify.Promotion{Campaign: req.Data.Campaign}
	default:
		writeError(w, http.StatusBadRequest, "invalid notification type")
		return
	}

	id, err := h.messenger.Notify(r.Context(), to, n)
	if err != nil {
		if errors.Is(err, notify.ErrUnknownCampaign) {
			writeError(w, http.StatusBadRequest, "unknown campaign")
			return
		}
		h.logger.Error("notification send failed", "error", err, "type", req.Type, "phone", logging.MaskPhone(to))
		writeError(w, http.StatusBadGateway, "failed to send notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": id})
}

type sendMessageRequest struct {
	To      string            `json:"to"`
	Message string            `json:"message"`
	Type    string            `json:"type"`
	Buttons []whatsapp.Button `json:"buttons,omitempty"`
}

// SendMessage handles POST /api/v1/messages, a direct text or button send.
func (h *NotificationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to, err := wallet.ParsePhone(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number format")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > whatsapp.MaxTextLength {
		writeError(w, http.StatusBadRequest, "message exceeds 4096 characters")
		return
	}

	var msg notify.Message
	switch defaultString(req.Type, "text") {
	case "text":
		msg = notify.Text(req.Message)
	case "interactive":
		if err := whatsapp.ValidateButtons(req.Buttons); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		msg = notify.Interactive(req.Message, req.Buttons...)
	default:
		writeError(w, http.StatusBadRequest, "type must be text or interactive")
		return
	}

	id, err := h.messenger.Send(r.Context(), to, msg)
	if err != nil {
		if isSendValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("direct message send failed", "error", err, "phone", logging.MaskPhone(to))
		writeError(w, http.StatusBadGateway, "failed to send message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": id})
}

func isSendValidation(err error) bool {
	for _, target := range []error{
		whatsapp.ErrInvalidRecipient, whatsapp.ErrEmptyBody, whatsapp.ErrBodyTooLong,
		whatsapp.ErrButtonCount, whatsapp.ErrInvalidButton, whatsapp.ErrButtonTitleTooLong,
		whatsapp.ErrButtonIDTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
