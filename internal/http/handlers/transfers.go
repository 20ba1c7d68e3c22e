package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/transfer"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

const maxBulkNotifications = 100

// TransferService is the orchestrator surface used by the transfer API.
type TransferService interface {
	Execute(ctx context.Context, cmd ledger.TransferCommand, opts ...transfer.ExecuteOption) ledger.TransferOutcome
	MaxAmount() wallet.Amount
	NotifyParties(ctx context.Context, n transfer.PartiesNotice) transfer.NotifyResult
	NotifyRecipients(ctx context.Context, fromPhone string, items []transfer.RecipientNotice) int
}

// TransferHandler triggers transfers and transfer notifications from
// trusted backends.
type TransferHandler struct {
	transfers TransferService
	logger    *logging.Logger
}

func NewTransferHandler(transfers TransferService, logger *logging.Logger) *TransferHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TransferHandler{transfers: transfers, logger: logger}
}

type transferRequest struct {
	From           string      `json:"from"`
	To             string      `json:"to"`
	Amount         amountField `json:"amount"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Note           string      `json:"note,omitempty"`
}

type transferResponse struct {
	ledger.TransferOutcome
	IdempotencyKey string `json:"idempotencyKey"`
}

// Create handles POST /api/v1/transfers. The Idempotency-Key header takes
// precedence over the body field; without either a fresh key is generated.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd, err := h.command(req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The ledger call must not be abandoned halfway because the caller hung up.
	outcome := h.transfers.Execute(context.WithoutCancel(r.Context()), cmd, transfer.WithSource("api"))
	h.logger.Info("api transfer finished",
		"idempotency_key", cmd.IdempotencyKey,
		"from", logging.MaskPhone(cmd.FromPhone),
		"to", logging.MaskPhone(cmd.ToPhone),
		"success", outcome.Success,
		"failure", outcome.Failure,
		"ambiguous", outcome.Ambiguous,
	)
	writeJSON(w, outcomeStatus(outcome), transferResponse{TransferOutcome: outcome, IdempotencyKey: cmd.IdempotencyKey})
}

func (h *TransferHandler) command(req transferRequest, headerKey string) (ledger.TransferCommand, error) {
	from, err := wallet.ParsePhone(req.From)
	if err != nil {
		return ledger.TransferCommand{}, errors.New("invalid from phone number, use international format: +27831234567")
	}
	to, err := wallet.ParsePhone(req.To)
	if err != nil {
		return ledger.TransferCommand{}, errors.New("invalid to phone number, use international format: +27831234567")
	}
	if from == to {
		return ledger.TransferCommand{}, errors.New("cannot transfer to own wallet")
	}
	amount, err := req.Amount.parse()
	if err != nil {
		return ledger.TransferCommand{}, amountError(err)
	}
	if max := h.transfers.MaxAmount(); max > 0 && amount > max {
		return ledger.TransferCommand{}, fmt.Errorf("amount exceeds maximum of %s", max)
	}
	key := strings.TrimSpace(headerKey)
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		key = uuid.NewString()
	}
	return ledger.TransferCommand{
		FromPhone:      from,
		ToPhone:        to,
		AmountMinor:    amount,
		IdempotencyKey: key,
		Note:           strings.TrimSpace(req.Note),
	}, nil
}

func amountError(err error) error {
	switch {
	case errors.Is(err, errMissingAmount):
		return err
	case errors.Is(err, wallet.ErrAmountNotPositive):
		return errors.New("amount must be greater than 0")
	default:
		return errors.New("invalid amount, use a decimal with at most two places such as 25.50")
	}
}

func outcomeStatus(o ledger.TransferOutcome) int {
	switch {
	case o.Success:
		return http.StatusOK
	case o.Ambiguous:
		return http.StatusAccepted
	}
	switch o.Failure {
	case ledger.FailureRejected, ledger.FailureInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ledger.FailureNotFound:
		return http.StatusNotFound
	case ledger.FailureUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type notifyItem struct {
	RecipientPhone string      `json:"recipientPhone"`
	Amount         amountField `json:"amount"`
	TransactionID  string      `json:"transactionId,omitempty"`
}

type transferNotifyRequest struct {
	// Type is single, recipient_only or bulk.
	Type           string       `json:"type"`
	SenderPhone    string       `json:"senderPhone"`
	RecipientPhone string       `json:"recipientPhone"`
	Amount         amountField  `json:"amount"`
	TransactionID  string       `json:"transactionId,omitempty"`
	Transfers      []notifyItem `json:"transfers"`
}

// Notify handles POST /api/v1/transfers/notify for transfers that were
// executed outside the chat, e.g. from the mobile app.
func (h *TransferHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req transferNotifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sender, err := wallet.ParsePhone(req.SenderPhone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid senderPhone format, use international format: +27831234567")
		return
	}
	ctx := context.WithoutCancel(r.Context())

	switch req.Type {
	case "single":
		item, err := parseNotifyItem(notifyItem{RecipientPhone: req.RecipientPhone, Amount: req.Amount, TransactionID: req.TransactionID})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res := h.transfers.NotifyParties(ctx, transfer.PartiesNotice{
			FromPhone:     sender,
			ToPhone:       item.ToPhone,
			Amount:        item.Amount,
			TransactionID: item.TransactionID,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   res.SenderErr == nil && res.RecipientErr == nil,
			"sender":    deliveryStatus(res.SenderErr),
			"recipient": deliveryStatus(res.RecipientErr),
		})
	case "recipient_only":
		item, err := parseNotifyItem(notifyItem{RecipientPhone: req.RecipientPhone, Amount: req.Amount, TransactionID: req.TransactionID})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		delivered := h.transfers.NotifyRecipients(ctx, sender, []transfer.RecipientNotice{item})
		writeJSON(w, http.StatusOK, map[string]any{"success": delivered == 1, "delivered": delivered})
	case "bulk":
		if len(req.Transfers) == 0 {
			writeError(w, http.StatusBadRequest, "transfers must not be empty for bulk notifications")
			return
		}
		if len(req.Transfers) > maxBulkNotifications {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d transfers per bulk notification", maxBulkNotifications))
			return
		}
		items := make([]transfer.RecipientNotice, 0, len(req.Transfers))
		for i, raw := range req.Transfers {
			item, err := parseNotifyItem(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("transfers[%d]: %v", i, err))
				return
			}
			items = append(items, item)
		}
		delivered := h.transfers.NotifyRecipients(ctx, sender, items)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   delivered == len(items),
			"delivered": delivered,
			"total":     len(items),
		})
	default:
		writeError(w, http.StatusBadRequest, "type must be one of single, recipient_only, bulk")
	}
}

func parseNotifyItem(item notifyItem) (transfer.RecipientNotice, error) {
	to, err := wallet.ParsePhone(item.RecipientPhone)
	if err != nil {
		return transfer.RecipientNotice{}, errors.New("invalid recipientPhone format, use international format: +27831234567")
	}
	amount, err := item.Amount.parse()
	if err != nil {
		return transfer.RecipientNotice{}, amountError(err)
	}
	return transfer.RecipientNotice{ToPhone: to, Amount: amount, TransactionID: item.TransactionID}, nil
}

func deliveryStatus(err error) string {
	if err != nil {
		return "failed"
	}
	return "sent"
}
