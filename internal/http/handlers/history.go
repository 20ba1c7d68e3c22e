package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

type transactionLister interface {
	Transactions(ctx context.Context, phone string) ([]ledger.Transaction, error)
}

// HistoryHandler serves wallet transaction history.
type HistoryHandler struct {
	ledger transactionLister
	logger *logging.Logger
}

func NewHistoryHandler(l transactionLister, logger *logging.Logger) *HistoryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HistoryHandler{ledger: l, logger: logger}
}

type transactionView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	AmountMinor int64     `json:"amountMinor"`
	Status      string    `json:"status,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// List handles GET /api/v1/wallets/{phone}/transactions.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number format")
		return
	}
	phone, err := wallet.ParsePhone(wallet.NormalizePhone(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number format")
		return
	}

	txs, err := h.ledger.Transactions(r.Context(), phone)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		h.logger.Error("transaction history failed", "error", err, "phone", logging.MaskPhone(phone))
		writeError(w, http.StatusBadGateway, "unable to load transactions")
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ID:          tx.ID,
			Type:        ledger.MapTransactionType(tx.Type),
			Amount:      tx.Amount.String(),
			AmountMinor: int64(tx.Amount),
			Status:      tx.Status,
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"phone": phone, "transactions": views})
}
