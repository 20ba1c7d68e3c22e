package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

var ledgerTracer = otel.Tracer("wallet.internal.ledger")

const defaultUserAgent = "tatamali-wallet-chat/1.0"

// Config controls the HTTP ledger client.
type Config struct {
	BaseURL     string
	APIToken    string
	EmailDomain string
	TokenSymbol string
	// StatusPath is a format string with one %s for the idempotency key,
	// e.g. "/transfer/status/%s". Empty disables TransferStatus.
	StatusPath string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// HTTPClient talks to the REST ledger. Users are addressed by an e-mail
// identifier derived from the phone number ("27831234567@<domain>").
type HTTPClient struct {
	baseURL     string
	token       string
	emailDomain string
	tokenSymbol string
	statusPath  string
	httpClient  *http.Client
	maxRetries  int
	backoff     time.Duration
	logger      *logging.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and fills in defaults.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ledger: base URL is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("ledger: API token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	domain := strings.TrimSpace(cfg.EmailDomain)
	if domain == "" {
		domain = "tata-mali.com"
	}
	symbol := strings.TrimSpace(cfg.TokenSymbol)
	if symbol == "" {
		symbol = "LZAR"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPClient{
		baseURL:     baseURL,
		token:       cfg.APIToken,
		emailDomain: domain,
		tokenSymbol: symbol,
		statusPath:  cfg.StatusPath,
		httpClient:  httpClient,
		maxRetries:  maxRetries,
		backoff:     backoff,
		logger:      logger,
	}, nil
}

// EmailFor derives the ledger identifier for a phone number.
func (c *HTTPClient) EmailFor(phone string) string {
	return wallet.PhoneDigits(phone) + "@" + c.emailDomain
}

type recipientDetails struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	PaymentIdentifier string `json:"paymentIdentifier"`
}

type balanceToken struct {
	Symbol   string        `json:"symbol"`
	Currency string        `json:"currency"`
	Balance  flexibleValue `json:"balance"`
}

type balanceResponse struct {
	Tokens []balanceToken `json:"tokens"`
}

type transactionRef struct {
	ID    string        `json:"id"`
	Value flexibleValue `json:"value"`
}

type writeResponse struct {
	Message       string          `json:"message"`
	TransactionID string          `json:"transactionId"`
	Transaction   *transactionRef `json:"transaction"`
}

type historyResponse struct {
	Transactions []struct {
		ID        string        `json:"id"`
		TxType    string        `json:"txType"`
		Method    string        `json:"method"`
		Value     flexibleValue `json:"value"`
		Status    string        `json:"status"`
		CreatedAt time.Time     `json:"createdAt"`
	} `json:"transactions"`
}

type statusResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId"`
}

// LookupWallet resolves an existing user and balance without creating one.
func (c *HTTPClient) LookupWallet(ctx context.Context, phone string) (*Wallet, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.lookup_wallet")
	defer span.End()

	user, err := c.lookupUser(ctx, phone)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return c.withBalance(ctx, phone, user)
}

// GetOrCreateWallet resolves the user for phone, creating it when absent.
func (c *HTTPClient) GetOrCreateWallet(ctx context.Context, phone string) (*Wallet, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.get_or_create_wallet")
	defer span.End()

	user, err := c.lookupUser(ctx, phone)
	if errors.Is(err, ErrWalletNotFound) {
		user, err = c.createUser(ctx, phone)
	}
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return c.withBalance(ctx, phone, user)
}

// Balance returns the spendable balance for phone.
func (c *HTTPClient) Balance(ctx context.Context, phone string) (wallet.Amount, error) {
	w, err := c.LookupWallet(ctx, phone)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// Transfer executes a single POST; it is never retried here so that a timed
// out write is reported as ambiguous instead of being replayed.
func (c *HTTPClient) Transfer(ctx context.Context, cmd TransferCommand) (TransferOutcome, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("wallet.idempotency_key", cmd.IdempotencyKey),
		attribute.Int64("wallet.amount_minor", int64(cmd.AmountMinor)),
	)

	sender, err := c.lookupUser(ctx, cmd.FromPhone)
	if errors.Is(err, ErrWalletNotFound) {
		return Failed(FailureNotFound, "Sender wallet not found"), nil
	}
	if err != nil {
		recordErr(span, err)
		return TransferOutcome{}, notSent(err)
	}
	recipient, err := c.lookupUser(ctx, cmd.ToPhone)
	if errors.Is(err, ErrWalletNotFound) {
		recipient, err = c.createUser(ctx, cmd.ToPhone)
	}
	if err != nil {
		recordErr(span, err)
		if errors.Is(err, ErrWalletNotFound) {
			return Failed(FailureNotFound, "Recipient wallet not found"), nil
		}
		return TransferOutcome{}, notSent(err)
	}

	target := recipient.PaymentIdentifier
	if target == "" {
		target = cmd.ToPhone
	}
	note := cmd.Note
	if note == "" {
		note = fmt.Sprintf("Transfer from %s to %s", cmd.FromPhone, cmd.ToPhone)
	}
	body := map[string]any{
		"transactionAmount":    json.Number(cmd.AmountMinor.String()),
		"transactionRecipient": target,
		"transactionNotes":     note,
	}

	data, err := c.invoke(ctx, "transfer", http.MethodPost, "/transfer/"+url.PathEscape(sender.UserID), body, cmd.IdempotencyKey, false)
	if err != nil {
		recordErr(span, err)
		if apiErr, ok := rejection(err); ok {
			return apiErr.transferOutcome(), nil
		}
		return TransferOutcome{}, err
	}

	var resp writeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		recordErr(span, err)
		return TransferOutcome{}, &UnavailableError{Op: "transfer", Sent: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	txID := resp.TransactionID
	if resp.Transaction != nil && resp.Transaction.ID != "" {
		txID = resp.Transaction.ID
	}
	if txID == "" && !strings.Contains(strings.ToLower(resp.Message), "successful") {
		msg := resp.Message
		if msg == "" {
			msg = "Transfer failed"
		}
		return Failed(FailureUnknown, msg), nil
	}
	span.SetAttributes(attribute.String("wallet.transaction_id", txID))
	return TransferOutcome{
		Success:       true,
		TransactionID: txID,
		Message:       fmt.Sprintf("Successfully transferred %s to %s", cmd.AmountMinor.String(), cmd.ToPhone),
	}, nil
}

// TransferStatus re-queries a transfer by idempotency key.
func (c *HTTPClient) TransferStatus(ctx context.Context, idempotencyKey string) (TransferOutcome, error) {
	if c.statusPath == "" {
		return TransferOutcome{}, ErrStatusUnsupported
	}
	ctx, span := ledgerTracer.Start(ctx, "ledger.transfer_status")
	defer span.End()

	path := fmt.Sprintf(c.statusPath, url.PathEscape(idempotencyKey))
	data, err := c.invoke(ctx, "transfer_status", http.MethodGet, path, nil, "", true)
	if err != nil {
		recordErr(span, err)
		if apiErr, ok := rejection(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return TransferOutcome{}, ErrTransferNotFound
		}
		return TransferOutcome{}, err
	}
	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return TransferOutcome{}, fmt.Errorf("ledger: decode transfer status: %w", err)
	}
	switch strings.ToLower(resp.Status) {
	case "completed", "succeeded", "success":
		return TransferOutcome{Success: true, TransactionID: resp.TransactionID, Message: resp.Message}, nil
	case "failed", "rejected":
		return Failed(classifyMessage(resp.Message), resp.Message), nil
	default:
		return TransferOutcome{Ambiguous: true, Message: resp.Message}, nil
	}
}

// RedeemCoupon claims a coupon token for the wallet of phone.
func (c *HTTPClient) RedeemCoupon(ctx context.Context, phone, token string) (CouponResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.redeem_coupon")
	defer span.End()

	user, err := c.lookupUser(ctx, phone)
	if errors.Is(err, ErrWalletNotFound) {
		user, err = c.createUser(ctx, phone)
	}
	if err != nil {
		recordErr(span, err)
		return CouponResult{}, err
	}

	data, err := c.invoke(ctx, "redeem_coupon", http.MethodPatch, "/coupons/claim/"+url.PathEscape(user.UserID),
		map[string]string{"couponId": strings.TrimSpace(token)}, "", false)
	if err != nil {
		recordErr(span, err)
		if apiErr, ok := rejection(err); ok {
			return CouponResult{Success: false, Message: couponFailureMessage(apiErr)}, nil
		}
		return CouponResult{}, err
	}
	var resp writeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return CouponResult{}, fmt.Errorf("ledger: decode coupon response: %w", err)
	}
	if resp.Message == "" && resp.Transaction == nil {
		return CouponResult{Success: false, Message: "Coupon redemption failed"}, nil
	}
	result := CouponResult{Success: true, Message: resp.Message}
	if resp.Transaction != nil {
		result.Credited, _ = wallet.ParseBalance(string(resp.Transaction.Value))
	}
	if result.Message == "" {
		result.Message = "Coupon redeemed successfully"
	}
	return result, nil
}

// Transactions returns the wallet history for phone.
func (c *HTTPClient) Transactions(ctx context.Context, phone string) ([]Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "ledger.transactions")
	defer span.End()

	user, err := c.lookupUser(ctx, phone)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	data, err := c.invoke(ctx, "transactions", http.MethodGet, "/"+url.PathEscape(user.UserID)+"/transactions", nil, "", true)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	var resp historyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("ledger: decode transactions: %w", err)
	}
	out := make([]Transaction, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		amount, _ := wallet.ParseBalance(string(tx.Value))
		desc := tx.Method
		if desc == "" {
			desc = tx.TxType
		}
		out = append(out, Transaction{
			ID:          tx.ID,
			Type:        MapTransactionType(tx.TxType),
			Amount:      amount,
			Status:      tx.Status,
			Description: desc,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return out, nil
}

func (c *HTTPClient) lookupUser(ctx context.Context, phone string) (*Wallet, error) {
	data, err := c.invoke(ctx, "lookup_user", http.MethodGet, "/recipient/"+url.PathEscape(c.EmailFor(phone)), nil, "", true)
	if err != nil {
		if apiErr, ok := rejection(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	var details recipientDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("ledger: decode recipient: %w", err)
	}
	if details.ID == "" {
		return nil, ErrWalletNotFound
	}
	return &Wallet{UserID: details.ID, Phone: phone, Email: details.Email, PaymentIdentifier: details.PaymentIdentifier}, nil
}

func (c *HTTPClient) createUser(ctx context.Context, phone string) (*Wallet, error) {
	email := c.EmailFor(phone)
	body := map[string]string{
		"email":     email,
		"firstName": "Default",
		"lastName":  "Default:" + phone,
	}
	data, err := c.invoke(ctx, "create_user", http.MethodPost, "/users", body, "", false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		User *recipientDetails `json:"user"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("ledger: decode created user: %w", err)
	}
	if resp.User == nil || resp.User.ID == "" {
		return nil, errors.New("ledger: failed to create user")
	}
	c.logger.Info("ledger user created", "phone", logging.MaskPhone(phone), "user_id", resp.User.ID)
	return &Wallet{UserID: resp.User.ID, Phone: phone, Email: email, PaymentIdentifier: resp.User.PaymentIdentifier}, nil
}

func (c *HTTPClient) withBalance(ctx context.Context, phone string, user *Wallet) (*Wallet, error) {
	data, err := c.invoke(ctx, "balance", http.MethodGet, "/"+url.PathEscape(user.UserID)+"/balance", nil, "", true)
	if err != nil {
		return nil, err
	}
	var resp balanceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("ledger: decode balance: %w", err)
	}
	balance, err := c.pickBalance(resp.Tokens)
	if err != nil {
		return nil, err
	}
	user.Phone = phone
	user.Balance = balance
	return user, nil
}

// pickBalance prefers the configured token symbol (or ZAR currency) and falls
// back to the first token.
func (c *HTTPClient) pickBalance(tokens []balanceToken) (wallet.Amount, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	chosen := tokens[0]
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, c.tokenSymbol) || strings.EqualFold(t.Currency, "ZAR") {
			chosen = t
			break
		}
	}
	amount, err := wallet.ParseBalance(string(chosen.Balance))
	if err != nil {
		return 0, fmt.Errorf("ledger: parse balance: %w", err)
	}
	return amount, nil
}

func (c *HTTPClient) invoke(ctx context.Context, op, method, path string, payload any, idempotencyKey string, retry bool) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ledger: marshal %s request: %w", op, err)
		}
	}
	maxRetries := 0
	if retry {
		maxRetries = c.maxRetries
	}

	fullURL := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("ledger: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			lastErr = &UnavailableError{Op: op, Sent: !isDialError(err), Err: err}
			if attempt == maxRetries || ctx.Err() != nil {
				return nil, lastErr
			}
			c.logRetry(op, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &UnavailableError{Op: op, Sent: true, Err: fmt.Errorf("read response: %w", readErr)}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			sent := resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable
			lastErr = &UnavailableError{Op: op, Sent: sent, Err: decodeAPIError(resp.StatusCode, data)}
			if attempt < maxRetries {
				c.logRetry(op, attempt, resp.StatusCode, lastErr)
				if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr
		}
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("ledger: request failed without response")
}

func (c *HTTPClient) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *HTTPClient) logRetry(op string, attempt, status int, err error) {
	c.logger.Warn("ledger request retry", "op", op, "attempt", attempt+1, "status", status, "error", err)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// notSent marks a failure that happened before the transfer write was issued.
func notSent(err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return &UnavailableError{Op: "transfer", Sent: false, Err: ue.Err}
	}
	return err
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
