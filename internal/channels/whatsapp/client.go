package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultAPIVersion   = "v20.0"
	defaultHTTPTimeout  = 10 * time.Second

	// MaxTextLength is the Cloud API ceiling for a text body.
	MaxTextLength = 4096
	// MaxInteractiveBodyLength is the ceiling for an interactive message body.
	MaxInteractiveBodyLength = 1024
	// MaxButtons is the number of reply buttons an interactive message may carry.
	MaxButtons = 3
	// MaxButtonTitleLength bounds each button title.
	MaxButtonTitleLength = 20
	// MaxButtonIDLength bounds each button id.
	MaxButtonIDLength = 256
)

var (
	ErrMissingCredentials = errors.New("whatsapp: token and phone number id are required")
	ErrInvalidRecipient   = errors.New("whatsapp: invalid recipient phone number")
	ErrEmptyBody          = errors.New("whatsapp: message body is empty")
	ErrBodyTooLong        = errors.New("whatsapp: message body too long")
	ErrButtonCount        = errors.New("whatsapp: interactive messages need 1 to 3 buttons")
	ErrInvalidButton      = errors.New("whatsapp: button id and title are required")
	ErrButtonTitleTooLong = errors.New("whatsapp: button title must be 20 characters or less")
	ErrButtonIDTooLong    = errors.New("whatsapp: button id too long")
)

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Graph      *GraphError
	Body       string
}

func (e *APIError) Error() string {
	if e.Graph != nil {
		return fmt.Sprintf("whatsapp: API error %d (code %d): %s", e.StatusCode, e.Graph.Code, e.Graph.Message)
	}
	return fmt.Sprintf("whatsapp: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether resending may succeed (throttling or server faults).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies a send error for the notifier's retry loop.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Config controls the Cloud API client.
type Config struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	token         string
	phoneNumberID string
	baseURL       string
	apiVersion    string
	httpClient    *http.Client
	logger        *logging.Logger
}

// NewClient builds a Cloud API client with defaults filled in.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, ErrMissingCredentials
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       baseURL,
		apiVersion:    version,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if err := validateText(body, MaxTextLength); err != nil {
		return "", err
	}
	recipient, err := recipientID(to)
	if err != nil {
		return "", err
	}
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             &sendText{Body: body},
	})
}

// SendButtons sends an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if err := validateText(body, MaxInteractiveBodyLength); err != nil {
		return "", err
	}
	if err := ValidateButtons(buttons); err != nil {
		return "", err
	}
	recipient, err := recipientID(to)
	if err != nil {
		return "", err
	}
	actions := make([]actionButton, 0, len(buttons))
	for _, b := range buttons {
		actions = append(actions, actionButton{Type: "reply", Reply: b})
	}
	return c.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "interactive",
		Interactive: &sendInteractive{
			Type:   "button",
			Body:   sendText{Body: body},
			Action: interactiveAction{Buttons: actions},
		},
	})
}

// ValidateButtons enforces the interactive button limits.
func ValidateButtons(buttons []Button) error {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return ErrButtonCount
	}
	for _, b := range buttons {
		if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Title) == "" {
			return ErrInvalidButton
		}
		if utf8.RuneCountInString(b.Title) > MaxButtonTitleLength {
			return ErrButtonTitleTooLong
		}
		if len(b.ID) > MaxButtonIDLength {
			return ErrButtonIDTooLong
		}
	}
	return nil
}

func validateText(body string, limit int) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > limit {
		return ErrBodyTooLong
	}
	return nil
}

// recipientID accepts E.164 and returns the digits-only form the API expects.
func recipientID(to string) (string, error) {
	phone := wallet.NormalizePhone(to)
	if !wallet.ValidPhone(phone) {
		return "", ErrInvalidRecipient
	}
	return wallet.PhoneDigits(phone), nil
}

func (c *Client) send(ctx context.Context, req sendRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("whatsapp: unmarshal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || sendResp.Error != nil {
		status := resp.StatusCode
		if status < 300 {
			status = http.StatusBadGateway
		}
		return "", &APIError{StatusCode: status, Graph: sendResp.Error, Body: string(respBody)}
	}

	id := sendResp.MessageID()
	c.logger.Debug("whatsapp message sent", "type", req.Type, "to", logging.MaskPhone("+"+req.To), "message_id", id)
	return id, nil
}
