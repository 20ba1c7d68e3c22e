package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// APIError is a definite 4xx rejection from the ledger.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return fmt.Sprintf("ledger: API error %d: %s", e.StatusCode, msg)
}

// rejection returns the definite 4xx answer carried by err. An error that
// also marks the call unavailable never counts, even if it wraps an APIError.
func rejection(err error) (*APIError, bool) {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return nil, false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return apiErr, true
	}
	return nil, false
}

func decodeAPIError(status int, body []byte) *APIError {
	parsed := APIError{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = APIError{Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}

// transferOutcome turns a rejected transfer into the failure taxonomy,
// keeping the ledger's own message for the sender.
func (e *APIError) transferOutcome() TransferOutcome {
	reason := classifyMessage(e.Message + " " + e.Code)
	if reason == FailureUnknown && e.StatusCode == http.StatusNotFound {
		reason = FailureNotFound
	}
	if e.StatusCode == http.StatusConflict {
		return TransferOutcome{Success: true, Duplicate: true, Message: e.Message}
	}
	msg := e.Message
	if msg == "" {
		msg = "Transfer failed"
	}
	return Failed(reason, msg)
}

func classifyMessage(msg string) FailureReason {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "insufficient"), strings.Contains(m, "balance"):
		return FailureInsufficientFunds
	case strings.Contains(m, "not found"), strings.Contains(m, "no such user"), strings.Contains(m, "wallet"):
		return FailureNotFound
	case strings.Contains(m, "unavailable"), strings.Contains(m, "timeout"):
		return FailureUnavailable
	default:
		return FailureUnknown
	}
}

func couponFailureMessage(e *APIError) string {
	m := strings.ToLower(e.Message + " " + e.Code)
	switch {
	case strings.Contains(m, "expired"):
		return "This coupon has expired"
	case strings.Contains(m, "already used"), strings.Contains(m, "already claimed"):
		return "This coupon has already been used"
	case strings.Contains(m, "not found"), strings.Contains(m, "invalid"), e.StatusCode == http.StatusBadRequest:
		return "Invalid coupon code"
	default:
		return "Coupon redemption failed. Please try again."
	}
}

// flexibleValue accepts a decimal encoded either as a JSON string or number.
type flexibleValue string

func (v *flexibleValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*v = flexibleValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = flexibleValue(n.String())
	return nil
}
