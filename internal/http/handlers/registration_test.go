package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
)

type registrationRecord struct {
	phone   string
	success bool
}

type recordingRegistrations struct {
	records []registrationRecord
}

func (r *recordingRegistrations) LogRegistration(ctx context.Context, phone string, success bool) error {
	r.records = append(r.records, registrationRecord{phone: phone, success: success})
	return nil
}

func callback(h *RegistrationHandler, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registration/callback?"+query, nil)
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	return rec
}

func TestRegistrationCallbackSuccess(t *testing.T) {
	l := ledger.NewMemoryLedger()
	l.Register(alice, 0)
	m := &fakeMessenger{}
	audit := &recordingRegistrations{}
	h := NewRegistrationHandler(l, m, audit, nil)

	rec := callback(h, "phone=27831234567&status=success")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, m.notified, 1)
	assert.IsType(t, notify.Welcome{}, m.notified[0])
	assert.Equal(t, alice, m.sent[0].To)
	assert.Equal(t, []registrationRecord{{phone: alice, success: true}}, audit.records)
}

func TestRegistrationCallbackUnknownUser(t *testing.T) {
	m := &fakeMessenger{}
	audit := &recordingRegistrations{}
	h := NewRegistrationHandler(ledger.NewMemoryLedger(), m, audit, nil)

	rec := callback(h, "phone=%2B27831234567&status=success")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, m.sent)
	assert.Equal(t, []registrationRecord{{phone: alice, success: false}}, audit.records)
}

func TestRegistrationCallbackError(t *testing.T) {
	m := &fakeMessenger{}
	h := NewRegistrationHandler(ledger.NewMemoryLedger(), m, nil, nil)

	rec := callback(h, "phone=27831234567&status=error&error=otp_expired")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "otp_expired", decodeBody(t, rec)["error"])
	require.Len(t, m.sent, 1)
	assert.Contains(t, m.sent[0].Msg.Body, "Registration was not completed")
}

func TestRegistrationCallbackValidation(t *testing.T) {
	h := NewRegistrationHandler(ledger.NewMemoryLedger(), &fakeMessenger{}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, callback(h, "status=success").Code)
	assert.Equal(t, http.StatusBadRequest, callback(h, "phone=123&status=success").Code)
	assert.Equal(t, http.StatusBadRequest, callback(h, "phone=27831234567&status=maybe").Code)
}
