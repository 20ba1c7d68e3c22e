package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/wolfman30/tatamali-wallet/internal/archive"
	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
)

const (
	alice = "+27831234567"
	bob   = "+27839999999"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []whatsapp.InboundEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev whatsapp.InboundEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, ev)
	return "job-" + ev.EventID, nil
}

type recordingArchiver struct {
	webhooks []archive.Webhook
}

func (a *recordingArchiver) ArchiveWebhook(ctx context.Context, w archive.Webhook) error {
	a.webhooks = append(a.webhooks, w)
	return nil
}

type failingDeduper struct{}

func (failingDeduper) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type sentMessage struct {
	To  string
	Msg notify.Message
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentMessage
	notified []notify.Notification
	err      error
}

func (m *fakeMessenger) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Msg: msg})
	return "wamid.OUT", nil
}

func (m *fakeMessenger) Notify(ctx context.Context, to string, n notify.Notification) (string, error) {
	msg, err := notify.Render(n, "R")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.notified = append(m.notified, n)
	m.mu.Unlock()
	return m.Send(ctx, to, msg)
}

func (m *fakeMessenger) CurrencySymbol() string { return "R" }

func (m *fakeMessenger) to(phone string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, s := range m.sent {
		if s.To == phone {
			out = append(out, s.Msg)
		}
	}
	return out
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
