package whatsapp

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

// ParseOutcome classifies the result of parsing a webhook body.
type ParseOutcome int

const (
	// OutcomeEvents means at least one message event was extracted.
	OutcomeEvents ParseOutcome = iota
	// OutcomeIgnore is acknowledged with 200 and never actioned.
	OutcomeIgnore
	// OutcomeReject is answered with 400.
	OutcomeReject
)

func (o ParseOutcome) String() string {
	switch o {
	case OutcomeEvents:
		return "events"
	case OutcomeIgnore:
		return "ignore"
	case OutcomeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseResult is the validated output of ParseWebhook. Events is non-empty
// only when Outcome is OutcomeEvents.
type ParseResult struct {
	Outcome  ParseOutcome
	Events   []InboundEvent
	Statuses []Status
	Reason   string
}

func ignore(reason string) ParseResult { return ParseResult{Outcome: OutcomeIgnore, Reason: reason} }

func reject(reason string) ParseResult { return ParseResult{Outcome: OutcomeReject, Reason: reason} }

// ParseWebhook validates a raw webhook body and normalizes its messages.
// Empty bodies, malformed JSON, payloads without messages and pure status
// updates are ignored; a message missing its id or sender rejects the body.
func ParseWebhook(body []byte) ParseResult {
	if len(bytes.TrimSpace(body)) == 0 {
		return ignore("empty body")
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ignore("malformed json")
	}

	var (
		events   []InboundEvent
		statuses []Status
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			statuses = append(statuses, change.Value.Statuses...)
			profiles := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				profiles[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.From) == "" {
					return reject("missing message id or sender")
				}
				ev := normalizeMessage(msg)
				ev.PhoneNumberID = change.Value.Metadata.PhoneNumberID
				ev.ProfileName = profiles[msg.From]
				events = append(events, ev)
			}
		}
	}

	if len(events) == 0 {
		if len(statuses) > 0 {
			return ParseResult{Outcome: OutcomeIgnore, Statuses: statuses, Reason: "status update"}
		}
		return ignore("no messages")
	}
	return ParseResult{Outcome: OutcomeEvents, Events: events, Statuses: statuses}
}

func normalizeMessage(msg Message) InboundEvent {
	ev := InboundEvent{
		EventID:    strings.TrimSpace(msg.ID),
		From:       wallet.NormalizePhone(msg.From),
		ReceivedAt: parseTimestamp(msg.Timestamp),
	}
	if id := buttonID(msg); id != "" {
		ev.Kind = KindButtonReply
		ev.ButtonID = id
		return ev
	}
	if msg.Text == nil {
		ev.Kind = KindUnsupported
		return ev
	}
	ev.Kind = KindText
	ev.Text = msg.Text.Body
	return ev
}

func buttonID(msg Message) string {
	if msg.Interactive != nil {
		if msg.Interactive.ButtonReply != nil && msg.Interactive.ButtonReply.ID != "" {
			return msg.Interactive.ButtonReply.ID
		}
		if msg.Interactive.ListReply != nil && msg.Interactive.ListReply.ID != "" {
			return msg.Interactive.ListReply.ID
		}
	}
	if msg.Button != nil {
		return msg.Button.Payload
	}
	return ""
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// VerifyChallenge implements the subscription handshake: it returns the
// challenge to echo when hub.mode is "subscribe" and the token matches.
func VerifyChallenge(query url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) || len(signature) == len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}
