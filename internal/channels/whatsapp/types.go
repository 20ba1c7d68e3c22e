package whatsapp

import "time"

// WebhookPayload is the top-level body Meta posts for WhatsApp Business
// Account subscriptions.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field update; only field "messages" is used.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries inbound messages and delivery statuses.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile Meta attaches to messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound user message.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// TextBody holds a free-text message.
type TextBody struct {
	Body string `json:"body"`
}

// QuickReply is a template quick-reply button press.
type QuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Interactive is a reply to an interactive button or list message.
type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyOption `json:"button_reply,omitempty"`
	ListReply   *ReplyOption `json:"list_reply,omitempty"`
}

// ReplyOption is the option the user picked.
type ReplyOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Status is a delivery receipt for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// EventKind tags an InboundEvent.
type EventKind string

const (
	KindText         EventKind = "text"
	KindButtonReply  EventKind = "button_reply"
	KindStatusUpdate EventKind = "status_update"
	KindUnsupported  EventKind = "unsupported"
)

// InboundEvent is the normalized envelope handed to the conversation pipeline.
// For KindText only Text is meaningful, for KindButtonReply only ButtonID.
// KindUnsupported (media, location, stickers) carries neither.
type InboundEvent struct {
	EventID       string    `json:"eventId"`
	From          string    `json:"from"`
	Kind          EventKind `json:"kind"`
	Text          string    `json:"text,omitempty"`
	ButtonID      string    `json:"buttonId,omitempty"`
	PhoneNumberID string    `json:"phoneNumberId,omitempty"`
	ProfileName   string    `json:"profileName,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Button is an interactive reply button.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *sendText        `json:"text,omitempty"`
	Interactive      *sendInteractive `json:"interactive,omitempty"`
}

type sendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendInteractive struct {
	Type   string            `json:"type"`
	Body   sendText          `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveAction struct {
	Buttons []actionButton `json:"buttons"`
}

type actionButton struct {
	Type  string `json:"type"`
	Reply Button `json:"reply"`
}

// SendResponse is the Graph API reply to a message send.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *GraphError `json:"error,omitempty"`
}

// MessageID returns the first message id, or "".
func (r *SendResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// GraphError is the error object returned by the Graph API.
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}
