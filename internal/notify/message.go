// Package notify renders and delivers outbound WhatsApp messages and
// operator alerts.
package notify

import (
	"context"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
)

// Button ids understood by the dialogue.
const (
	ButtonCheckBalance    = "check_balance"
	ButtonSendMoney       = "send_money"
	ButtonDownloadApp     = "download_app"
	ButtonRegisterAccount = "register_account"
	ButtonTryTransfer     = "try_transfer"
	ButtonLearnMore       = "learn_more"
	ButtonInviteFriends   = "invite_friends"
	ButtonAddFunds        = "add_funds"
)

var (
	checkBalanceButton = whatsapp.Button{ID: ButtonCheckBalance, Title: "Check Balance"}
	sendMoneyButton    = whatsapp.Button{ID: ButtonSendMoney, Title: "Send Money"}
	downloadAppButton  = whatsapp.Button{ID: ButtonDownloadApp, Title: "Download App"}
)

// Message is one outbound WhatsApp message. With no buttons it is sent as
// plain text, otherwise as an interactive reply-button message.
type Message struct {
	Body    string
	Buttons []whatsapp.Button
	// Kind labels the message in metrics and logs.
	Kind string
}

// Text builds a plain text message.
func Text(body string) Message {
	return Message{Body: body, Kind: "text"}
}

// Interactive builds a button message.
func Interactive(body string, buttons ...whatsapp.Button) Message {
	return Message{Body: body, Buttons: buttons, Kind: "interactive"}
}

// MainMenu is the three-button menu shown after every completed flow.
func MainMenu() Message {
	m := Interactive("What would you like to do?", checkBalanceButton, sendMoneyButton, downloadAppButton)
	m.Kind = "main_menu"
	return m
}

// Sender is the outbound WhatsApp transport; *whatsapp.Client implements it.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) (string, error)
}

var _ Sender = (*whatsapp.Client)(nil)
