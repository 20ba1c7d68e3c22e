package notify

import (
	"errors"
	"fmt"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

// ErrUnknownCampaign is returned when a Promotion names no known campaign.
var ErrUnknownCampaign = errors.New("notify: unknown campaign")

// Notification is the closed set of templated notifications.
type Notification interface {
	Kind() string
	render(symbol string) (Message, error)
}

// Balance reports the current balance.
type Balance struct {
	Amount wallet.Amount
}

// Welcome greets a freshly registered user.
type Welcome struct {
	FirstName string
}

// TransactionSent confirms an outgoing transfer to the sender. NewBalance is
// optional.
type TransactionSent struct {
	Amount     wallet.Amount
	To         string
	NewBalance *wallet.Amount
}

// TransactionReceived tells the recipient about an incoming transfer.
type TransactionReceived struct {
	Amount     wallet.Amount
	From       string
	NewBalance *wallet.Amount
}

// Promotion is a marketing broadcast for one of the known campaigns.
type Promotion struct {
	Campaign string
}

// LowBalance warns that the wallet is nearly empty.
type LowBalance struct {
	Amount wallet.Amount
}

func (Balance) Kind() string             { return "balance" }
func (Welcome) Kind() string             { return "welcome" }
func (TransactionSent) Kind() string     { return "transaction_sent" }
func (TransactionReceived) Kind() string { return "transaction_received" }
func (Promotion) Kind() string           { return "promotion" }
func (LowBalance) Kind() string          { return "low_balance" }

func (n Balance) render(symbol string) (Message, error) {
	return Interactive(fmt.Sprintf("💰 Your Tata Mali balance is %s.", n.Amount.Format(symbol)),
		sendMoneyButton, downloadAppButton), nil
}

func (n Welcome) render(string) (Message, error) {
	greeting := "Hello!"
	if n.FirstName != "" {
		greeting = fmt.Sprintf("Hello %s!", n.FirstName)
	}
	body := fmt.Sprintf("👋 %s Welcome to Tata Mali!\n\nYour account has been created successfully. "+
		"You can now send money, check your balance, and more.", greeting)
	return Interactive(body, checkBalanceButton, sendMoneyButton, downloadAppButton), nil
}

func (n TransactionSent) render(symbol string) (Message, error) {
	body := fmt.Sprintf("✅ Successfully sent %s to %s!", n.Amount.Format(symbol), n.To)
	if n.NewBalance != nil {
		body += fmt.Sprintf("\n\n💰 Your new balance: %s", n.NewBalance.Format(symbol))
	}
	return Text(body), nil
}

func (n TransactionReceived) render(symbol string) (Message, error) {
	body := fmt.Sprintf("💸 You received %s from %s!", n.Amount.Format(symbol), n.From)
	if n.NewBalance != nil {
		body += fmt.Sprintf("\n\n💰 Your new balance: %s", n.NewBalance.Format(symbol))
	}
	return Interactive(body, checkBalanceButton, sendMoneyButton), nil
}

func (n Promotion) render(string) (Message, error) {
	switch n.Campaign {
	case "new_feature":
		return Interactive("🎉 New Feature Alert!\n\nTata Mali now supports instant transfers!",
			whatsapp.Button{ID: ButtonTryTransfer, Title: "Try Transfer"},
			whatsapp.Button{ID: ButtonLearnMore, Title: "Learn More"}), nil
	case "weekend_special":
		return Interactive("🎯 Weekend Special!\n\nSend money with zero fees this weekend!",
			sendMoneyButton,
			whatsapp.Button{ID: ButtonInviteFriends, Title: "Invite Friends"}), nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownCampaign, n.Campaign)
	}
}

func (n LowBalance) render(symbol string) (Message, error) {
	body := fmt.Sprintf("⚠️ Low Balance Alert!\n\nYour Tata Mali balance is only %s. "+
		"Consider adding funds to continue using our services.", n.Amount.Format(symbol))
	return Interactive(body,
		whatsapp.Button{ID: ButtonAddFunds, Title: "Add Funds"},
		downloadAppButton), nil
}

// Render produces the message for n using the given currency symbol.
func Render(n Notification, symbol string) (Message, error) {
	if n == nil {
		return Message{}, errors.New("notify: nil notification")
	}
	msg, err := n.render(symbol)
	if err != nil {
		return Message{}, err
	}
	msg.Kind = n.Kind()
	return msg, nil
}
