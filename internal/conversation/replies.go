package conversation

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

const (
	msgSendMoneyPrompt = "💸 *Send Money*\n\nEnter recipient phone number in international format:\n\n" +
		"📱 Examples:\n• +27831234567 (South Africa)\n• +1234567890 (US)\n• +44123456789 (UK)\n\n" +
		"Or type \"cancel\" to return to main menu."
	msgRecipientEmpty   = "❌ Please enter a phone number. Format: +27831234567"
	msgRecipientInvalid = "❌ Invalid phone number format.\n\nPlease use international format:\n" +
		"• +27831234567\n• Include country code\n• Start with +"
	msgRecipientSelf = "❌ You cannot send money to your own number.\n\n" +
		"Please enter a different phone number or type \"cancel\" to return to main menu."
	msgAmountEmpty   = "❌ Please enter an amount. Format: 25.50"
	msgAmountInvalid = "❌ Invalid amount format.\n\nValid examples:\n• 25\n• 25.50\n• 100.00\n\n" +
		"Please enter a valid amount:"
	msgAmountNotPositive  = "❌ Amount must be greater than 0.\n\nPlease enter a valid amount:"
	msgBalanceUnavailable = "❌ Unable to check balance. Please try again."
	msgCheckBalanceFailed = "Sorry, unable to check balance right now. Please try again."
	msgFlowCancelled      = "✅ Send money cancelled. What would you like to do?"
	msgCancelled          = "✅ Cancelled. What would you like to do?"
	msgHelp               = "📋 *Available Commands:*\n\n• Check Balance shows your balance\n" +
		"• Send Money starts a transfer\n• Download App sends the app link\n" +
		"• Type \"claim tx=<code>\" to redeem a coupon\n\nUse the buttons below:"
	msgNotUnderstood  = "❓ I didn't understand that message.\n\nType \"help\" for commands or use the buttons below:"
	msgGuideRecipient = "❌ Invalid phone number format.\n\nPlease enter a phone number in international format:\n" +
		"• +27831234567\n• +1234567890\n\nOr type \"cancel\" to return to main menu."
	msgGuideAmount = "❌ Invalid amount format.\n\nPlease enter a valid amount:\n• 25\n• 25.50\n• 100.00\n\n" +
		"Or type \"cancel\" to return to main menu."
	msgUnregistered = "Welcome to Tata Mali!\n\nYou do not have a registered account yet. " +
		"To use our banking services, you will need to create an account first."
	msgRedeemFailed    = "Unable to redeem. Maybe already used or expired."
	msgTemporaryIssue  = "Sorry, we're having trouble right now. Please try again in a moment."
	msgRegistrationFmt = "🔗 Click the link below to create your Tata Mali account:\n\n%s\n\n" +
		"Once you complete registration, you will be able to:\n• Check your balance\n• Send money to contacts\n" +
		"• Receive payments\n• Access all banking features\n\nThe registration will only take a few minutes!"
)

// withMenu attaches the main-menu buttons to body so a flow ends in a single
// message. Bodies over the interactive limit stay plain text.
func withMenu(body string) notify.Message {
	if len([]rune(body)) > whatsapp.MaxInteractiveBodyLength {
		return notify.Text(body)
	}
	menu := notify.MainMenu()
	return notify.Interactive(body, menu.Buttons...)
}

func recipientAccepted(phone string) notify.Message {
	return notify.Text(fmt.Sprintf("✅ Recipient: %s\n\nNow enter the amount in Rands (e.g., 25.50):", phone))
}

func maximumExceeded(max wallet.Amount, symbol string) notify.Message {
	return notify.Text(fmt.Sprintf("❌ Maximum amount is %s.\n\nPlease enter a smaller amount:", groupedAmount(max, symbol)))
}

func insufficientFunds(balance, requested wallet.Amount, symbol string) notify.Message {
	body := fmt.Sprintf("❌ Insufficient funds!\n\n💰 Your balance: %s\n💸 Requested amount: %s\n\n"+
		"Please enter a smaller amount or check your balance:", balance.Format(symbol), requested.Format(symbol))
	return notify.Interactive(body,
		whatsapp.Button{ID: notify.ButtonCheckBalance, Title: "Check Balance"},
		whatsapp.Button{ID: notify.ButtonSendMoney, Title: "Try Again"})
}

func balanceReply(balance wallet.Amount, symbol string) notify.Message {
	return notify.Interactive(fmt.Sprintf("Your balance is %s.", balance.Format(symbol)),
		whatsapp.Button{ID: notify.ButtonSendMoney, Title: "Send Money"})
}

func couponClaimed(credited wallet.Amount, balance *wallet.Amount, symbol string) notify.Message {
	body := fmt.Sprintf("🎉 You've claimed %s.", credited.Format(symbol))
	if balance != nil {
		body += fmt.Sprintf(" New balance is %s.", balance.Format(symbol))
	}
	return withMenu(body + " What would you like to do next?")
}

// unregisteredPrompt greets by the WhatsApp profile name when one was sent.
func unregisteredPrompt(name string) notify.Message {
	greeting := "👋 "
	if name != "" {
		greeting = fmt.Sprintf("👋 Hello %s! ", name)
	}
	return notify.Interactive(greeting+msgUnregistered,
		whatsapp.Button{ID: notify.ButtonRegisterAccount, Title: "Create Account"})
}

// registrationLink builds <registerURL>?phone=..&callback=.. for phone.
func registrationLink(registerURL, callbackURL, phone string) string {
	q := url.Values{}
	q.Set("phone", phone)
	q.Set("callback", callbackURL)
	sep := "?"
	if strings.Contains(registerURL, "?") {
		sep = "&"
	}
	return registerURL + sep + q.Encode()
}

// groupedAmount renders whole amounts with thousands separators and no
// decimals ("R10,000"); fractional amounts keep two decimals.
func groupedAmount(a wallet.Amount, symbol string) string {
	if a%100 != 0 {
		return a.Format(symbol)
	}
	digits := strconv.FormatInt(a.Major(), 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return symbol + b.String()
}
