package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

type stubBalances struct {
	balance wallet.Amount
	err     error
	calls   int
}

func (s *stubBalances) Balance(ctx context.Context, phone string) (wallet.Amount, error) {
	s.calls++
	return s.balance, s.err
}

func newTestEngine(balances *stubBalances) *Engine {
	return NewEngine(balances, EngineConfig{
		RegisterURL: "https://app.example.com/register",
		CallbackURL: "https://wallet.example.com/api/v1/registration/callback",
		DownloadURL: "https://app.example.com/download",
	}, nil)
}

func onlyReply(t *testing.T, d Decision) notify.Message {
	t.Helper()
	require.Len(t, d.Actions, 1)
	r, ok := d.Actions[0].(Reply)
	require.True(t, ok, "expected a reply, got %T", d.Actions[0])
	return r.Message
}

func TestDecide_TransferFlow(t *testing.T) {
	balances := &stubBalances{balance: 10000}
	e := newTestEngine(balances)
	ctx := context.Background()

	d, err := e.Decide(ctx, NewSession(alice), StartTransfer{}, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitRecipient, d.Next.Step)
	assert.Contains(t, onlyReply(t, d).Body, "Send Money")

	d, err = e.Decide(ctx, d.Next, SetRecipient{Phone: bob}, "wamid.2")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitAmount, d.Next.Step)
	assert.Equal(t, bob, d.Next.PendingRecipient)
	assert.Contains(t, onlyReply(t, d).Body, "Recipient: "+bob)

	d, err = e.Decide(ctx, d.Next, SetAmount{Raw: "25.50"}, "wamid.3")
	require.NoError(t, err)
	assert.Equal(t, StepMain, d.Next.Step)
	assert.Empty(t, d.Next.PendingRecipient)
	require.Len(t, d.Actions, 1)
	tr, ok := d.Actions[0].(Transfer)
	require.True(t, ok)
	assert.Equal(t, alice, tr.Command.FromPhone)
	assert.Equal(t, bob, tr.Command.ToPhone)
	assert.EqualValues(t, 2550, tr.Command.AmountMinor)
	assert.Equal(t, "wamid.3", tr.Command.IdempotencyKey)
}

func TestDecide_RecipientValidation(t *testing.T) {
	e := newTestEngine(&stubBalances{})
	sess := NewSession(alice).Await(StepAwaitRecipient, "")

	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", "Please enter a phone number"},
		{"0831234567", "Invalid phone number format"},
		{"+0831234567", "Invalid phone number format"},
		{"+27 83 123", "Invalid phone number format"},
		{alice, "own number"},
	} {
		d, err := e.Decide(context.Background(), sess, SetRecipient{Phone: tc.input}, "wamid.x")
		require.NoError(t, err)
		assert.Equal(t, sess, d.Next, "input %q must not change the session", tc.input)
		assert.Contains(t, onlyReply(t, d).Body, tc.want, "input %q", tc.input)
	}
}

func TestDecide_AmountValidation(t *testing.T) {
	balances := &stubBalances{balance: wallet.AmountFromMajor(50000)}
	e := newTestEngine(balances)
	sess := NewSession(alice).Await(StepAwaitAmount, bob)

	for _, tc := range []struct {
		input string
		want  string
	}{
		{"", "Please enter an amount"},
		{"abc", "Invalid amount format"},
		{"-5", "Invalid amount format"},
		{"1.234", "Invalid amount format"},
		{"0", "greater than 0"},
		{"0.00", "greater than 0"},
		{"15000", "Maximum amount is R10,000"},
	} {
		d, err := e.Decide(context.Background(), sess, SetAmount{Raw: tc.input}, "wamid.x")
		require.NoError(t, err)
		assert.Equal(t, sess, d.Next, "input %q must not change the session", tc.input)
		assert.Contains(t, onlyReply(t, d).Body, tc.want, "input %q", tc.input)
	}
	assert.Zero(t, balances.calls)
}

func TestDecide_InsufficientFundsResets(t *testing.T) {
	e := newTestEngine(&stubBalances{balance: 1000})
	sess := NewSession(alice).Await(StepAwaitAmount, bob)

	d, err := e.Decide(context.Background(), sess, SetAmount{Raw: "25.50"}, "wamid.x")
	require.NoError(t, err)
	assert.Equal(t, StepMain, d.Next.Step)
	msg := onlyReply(t, d)
	assert.Contains(t, msg.Body, "Your balance: R10.00")
	assert.Contains(t, msg.Body, "Requested amount: R25.50")
	assert.Len(t, msg.Buttons, 2)
}

func TestDecide_BalanceUnavailableKeepsStep(t *testing.T) {
	e := newTestEngine(&stubBalances{err: errors.New("timeout")})
	sess := NewSession(alice).Await(StepAwaitAmount, bob)

	d, err := e.Decide(context.Background(), sess, SetAmount{Raw: "10"}, "wamid.x")
	require.NoError(t, err)
	assert.Equal(t, sess, d.Next)
	assert.Contains(t, onlyReply(t, d).Body, "Unable to check balance")

	d, err = e.Decide(context.Background(), NewSession(alice), CheckBalance{}, "wamid.y")
	require.NoError(t, err)
	assert.Contains(t, onlyReply(t, d).Body, "unable to check balance")
}

func TestDecide_CheckBalanceMidFlowKeepsStep(t *testing.T) {
	e := newTestEngine(&stubBalances{balance: 123456})
	sess := NewSession(alice).Await(StepAwaitAmount, bob)

	d, err := e.Decide(context.Background(), sess, CheckBalance{}, "wamid.x")
	require.NoError(t, err)
	assert.Equal(t, sess, d.Next)
	assert.Equal(t, "Your balance is R1234.56.", onlyReply(t, d).Body)
}

func TestDecide_CancelAndUnrecognized(t *testing.T) {
	e := newTestEngine(&stubBalances{})

	d, err := e.Decide(context.Background(), NewSession(alice).Await(StepAwaitAmount, bob), CancelFlow{}, "1")
	require.NoError(t, err)
	assert.Equal(t, StepMain, d.Next.Step)
	msg := onlyReply(t, d)
	assert.Contains(t, msg.Body, "cancelled")
	assert.Len(t, msg.Buttons, 3)

	for _, tc := range []struct {
		text string
		want string
	}{
		{"help me", "Available Commands"},
		{"cancel", "Cancelled"},
		{"what", "didn't understand"},
	} {
		d, err := e.Decide(context.Background(), NewSession(alice), Unrecognized{Text: tc.text}, "2")
		require.NoError(t, err)
		msg := onlyReply(t, d)
		assert.Contains(t, msg.Body, tc.want)
		assert.Len(t, msg.Buttons, 3, "main menu rides on the reply")
	}

	sess := NewSession(alice).Await(StepAwaitRecipient, "")
	d, err = e.Decide(context.Background(), sess, Unrecognized{Text: "hello"}, "3")
	require.NoError(t, err)
	assert.Equal(t, sess, d.Next)

	// a photo sent while the amount is awaited gets the amount guidance
	awaiting := NewSession(alice).Await(StepAwaitAmount, bob)
	d, err = e.Decide(context.Background(), awaiting, Unrecognized{}, "4")
	require.NoError(t, err)
	assert.Contains(t, onlyReply(t, d).Body, "Invalid amount format")
	assert.Equal(t, awaiting, d.Next)
}

func TestDecide_MisroutedIntentIsGuided(t *testing.T) {
	e := newTestEngine(&stubBalances{})
	d, err := e.Decide(context.Background(), NewSession(alice), SetAmount{Raw: "50"}, "1")
	require.NoError(t, err)
	assert.Contains(t, onlyReply(t, d).Body, "didn't understand")
	assert.Equal(t, StepMain, d.Next.Step)
}

func TestDecide_RegistrationAndCoupons(t *testing.T) {
	e := newTestEngine(&stubBalances{})
	sess := NewSession(alice)

	d, err := e.Decide(context.Background(), sess, Unregistered{}, "1")
	require.NoError(t, err)
	msg := onlyReply(t, d)
	require.Len(t, msg.Buttons, 1)
	assert.Equal(t, notify.ButtonRegisterAccount, msg.Buttons[0].ID)
	assert.True(t, strings.HasPrefix(msg.Body, "👋 Welcome to Tata Mali!"))

	d, err = e.Decide(context.Background(), sess, Unregistered{Name: "Thandi"}, "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(onlyReply(t, d).Body, "👋 Hello Thandi! Welcome to Tata Mali!"))

	d, err = e.Decide(context.Background(), sess, Register{}, "2")
	require.NoError(t, err)
	body := onlyReply(t, d).Body
	assert.Contains(t, body, "https://app.example.com/register?")
	assert.Contains(t, body, "phone=%2B27831234567")
	assert.Contains(t, body, "callback=https%3A%2F%2Fwallet.example.com")

	d, err = e.Decide(context.Background(), sess, DownloadApp{}, "3")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/download", onlyReply(t, d).Body)

	d, err = e.Decide(context.Background(), sess.Await(StepAwaitAmount, bob), ClaimCoupon{Token: "T1"}, "4")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitAmount, d.Next.Step)
	assert.Equal(t, []Action{Redeem{Token: "T1"}}, d.Actions)

	_, err = e.Decide(context.Background(), sess, nil, "5")
	assert.ErrorIs(t, err, wallet.ErrUnknownIntent)
}

func TestGroupedAmount(t *testing.T) {
	assert.Equal(t, "R10,000", groupedAmount(wallet.AmountFromMajor(10000), "R"))
	assert.Equal(t, "R999", groupedAmount(wallet.AmountFromMajor(999), "R"))
	assert.Equal(t, "R1,234,567", groupedAmount(wallet.AmountFromMajor(1234567), "R"))
	assert.Equal(t, "R12.50", groupedAmount(1250, "R"))
}

func TestWithMenuFallsBackToText(t *testing.T) {
	long := strings.Repeat("x", 2000)
	assert.Empty(t, withMenu(long).Buttons)
	assert.Len(t, withMenu("short").Buttons, 3)
}
