package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
)

const (
	alice = "+27831234567"
	bob   = "+27839999999"
)

type outbound struct {
	To  string
	Msg notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []outbound
	fail map[string]error
}

func (r *recordingNotifier) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[to]; err != nil {
		return "", err
	}
	r.sent = append(r.sent, outbound{To: to, Msg: msg})
	return "wamid.out", nil
}

func (r *recordingNotifier) CurrencySymbol() string { return "R" }

func (r *recordingNotifier) to(phone string) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, s := range r.sent {
		if s.To == phone {
			out = append(out, s.Msg)
		}
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	sources []string
	results []ledger.TransferOutcome
}

func (a *recordingAudit) LogTransfer(ctx context.Context, cmd ledger.TransferCommand, outcome ledger.TransferOutcome, source string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, source)
	a.results = append(a.results, outcome)
	return nil
}

type recordingAlerter struct {
	alerts []notify.AmbiguousTransfer
}

func (a *recordingAlerter) TransferAmbiguous(ctx context.Context, t notify.AmbiguousTransfer) error {
	a.alerts = append(a.alerts, t)
	return nil
}

// flakyLedger fails Transfer with transferErr and TransferStatus with
// statusErr when set, answers TransferStatus with status when set, and
// delegates everything else.
type flakyLedger struct {
	*ledger.MemoryLedger
	transferErr error
	statusErr   error
	status      *ledger.TransferOutcome
	balanceErr  error
	applyFirst  bool
	calls       int
}

func (f *flakyLedger) Balance(ctx context.Context, phone string) (wallet.Amount, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.MemoryLedger.Balance(ctx, phone)
}

func (f *flakyLedger) Transfer(ctx context.Context, cmd ledger.TransferCommand) (ledger.TransferOutcome, error) {
	f.calls++
	if f.transferErr == nil {
		return f.MemoryLedger.Transfer(ctx, cmd)
	}
	if f.applyFirst {
		_, _ = f.MemoryLedger.Transfer(ctx, cmd)
	}
	return ledger.TransferOutcome{}, f.transferErr
}

func (f *flakyLedger) TransferStatus(ctx context.Context, key string) (ledger.TransferOutcome, error) {
	if f.statusErr != nil {
		return ledger.TransferOutcome{}, f.statusErr
	}
	if f.status != nil {
		return *f.status, nil
	}
	return f.MemoryLedger.TransferStatus(ctx, key)
}

type limiterFunc func(phone string) bool

func (f limiterFunc) Allow(ctx context.Context, phone string) bool { return f(phone) }

func newTestOrchestrator(t *testing.T, l Ledger) (*Orchestrator, *recordingNotifier, *recordingAudit, *recordingAlerter) {
	t.Helper()
	n := &recordingNotifier{}
	audit := &recordingAudit{}
	alerts := &recordingAlerter{}
	o := NewOrchestrator(Deps{Ledger: l, Notifier: n, Auditor: audit, Alerter: alerts}, Config{})
	return o, n, audit, alerts
}

func command(key string, amount wallet.Amount) ledger.TransferCommand {
	return ledger.TransferCommand{FromPhone: alice, ToPhone: bob, AmountMinor: amount, IdempotencyKey: key}
}

func TestExecute_SuccessNotifiesBothParties(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	o, n, audit, _ := newTestOrchestrator(t, mem)

	out := o.Execute(context.Background(), command("wamid.1", 2550), WithSenderMenu())
	require.True(t, out.Success)
	assert.NotEmpty(t, out.TransactionID)

	fromBal, _ := mem.Balance(context.Background(), alice)
	toBal, _ := mem.Balance(context.Background(), bob)
	assert.EqualValues(t, 7450, fromBal)
	assert.EqualValues(t, 2550, toBal)

	senderMsgs := n.to(alice)
	require.Len(t, senderMsgs, 1)
	assert.Contains(t, senderMsgs[0].Body, "Successfully sent R25.50 to "+bob)
	assert.Contains(t, senderMsgs[0].Body, "R74.50")
	assert.Len(t, senderMsgs[0].Buttons, 3)

	recipientMsgs := n.to(bob)
	require.Len(t, recipientMsgs, 1)
	assert.Contains(t, recipientMsgs[0].Body, "R25.50")
	assert.Contains(t, recipientMsgs[0].Body, alice)

	assert.Equal(t, []string{"chat"}, audit.sources)
}

func TestExecute_RepeatedKeyAppliesOnce(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	o, n, _, _ := newTestOrchestrator(t, mem)
	cmd := command("wamid.dup", 1000)

	first := o.Execute(context.Background(), cmd)
	second := o.Execute(context.Background(), cmd)

	require.True(t, first.Success)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, mem.AppliedTransfers())
	assert.Len(t, n.to(alice), 1)
	assert.Len(t, n.to(bob), 1)
}

func TestExecute_ConcurrentSameKey(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	o, _, _, _ := newTestOrchestrator(t, mem)
	cmd := command("wamid.race", 500)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := o.Execute(context.Background(), cmd)
			assert.True(t, out.Success)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, mem.AppliedTransfers())
	bal, _ := mem.Balance(context.Background(), alice)
	assert.EqualValues(t, 9500, bal)
}

func TestExecute_Rejections(t *testing.T) {
	tests := []struct {
		name string
		cmd  ledger.TransferCommand
		want string
	}{
		{"self transfer", ledger.TransferCommand{FromPhone: alice, ToPhone: alice, AmountMinor: 100, IdempotencyKey: "k1"}, "own number"},
		{"zero amount", command("k2", 0), "greater than 0"},
		{"over maximum", command("k3", wallet.AmountFromMajor(15000)), "R10000.00"},
		{"bad recipient", ledger.TransferCommand{FromPhone: alice, ToPhone: "0831234567", AmountMinor: 100, IdempotencyKey: "k4"}, "Invalid transfer request"},
		{"missing key", command("", 100), "Invalid transfer request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := ledger.NewMemoryLedger()
			mem.Register(alice, wallet.AmountFromMajor(20000))
			o, n, _, _ := newTestOrchestrator(t, mem)

			out := o.Execute(context.Background(), tc.cmd)
			assert.False(t, out.Success)
			assert.Equal(t, ledger.FailureRejected, out.Failure)
			assert.Contains(t, out.Message, tc.want)
			assert.Zero(t, mem.AppliedTransfers())
			assert.Empty(t, n.sent)
		})
	}
}

func TestExecute_RejectionInChatTellsSender(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	o, n, _, _ := newTestOrchestrator(t, mem)

	out := o.Execute(context.Background(), ledger.TransferCommand{FromPhone: alice, ToPhone: alice, AmountMinor: 100, IdempotencyKey: "k"}, WithSenderMenu())
	assert.Equal(t, ledger.FailureRejected, out.Failure)
	msgs := n.to(alice)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Body, "❌ Transfer failed:"))
	assert.Len(t, msgs[0].Buttons, 3)
}

func TestExecute_InsufficientFunds(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 1000)
	o, n, audit, _ := newTestOrchestrator(t, mem)

	out := o.Execute(context.Background(), command("wamid.poor", 2550))
	assert.False(t, out.Success)
	assert.Equal(t, ledger.FailureInsufficientFunds, out.Failure)
	assert.Equal(t, "Insufficient funds. Available: R10.00, Required: R25.50", out.Message)
	assert.Zero(t, mem.AppliedTransfers())

	msgs := n.to(alice)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Insufficient funds")
	assert.Empty(t, n.to(bob))
	require.Len(t, audit.results, 1)

	again := o.Execute(context.Background(), command("wamid.poor", 2550))
	assert.True(t, again.Duplicate)
	assert.Equal(t, ledger.FailureInsufficientFunds, again.Failure)
	assert.Len(t, n.to(alice), 1)
}

func TestExecute_BalanceUnavailable(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	fl := &flakyLedger{MemoryLedger: mem, balanceErr: errors.New("timeout")}
	o, n, _, _ := newTestOrchestrator(t, fl)

	out := o.Execute(context.Background(), command("wamid.x", 100))
	assert.Equal(t, ledger.FailureUnavailable, out.Failure)
	assert.Zero(t, fl.calls)
	assert.Len(t, n.to(alice), 1)
}

func TestExecute_NotSentErrorIsDefiniteFailure(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	fl := &flakyLedger{MemoryLedger: mem, transferErr: &ledger.UnavailableError{Op: "transfer", Sent: false, Err: errors.New("connection refused")}}
	o, n, _, alerts := newTestOrchestrator(t, fl)

	out := o.Execute(context.Background(), command("wamid.down", 100))
	assert.False(t, out.Success)
	assert.False(t, out.Ambiguous)
	assert.Equal(t, ledger.FailureUnavailable, out.Failure)
	assert.Empty(t, alerts.alerts)
	assert.Len(t, n.to(alice), 1)

	// nothing was settled, so the same key may go to the ledger again
	fl.transferErr = nil
	retry := o.Execute(context.Background(), command("wamid.down", 100))
	assert.True(t, retry.Success)
	assert.Equal(t, 1, mem.AppliedTransfers())
}

func TestExecute_AmbiguousResolvedByStatus(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	fl := &flakyLedger{
		MemoryLedger: mem,
		transferErr:  &ledger.UnavailableError{Op: "transfer", Sent: true, Err: context.DeadlineExceeded},
		applyFirst:   true,
	}
	o, n, _, alerts := newTestOrchestrator(t, fl)

	out := o.Execute(context.Background(), command("wamid.slow", 2550))
	assert.True(t, out.Success)
	assert.Equal(t, 1, fl.calls)
	assert.Equal(t, 1, mem.AppliedTransfers())
	assert.Empty(t, alerts.alerts)
	assert.Len(t, n.to(alice), 1)
	assert.Len(t, n.to(bob), 1)
}

func TestExecute_AmbiguousUnresolved(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	fl := &flakyLedger{
		MemoryLedger: mem,
		transferErr:  &ledger.UnavailableError{Op: "transfer", Sent: true, Err: errors.New("502 bad gateway")},
		statusErr:    ledger.ErrStatusUnsupported,
	}
	journal := NewMemoryJournal()
	n := &recordingNotifier{}
	alerts := &recordingAlerter{}
	o := NewOrchestrator(Deps{Ledger: fl, Notifier: n, Journal: journal, Alerter: alerts}, Config{})

	out := o.Execute(context.Background(), command("wamid.lost", 2550))
	assert.False(t, out.Success)
	assert.True(t, out.Ambiguous)
	assert.Equal(t, 1, fl.calls)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, "wamid.lost", alerts.alerts[0].IdempotencyKey)
	assert.EqualValues(t, 2550, alerts.alerts[0].Amount)

	msgs := n.to(alice)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "check your balance")
	assert.Empty(t, n.to(bob))

	entry, err := journal.Get(context.Background(), "wamid.lost")
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, entry.Status)
	assert.False(t, entry.Status.Settled())
}

func TestExecute_PendingStatusStaysAmbiguous(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	fl := &flakyLedger{
		MemoryLedger: mem,
		transferErr:  &ledger.UnavailableError{Op: "transfer", Sent: true, Err: context.DeadlineExceeded},
		status:       &ledger.TransferOutcome{Ambiguous: true, Message: "processing"},
	}
	journal := NewMemoryJournal()
	n := &recordingNotifier{}
	alerts := &recordingAlerter{}
	o := NewOrchestrator(Deps{Ledger: fl, Notifier: n, Journal: journal, Alerter: alerts}, Config{})

	out := o.Execute(context.Background(), command("wamid.pending", 2550))
	assert.False(t, out.Success)
	assert.True(t, out.Ambiguous)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, "wamid.pending", alerts.alerts[0].IdempotencyKey)

	msgs := n.to(alice)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "check your balance")
	assert.NotContains(t, msgs[0].Body, "Transfer failed")

	entry, err := journal.Get(context.Background(), "wamid.pending")
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, entry.Status)

	// an unsettled entry is not replayed as a failed duplicate
	again := o.Execute(context.Background(), command("wamid.pending", 2550))
	assert.False(t, again.Duplicate)
	assert.True(t, again.Ambiguous)
}

func TestExecute_PendingOutcomeWithoutErrorIsAmbiguous(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	o, n, _, alerts := newTestOrchestrator(t, pendingLedger{mem})

	out := o.Execute(context.Background(), command("wamid.queued", 100))
	assert.True(t, out.Ambiguous)
	assert.NotEqual(t, ledger.FailureUnknown, out.Failure)
	require.Len(t, alerts.alerts, 1)
	assert.Empty(t, n.to(bob))
}

// pendingLedger accepts every transfer without ever reporting a final state.
type pendingLedger struct {
	*ledger.MemoryLedger
}

func (p pendingLedger) Transfer(ctx context.Context, cmd ledger.TransferCommand) (ledger.TransferOutcome, error) {
	return ledger.TransferOutcome{Ambiguous: true, Message: "queued"}, nil
}

func (p pendingLedger) TransferStatus(ctx context.Context, key string) (ledger.TransferOutcome, error) {
	return ledger.TransferOutcome{Ambiguous: true, Message: "queued"}, nil
}

func TestExecute_HTTPLedgerServerErrorIsAmbiguous(t *testing.T) {
	var transfers atomic.Int32
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/recipient/"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/recipient/"), "@tata-mali.com")
			_, _ = w.Write([]byte(`{"id":"u` + id + `","paymentIdentifier":"pay-` + id + `"}`))
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/balance"):
			_, _ = w.Write([]byte(`{"tokens":[{"symbol":"LZAR","balance":"100.00"}]}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/transfer/"):
			transfers.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"Transfer failed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	client, err := ledger.NewHTTPClient(ledger.Config{BaseURL: server.URL, APIToken: "secret", Backoff: time.Millisecond})
	require.NoError(t, err)

	journal := NewMemoryJournal()
	n := &recordingNotifier{}
	alerts := &recordingAlerter{}
	o := NewOrchestrator(Deps{Ledger: client, Notifier: n, Journal: journal, Alerter: alerts}, Config{})

	out := o.Execute(context.Background(), command("wamid.gateway", 2550))
	assert.False(t, out.Success)
	assert.True(t, out.Ambiguous)
	assert.Equal(t, int32(1), transfers.Load())
	require.Len(t, alerts.alerts, 1)

	entry, err := journal.Get(context.Background(), "wamid.gateway")
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, entry.Status)
}

func TestExecute_VelocityLimit(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	n := &recordingNotifier{}
	o := NewOrchestrator(Deps{Ledger: mem, Notifier: n, Limiter: limiterFunc(func(string) bool { return false })}, Config{})

	out := o.Execute(context.Background(), command("wamid.fast", 100))
	assert.Equal(t, ledger.FailureRejected, out.Failure)
	assert.Zero(t, mem.AppliedTransfers())
	assert.Len(t, n.to(alice), 1)
}

func TestExecute_NotificationFailureDoesNotFailTransfer(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 10000)
	n := &recordingNotifier{fail: map[string]error{bob: errors.New("recipient not on whatsapp")}}
	o := NewOrchestrator(Deps{Ledger: mem, Notifier: n}, Config{})

	out := o.Execute(context.Background(), command("wamid.n", 100))
	assert.True(t, out.Success)
	assert.Len(t, n.to(alice), 1)
}

func TestNotifyParties_ReportsPerPartyErrors(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.Register(alice, 5000)
	n := &recordingNotifier{fail: map[string]error{alice: errors.New("blocked")}}
	o := NewOrchestrator(Deps{Ledger: mem, Notifier: n}, Config{})

	res := o.NotifyParties(context.Background(), PartiesNotice{FromPhone: alice, ToPhone: bob, Amount: 1000, TransactionID: "tx-1"})
	assert.Error(t, res.SenderErr)
	assert.NoError(t, res.RecipientErr)

	msgs := n.to(bob)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "R10.00")
}

func TestNotifyRecipients_PacesSends(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	n := &recordingNotifier{fail: map[string]error{"+27830000002": errors.New("invalid")}}
	o := NewOrchestrator(Deps{Ledger: mem, Notifier: n}, Config{NotifyInterval: time.Second})
	var pauses []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	delivered := o.NotifyRecipients(context.Background(), alice, []RecipientNotice{
		{ToPhone: "+27830000001", Amount: 100},
		{ToPhone: "+27830000002", Amount: 200},
		{ToPhone: "+27830000003", Amount: 300},
	})
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, pauses)
}

func TestNotifyRecipients_StopsOnCancel(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	n := &recordingNotifier{}
	o := NewOrchestrator(Deps{Ledger: mem, Notifier: n}, Config{NotifyInterval: time.Second})
	o.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	delivered := o.NotifyRecipients(context.Background(), alice, []RecipientNotice{
		{ToPhone: "+27830000001", Amount: 100},
		{ToPhone: "+27830000002", Amount: 200},
	})
	assert.Equal(t, 1, delivered)
}
