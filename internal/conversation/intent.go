package conversation

// Intent is the closed set of structured meanings an inbound event can carry.
type Intent interface {
	intentName() string
}

type (
	CheckBalance  struct{}
	StartTransfer struct{}
	SetRecipient  struct{ Phone string }
	SetAmount     struct{ Raw string }
	CancelFlow    struct{}
	ClaimCoupon   struct{ Token string }
	Unrecognized  struct{ Text string }
	Unregistered  struct{ Name string }
	Register      struct{}
	DownloadApp   struct{}
)

func (CheckBalance) intentName() string  { return "check_balance" }
func (StartTransfer) intentName() string { return "start_transfer" }
func (SetRecipient) intentName() string  { return "set_recipient" }
func (SetAmount) intentName() string     { return "set_amount" }
func (CancelFlow) intentName() string    { return "cancel_flow" }
func (ClaimCoupon) intentName() string   { return "claim_coupon" }
func (Unrecognized) intentName() string  { return "unrecognized" }
func (Unregistered) intentName() string  { return "unregistered" }
func (Register) intentName() string      { return "register" }
func (DownloadApp) intentName() string   { return "download_app" }

// IntentName is the metrics/log label for i.
func IntentName(i Intent) string {
	if i == nil {
		return "none"
	}
	return i.intentName()
}
