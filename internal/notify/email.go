package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EmailSender delivers operator alert e-mails. SendGrid and SES both satisfy it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one operator e-mail. Category and Reference are passed to
// the provider for filtering (a SendGrid category / custom arg, an SES tag).
type EmailMessage struct {
	To        string
	ToName    string
	Subject   string
	Text      string
	HTML      string
	Category  string
	Reference string
}

const (
	defaultFromName = "Tata Mali Ops"

	categoryTransferAlert = "transfer-reconciliation"
)

var errNoRecipient = errors.New("notify: e-mail has no recipient")

func (m EmailMessage) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errNoRecipient
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("notify: e-mail %q has no body", m.Subject)
	}
	return nil
}

// plain returns the text part, falling back to the HTML part.
func (m EmailMessage) plain() string {
	if m.Text != "" {
		return m.Text
	}
	return m.HTML
}

type fromAddress struct {
	name  string
	email string
}

func newFromAddress(name, email string) fromAddress {
	if strings.TrimSpace(name) == "" {
		name = defaultFromName
	}
	return fromAddress{name: name, email: strings.TrimSpace(email)}
}

func (f fromAddress) String() string {
	return fmt.Sprintf("%s <%s>", f.name, f.email)
}

// tagValue keeps the characters SES accepts in message tags.
func tagValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() > 256 {
		return b.String()[:256]
	}
	return b.String()
}
