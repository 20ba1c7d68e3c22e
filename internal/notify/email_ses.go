package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
	// ConfigurationSet routes delivery events when set.
	ConfigurationSet string
}

// SESSender sends alert e-mails through SES v2.
type SESSender struct {
	client    SESAPI
	from      fromAddress
	configSet string
	logger    *logging.Logger
}

var _ EmailSender = (*SESSender)(nil)

// NewSESSender returns nil for a nil client.
func NewSESSender(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{
		client:    client,
		from:      newFromAddress(cfg.FromName, cfg.FromEmail),
		configSet: cfg.ConfigurationSet,
		logger:    logger,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	output, err := s.client.SendEmail(ctx, s.input(msg))
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "reference", msg.Reference)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("alert e-mail sent", "provider", "ses", "reference", msg.Reference, "message_id", aws.ToString(output.MessageId))
	return nil
}

func (s *SESSender) input(msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{Text: utf8Content(msg.plain())}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from.String()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	if s.configSet != "" {
		input.ConfigurationSetName = aws.String(s.configSet)
	}
	if msg.Category != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("category"), Value: aws.String(tagValue(msg.Category))})
	}
	if msg.Reference != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("reference"), Value: aws.String(tagValue(msg.Reference))})
	}
	return input
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
