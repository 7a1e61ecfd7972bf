package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// sesAPI is the slice of the SES v2 client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers booking emails through AWS SES v2.
type SESSender struct {
	client        sesAPI
	from          string
	configuration string
	logger        *logging.Logger
}

// SESConfig holds configuration for AWS SES. ConfigurationSet is optional;
// when set, delivery events for booking mail are published through it.
type SESConfig struct {
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// NewSESSender returns nil when no client is available.
func NewSESSender(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	return newSESSender(client, cfg, logger)
}

func newSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SESSender{
		client:        client,
		from:          fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		configuration: cfg.ConfigurationSet,
		logger:        logger,
	}
}

func utf8Content(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// input builds the SendEmail request. Tags are only attached alongside a
// configuration set since SES has nowhere to publish them otherwise.
func (s *SESSender) input(msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configuration != "" {
		in.ConfigurationSetName = aws.String(s.configuration)
		if msg.Kind != "" {
			in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("kind"), Value: aws.String(msg.Kind)})
		}
		if msg.Reference != "" {
			in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("booking_reference"), Value: aws.String(msg.Reference)})
		}
	}
	return in
}

// Send delivers msg. SES throttling and paused sending surface as ErrThrottled.
func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	output, err := s.client.SendEmail(ctx, s.input(msg))
	if err != nil {
		var throttled *types.TooManyRequestsException
		var paused *types.SendingPausedException
		if errors.As(err, &throttled) || errors.As(err, &paused) {
			s.logger.Warn("SES throttled booking email", "error", err, "kind", msg.Kind, "booking_reference", msg.Reference)
			return fmt.Errorf("notify: SES %s email: %w", msg.Kind, ErrThrottled)
		}
		s.logger.Error("SES send failed", "error", err, "kind", msg.Kind, "booking_reference", msg.Reference)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("booking email sent via SES", "kind", msg.Kind, "booking_reference", msg.Reference, "message_id", aws.ToString(output.MessageId))
	return nil
}

var _ EmailSender = (*SESSender)(nil)
