package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// EmailSender delivers one rendered booking email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// DefaultFromName is used when no sender display name is configured.
const DefaultFromName = "استراحة السلام"

// Email kinds. Providers tag outgoing mail with the kind so bounces and
// deliveries can be told apart per flow.
const (
	KindVerification = "verification"
	KindConfirmation = "confirmation"
)

// ErrThrottled is wrapped into provider errors that signal rate limiting.
var ErrThrottled = errors.New("notify: email provider throttled")

// EmailMessage is a rendered booking email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text
	HTML    string

	Kind      string
	Reference string
	// ReplyTo routes guest replies to the rest house desk instead of the
	// no-reply sender address.
	ReplyTo string
}

// SendGridSender delivers booking emails through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// message builds the v3 payload. Every booking email is filed under the
// "booking" category plus its kind, and carries the reference as a custom
// arg so webhook events can be matched back to the booking.
func (s *SendGridSender) message(msg EmailMessage) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	if msg.Reference != "" {
		p.SetCustomArg("booking_reference", msg.Reference)
	}
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/plain", msg.Body))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail(s.from.Name, msg.ReplyTo))
	}
	m.AddCategories("booking")
	if msg.Kind != "" {
		m.AddCategories(msg.Kind)
	}
	// Rewritten links would break the copy-paste of codes on some clients.
	m.SetTrackingSettings(mail.NewTrackingSettings().
		SetClickTracking(mail.NewClickTrackingSetting().SetEnable(false)))
	return m
}

// Send delivers msg. A 429 from SendGrid is reported as ErrThrottled.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	response, err := s.client.SendWithContext(ctx, s.message(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "kind", msg.Kind, "booking_reference", msg.Reference)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		s.logger.Warn("sendgrid throttled booking email", "kind", msg.Kind, "booking_reference", msg.Reference)
		return fmt.Errorf("notify: sendgrid %s email: %w", msg.Kind, ErrThrottled)
	case response.StatusCode >= 400:
		s.logger.Error("sendgrid rejected booking email", "status", response.StatusCode, "body", response.Body, "kind", msg.Kind)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("booking email sent via sendgrid", "kind", msg.Kind, "booking_reference", msg.Reference, "status", response.StatusCode)
	return nil
}

// StubEmailSender records messages instead of sending them. It is the default
// provider for local runs.
type StubEmailSender struct {
	logger *logging.Logger

	mu   sync.Mutex
	sent []EmailMessage
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send records msg. Codes stay out of the log line.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: booking email not delivered", "kind", msg.Kind, "booking_reference", msg.Reference)
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of every message passed to Send.
func (s *StubEmailSender) Sent() []EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EmailMessage(nil), s.sent...)
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
