package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/resthouse-booking/internal/config"
	"github.com/wolfman30/resthouse-booking/internal/notify"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// BuildEmailSender picks the provider named by EMAIL_PROVIDER. A provider
// missing its credentials degrades to the stub sender, which only logs.
// sesClient is only consulted for "ses".
func BuildEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty; using stub email sender")
	case "ses":
		if sender := notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.EmailFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger); sender != nil {
			return sender, "ses"
		}
		logger.Warn("ses selected but no SES client available; using stub email sender")
	case "", "stub":
	default:
		logger.Warn("unknown EMAIL_PROVIDER; using stub email sender", "provider", cfg.EmailProvider)
	}
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildBookingMailer wraps sender with booking templates and a circuit breaker.
func BuildBookingMailer(cfg *appconfig.Config, sender notify.EmailSender, deps Deps) *notify.BookingMailer {
	return notify.NewBookingMailer(sender, notify.MailerConfig{
		Price:   cfg.BookingPrice,
		OTPTTL:  cfg.OTPTTL,
		ReplyTo: cfg.EmailReplyTo,
	}, deps.Metrics, deps.Logger)
}
