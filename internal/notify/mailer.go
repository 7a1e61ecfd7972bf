package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// ErrNoRecipient is returned when a booking email has no address.
var ErrNoRecipient = errors.New("notify: recipient email required")

// VerificationEmail carries the fields of the OTP email.
type VerificationEmail struct {
	To           string
	CustomerName string
	BookingDate  string
	Reference    string
	OTPCode      string
}

// ConfirmationEmail carries the fields of the booking confirmation email.
type ConfirmationEmail struct {
	To           string
	CustomerName string
	BookingDate  string
	Reference    string
	SecretCode   string
}

// BookingMailer renders booking emails and sends them through a circuit breaker.
type BookingMailer struct {
	sender  EmailSender
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	price   int
	otpTTL  time.Duration
	replyTo string
}

// MailerConfig customizes BookingMailer output.
type MailerConfig struct {
	Price   int
	OTPTTL  time.Duration
	ReplyTo string
}

// NewBookingMailer wraps sender with a breaker that opens after repeated failures.
func NewBookingMailer(sender EmailSender, cfg MailerConfig, m *metrics.ConversationMetrics, logger *logging.Logger) *BookingMailer {
	if sender == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Price <= 0 {
		cfg.Price = 250
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 30 * time.Minute
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "email",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("email circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BookingMailer{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
		metrics: m,
		price:   cfg.Price,
		otpTTL:  cfg.OTPTTL,
		replyTo: cfg.ReplyTo,
	}
}

// SendVerification emails the OTP for a pending booking.
func (m *BookingMailer) SendVerification(ctx context.Context, v VerificationEmail) error {
	if v.To == "" {
		return ErrNoRecipient
	}
	data := emailData{
		CustomerName: v.CustomerName,
		Date:         FormatArabicDate(v.BookingDate),
		Reference:    v.Reference,
		Price:        m.price,
		Code:         v.OTPCode,
		ValidMinutes: int(m.otpTTL.Minutes()),
	}
	msg, err := render(verificationText, verificationHTML, data)
	if err != nil {
		return err
	}
	msg.To = v.To
	msg.ToName = v.CustomerName
	msg.Subject = "رمز التحقق لحجز استراحة السلام - " + v.Reference
	msg.Kind = KindVerification
	msg.Reference = v.Reference
	return m.send(ctx, msg)
}

// SendConfirmation emails the secret code once a booking is confirmed.
func (m *BookingMailer) SendConfirmation(ctx context.Context, c ConfirmationEmail) error {
	if c.To == "" {
		return ErrNoRecipient
	}
	data := emailData{
		CustomerName: c.CustomerName,
		Date:         FormatArabicDate(c.BookingDate),
		Reference:    c.Reference,
		Price:        m.price,
		Code:         c.SecretCode,
	}
	msg, err := render(confirmationText, confirmationHTML, data)
	if err != nil {
		return err
	}
	msg.To = c.To
	msg.ToName = c.CustomerName
	msg.Subject = "تأكيد حجز استراحة السلام - " + c.Reference
	msg.Kind = KindConfirmation
	msg.Reference = c.Reference
	return m.send(ctx, msg)
}

func (m *BookingMailer) send(ctx context.Context, msg EmailMessage) error {
	msg.ReplyTo = m.replyTo
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.sender.Send(ctx, msg)
	})
	m.metrics.ObserveEmail(msg.Kind, err == nil)
	if err != nil {
		m.logger.Error("booking email failed", "kind", msg.Kind, "booking_reference", msg.Reference, "error", err)
		return fmt.Errorf("notify: send %s email: %w", msg.Kind, err)
	}
	return nil
}

type emailData struct {
	CustomerName string
	Date         string
	Reference    string
	Price        int
	Code         string
	ValidMinutes int
}

func render(text *texttemplate.Template, html *htmltemplate.Template, data emailData) (EmailMessage, error) {
	var body, page bytes.Buffer
	if err := text.Execute(&body, data); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := html.Execute(&page, data); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render html: %w", err)
	}
	return EmailMessage{Body: body.String(), HTML: page.String()}, nil
}

var arabicWeekdays = [...]string{"الأحد", "الاثنين", "الثلاثاء", "الأربعاء", "الخميس", "الجمعة", "السبت"}

var arabicMonths = [...]string{
	"يناير", "فبراير", "مارس", "أبريل", "مايو", "يونيو",
	"يوليو", "أغسطس", "سبتمبر", "أكتوبر", "نوفمبر", "ديسمبر",
}

// FormatArabicDate renders a YYYY-MM-DD date as "الأحد، 1 يونيو 2025".
// Unparseable input is returned unchanged.
func FormatArabicDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return arabicWeekdays[t.Weekday()] + "، " + strconv.Itoa(t.Day()) + " " + arabicMonths[t.Month()-1] + " " + strconv.Itoa(t.Year())
}

var verificationText = texttemplate.Must(texttemplate.New("verification_text").Parse(
	`مرحباً {{.CustomerName}}،

شكراً لاختيارك استراحة السلام. نحن بحاجة إلى تأكيد حجزك.

رقم الحجز: {{.Reference}}
تاريخ الحجز: {{.Date}}
السعر: {{.Price}} د.ل

رمز التحقق الخاص بك هو: {{.Code}}
ينتهي صلاحية هذا الرمز خلال {{.ValidMinutes}} دقيقة.

إذا لم تقم بطلب هذا الحجز، يرجى تجاهل هذا البريد الإلكتروني.
فريق استراحة السلام
`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation_text").Parse(
	`مرحباً {{.CustomerName}}،

تم تأكيد حجزك في استراحة السلام بنجاح!

رقم الحجز: {{.Reference}}
تاريخ الحجز: {{.Date}}
السعر: {{.Price}} د.ل

الرمز السري لإدارة حجزك هو: {{.Code}}
احتفظ بهذا الرمز للاستعلام عن حجزك أو إلغائه.

فريق استراحة السلام
`))

var verificationHTML = htmltemplate.Must(htmltemplate.New("verification_html").Parse(`<div dir="rtl" style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #2e7d32;">استراحة السلام</h1>
  <h2>مرحباً {{.CustomerName}}،</h2>
  <p>شكراً لاختيارك استراحة السلام. نحن بحاجة إلى تأكيد حجزك.</p>
  <ul>
    <li>رقم الحجز: <strong>{{.Reference}}</strong></li>
    <li>تاريخ الحجز: <strong>{{.Date}}</strong></li>
    <li>السعر: <strong>{{.Price}} د.ل</strong></li>
  </ul>
  <p>رمز التحقق الخاص بك هو:</p>
  <div style="font-size: 32px; font-weight: bold; letter-spacing: 5px; color: #2e7d32;">{{.Code}}</div>
  <p style="color: #f44336;">ينتهي صلاحية هذا الرمز خلال {{.ValidMinutes}} دقيقة.</p>
  <p style="color: #666;">إذا لم تقم بطلب هذا الحجز، يرجى تجاهل هذا البريد الإلكتروني.</p>
</div>`))

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation_html").Parse(`<div dir="rtl" style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #2e7d32;">استراحة السلام</h1>
  <h2>مرحباً {{.CustomerName}}،</h2>
  <p style="font-weight: bold;">تم تأكيد حجزك في استراحة السلام بنجاح!</p>
  <ul>
    <li>رقم الحجز: <strong>{{.Reference}}</strong></li>
    <li>تاريخ الحجز: <strong>{{.Date}}</strong></li>
    <li>السعر: <strong>{{.Price}} د.ل</strong></li>
  </ul>
  <p>الرمز السري لإدارة حجزك هو:</p>
  <div style="font-size: 32px; font-weight: bold; letter-spacing: 5px; color: #2e7d32; border: 2px dashed #2e7d32;">{{.Code}}</div>
  <p>احتفظ بهذا الرمز للاستعلام عن حجزك أو إلغائه.</p>
  <ul>
    <li>يرجى الوصول قبل 15 دقيقة من موعد الحجز</li>
    <li>إحضار بطاقة الهوية الشخصية</li>
    <li>في حالة الرغبة في إلغاء الحجز، يرجى إخطارنا قبل 24 ساعة على الأقل</li>
  </ul>
</div>`))
