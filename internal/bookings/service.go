package bookings

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

var bookingsTracer = otel.Tracer("resthouse.internal.bookings")

const (
	// MaxRangeDays caps AvailableDates requests.
	MaxRangeDays = 366

	defaultOTPTTL    = 30 * time.Minute
	maxCreateRetries = 5
)

// CodeGenerator returns a random numeric string of the given length.
type CodeGenerator func(digits int) (string, error)

// Service implements booking storage rules on top of a Repository.
type Service struct {
	repo     Repository
	logger   *logging.Logger
	metrics  *metrics.ConversationMetrics
	price    int
	otpTTL   time.Duration
	now      func() time.Time
	location *time.Location
	codes    CodeGenerator
}

// Option customizes a Service.
type Option func(*Service)

// WithPrice overrides the per-day price.
func WithPrice(price int) Option {
	return func(s *Service) {
		if price > 0 {
			s.price = price
		}
	}
}

// WithOTPTTL overrides how long verification codes stay valid.
func WithOTPTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.otpTTL = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithCodeGenerator replaces the crypto/rand code generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.codes = gen
		}
	}
}

// WithMetrics records booking lifecycle events.
func WithMetrics(m *metrics.ConversationMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService constructs a bookings service.
func NewService(repo Repository, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:     repo,
		logger:   logger,
		price:    DefaultPrice,
		otpTTL:   defaultOTPTTL,
		now:      time.Now,
		location: time.UTC,
		codes:    RandomDigits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the timezone the service uses for calendar math.
func (s *Service) Location() *time.Location {
	return s.location
}

// Today returns the current calendar date in the service timezone.
func (s *Service) Today() string {
	return s.now().In(s.location).Format(DateLayout)
}

// DaysRemaining counts days until the booking date relative to the service clock.
func (s *Service) DaysRemaining(b *Booking) int {
	return DaysRemaining(b, s.now(), s.location)
}

// CheckDateAvailability reports whether no confirmed booking holds the date.
func (s *Service) CheckDateAvailability(ctx context.Context, date string) (bool, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.check_availability")
	defer span.End()
	span.SetAttributes(attribute.String("resthouse.booking_date", date))

	if _, err := ParseDate(date); err != nil {
		return false, err
	}
	count, err := s.repo.CountConfirmedOn(ctx, date)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return count == 0, nil
}

// CreateBooking inserts a pending booking with a fresh reference and secret code.
func (s *Service) CreateBooking(ctx context.Context, req NewBooking) (*Created, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.BookingDate = strings.TrimSpace(req.BookingDate)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("resthouse.booking_date", req.BookingDate))

	var lastErr error
	swept := false
	for attempt := 1; attempt <= maxCreateRetries; attempt++ {
		reference, err := s.codes(4)
		if err != nil {
			return nil, fmt.Errorf("bookings: generate reference: %w", err)
		}
		secret, err := s.codes(6)
		if err != nil {
			return nil, fmt.Errorf("bookings: generate secret code: %w", err)
		}
		b := &Booking{
			ID:            uuid.New(),
			Reference:     reference,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			CustomerEmail: req.CustomerEmail,
			Date:          req.BookingDate,
			Price:         s.price,
			Status:        StatusPending,
			SecretCode:    secret,
		}
		err = s.repo.Insert(ctx, b)
		if err == nil {
			s.logger.Info("booking created", "booking_id", b.ID, "booking_reference", b.Reference, "booking_date", b.Date)
			s.metrics.ObserveBookingEvent("created")
			return &Created{BookingID: b.ID, Reference: b.Reference, SecretCode: b.SecretCode}, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			span.RecordError(err)
			return nil, err
		}
		lastErr = err
		s.logger.Warn("booking code collision, retrying", "attempt", attempt)
		if !swept {
			swept = true
			s.releaseStaleReferences(ctx)
		}
	}
	span.RecordError(lastErr)
	return nil, fmt.Errorf("bookings: create after %d attempts: %w", maxCreateRetries, lastErr)
}

// releaseStaleReferences cancels pending bookings whose OTP window has passed.
// Nothing can confirm them any more, and cancelling frees their reference.
func (s *Service) releaseStaleReferences(ctx context.Context) {
	cutoff := s.now().Add(-s.otpTTL).UTC()
	n, err := s.repo.CancelStalePending(ctx, cutoff)
	if err != nil {
		s.logger.Warn("stale pending sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("stale pending bookings cancelled", "count", n)
	}
}

// CreateVerificationCode issues a 4-digit OTP for the booking.
func (s *Service) CreateVerificationCode(ctx context.Context, bookingID uuid.UUID) (string, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create_verification_code")
	defer span.End()
	span.SetAttributes(attribute.String("resthouse.booking_id", bookingID.String()))

	code, err := s.codes(4)
	if err != nil {
		return "", fmt.Errorf("bookings: generate otp: %w", err)
	}
	expiresAt := s.now().Add(s.otpTTL).UTC()
	if err := s.repo.InsertVerificationCode(ctx, bookingID, code, expiresAt); err != nil {
		span.RecordError(err)
		return "", err
	}
	return code, nil
}

// VerifyOTP consumes a valid code and confirms the pending booking. Wrong,
// expired and already used codes all yield false. A valid code for a date that
// was confirmed by someone else in the meantime yields ErrDateUnavailable and
// leaves the booking pending.
func (s *Service) VerifyOTP(ctx context.Context, reference, code string) (bool, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.verify_otp")
	defer span.End()
	span.SetAttributes(attribute.String("resthouse.booking_reference", reference))

	ok, err := s.repo.ConsumeVerificationCode(ctx, strings.TrimSpace(reference), strings.TrimSpace(code), s.now().UTC())
	if errors.Is(err, ErrDateUnavailable) {
		s.logger.Info("booking date taken before verification", "booking_reference", reference)
		return false, err
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if ok {
		s.logger.Info("booking verified", "booking_reference", reference)
		s.metrics.ObserveBookingEvent("confirmed")
	}
	return ok, nil
}

// ConfirmBooking marks a booking confirmed without an OTP.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID uuid.UUID) error {
	return s.UpdateStatus(ctx, bookingID, StatusConfirmed)
}

// GetBySecretCode returns nil, nil when no booking has the code.
func (s *Service) GetBySecretCode(ctx context.Context, secretCode string) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.get_by_secret_code")
	defer span.End()

	b, err := s.repo.GetBySecretCode(ctx, strings.TrimSpace(secretCode))
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return b, nil
}

// GetByReference returns nil, nil when no booking has the reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	b, err := s.repo.GetByReference(ctx, strings.TrimSpace(reference))
	if errors.Is(err, ErrBookingNotFound) {
		return nil, nil
	}
	return b, err
}

// CancelBooking moves a confirmed booking to cancelled. Any other status is a no-op.
func (s *Service) CancelBooking(ctx context.Context, secretCode string) (bool, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()

	ok, err := s.repo.CancelConfirmed(ctx, strings.TrimSpace(secretCode))
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if ok {
		s.logger.Info("booking cancelled")
		s.metrics.ObserveBookingEvent("cancelled")
	}
	return ok, nil
}

// AvailableDates lists every day in [start, end] with its availability.
func (s *Service) AvailableDates(ctx context.Context, start, end string) ([]DateAvailability, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.available_dates")
	defer span.End()

	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) || int(to.Sub(from).Hours()/24) >= MaxRangeDays {
		return nil, ErrInvalidRange
	}

	taken, err := s.repo.ConfirmedDatesBetween(ctx, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	booked := make(map[string]struct{}, len(taken))
	for _, d := range taken {
		booked[d] = struct{}{}
	}

	var out []DateAvailability
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		key := day.Format(DateLayout)
		_, isBooked := booked[key]
		out = append(out, DateAvailability{Date: key, Available: !isBooked})
	}
	return out, nil
}

// List returns all bookings, newest first.
func (s *Service) List(ctx context.Context) ([]*Booking, error) {
	return s.repo.List(ctx)
}

// Delete removes a booking and its verification codes.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("booking deleted", "booking_id", id)
	return nil
}

// UpdateStatus sets a booking's status after validating it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("resthouse.booking_id", id.String()),
		attribute.String("resthouse.status", string(status)),
	)

	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("booking status updated", "booking_id", id, "status", status)
	s.metrics.ObserveBookingEvent(string(status))
	return nil
}

// RandomDigits returns a random n-digit number without a leading zero
// (1000-9999 for n=4).
func RandomDigits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("bookings: invalid code length %d", n)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return v.Add(v, low).String(), nil
}
