package conversation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	"github.com/wolfman30/resthouse-booking/internal/notify"
	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

var engineTracer = otel.Tracer("resthouse.internal.conversation")

const (
	otpDigits        = 4
	secretCodeDigits = 6
)

// BookingService is the booking store the engine talks to.
type BookingService interface {
	CheckDateAvailability(ctx context.Context, date string) (bool, error)
	CreateBooking(ctx context.Context, req bookings.NewBooking) (*bookings.Created, error)
	CreateVerificationCode(ctx context.Context, bookingID uuid.UUID) (string, error)
	VerifyOTP(ctx context.Context, reference, code string) (bool, error)
	GetBySecretCode(ctx context.Context, secretCode string) (*bookings.Booking, error)
	CancelBooking(ctx context.Context, secretCode string) (bool, error)
}

// Mailer sends booking emails. Failures never block the conversation.
type Mailer interface {
	SendVerification(ctx context.Context, v notify.VerificationEmail) error
	SendConfirmation(ctx context.Context, c notify.ConfirmationEmail) error
}

// EngineConfig wires the engine's collaborators. Bookings is required.
type EngineConfig struct {
	Bookings   BookingService
	Mailer     Mailer
	Sessions   SessionStore
	Classifier Classifier
	Composer   *Composer
	Fallback   FallbackResponder
	Clock      func() time.Time
	Location   *time.Location
	Logger     *logging.Logger
	Metrics    *metrics.ConversationMetrics
}

// Engine runs the booking conversation state machine.
type Engine struct {
	bookings   BookingService
	mailer     Mailer
	sessions   SessionStore
	classifier Classifier
	replies    *Composer
	fallback   FallbackResponder
	now        func() time.Time
	location   *time.Location
	logger     *logging.Logger
	metrics    *metrics.ConversationMetrics
	locks      *keyedLocker
}

// Result is the outcome of one turn.
type Result struct {
	SessionID string
	Reply     string
	Stage     Stage
}

// turn is what a stage handler decided. reset deletes the session instead of saving it.
type turn struct {
	reply string
	reset bool
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Bookings == nil {
		panic("conversation: booking service required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemorySessionStore()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewKeywordClassifier()
	}
	if cfg.Composer == nil {
		cfg.Composer = NewComposer(bookings.DefaultPrice, false, nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Engine{
		bookings:   cfg.Bookings,
		mailer:     cfg.Mailer,
		sessions:   cfg.Sessions,
		classifier: cfg.Classifier,
		replies:    cfg.Composer,
		fallback:   cfg.Fallback,
		now:        cfg.Clock,
		location:   cfg.Location,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		locks:      newKeyedLocker(),
	}
}

// HandleMessage processes one user message and always returns a reply.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, text string) string {
	return e.Process(ctx, sessionID, text).Reply
}

// Process handles one message for sessionID. Turns of the same session run
// one at a time. Collaborator failures are logged and turned into replies;
// Process never returns an error and never panics.
func (e *Engine) Process(ctx context.Context, sessionID, text string) (res Result) {
	started := e.now()
	res = Result{SessionID: sessionID, Stage: StageInitial}

	ctx, span := engineTracer.Start(ctx, "conversation.process")
	defer span.End()

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("conversation turn panicked", "session_id", sessionID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			e.metrics.ObserveCollaboratorError("panic")
			res.Reply = e.replies.ServiceError()
		}
	}()

	sess, err := e.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		e.collaboratorFailed("load_session", err, "session_id", sessionID)
		res.Reply = e.replies.ServiceError()
		return res
	}
	from := sess.Stage
	e.metrics.ObserveMessage(string(from))
	span.SetAttributes(attribute.String("resthouse.stage_from", string(from)))

	t := e.step(ctx, sess, strings.TrimSpace(text))

	if t.reset {
		sess = NewSession(sessionID)
		if err := e.sessions.Reset(ctx, sessionID); err != nil {
			e.collaboratorFailed("reset_session", err, "session_id", sessionID)
		}
	} else {
		sess.UpdatedAt = e.now().UTC()
		if err := e.sessions.Save(ctx, sess); err != nil {
			e.collaboratorFailed("save_session", err, "session_id", sessionID)
		}
	}

	e.metrics.ObserveTransition(string(from), string(sess.Stage))
	e.metrics.ObserveTurnLatency(string(from), e.now().Sub(started).Seconds())
	span.SetAttributes(attribute.String("resthouse.stage_to", string(sess.Stage)))
	if from != sess.Stage {
		e.logger.Info("conversation stage changed", "session_id", sessionID, "from", from, "to", sess.Stage)
	}

	res.Reply = e.replies.Decorate(t.reply)
	res.Stage = sess.Stage
	return res
}

// Reset discards the session so the next message starts from initial and
// returns the welcome reply.
func (e *Engine) Reset(ctx context.Context, sessionID string) (string, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()
	if err := e.sessions.Reset(ctx, sessionID); err != nil {
		e.collaboratorFailed("reset_session", err, "session_id", sessionID)
		return "", fmt.Errorf("conversation: reset session: %w", err)
	}
	return e.replies.Welcome(), nil
}

func (e *Engine) step(ctx context.Context, sess *Session, text string) turn {
	if sess.Stage != StageInitial && e.classifier.IsReset(text) {
		return turn{reply: e.replies.Restarted(), reset: true}
	}

	if sess.Stage.IsCompleted() {
		*sess = *NewSession(sess.SessionID)
	}

	switch sess.Stage {
	case StageInitial:
		return e.handleInitial(ctx, sess, text)
	case StageCollectingDate:
		return e.handleDate(ctx, sess, text)
	case StageCollectingInfo:
		return e.handleInfo(sess, text)
	case StageConfirmingBooking:
		return e.handleBookingConfirmation(ctx, sess, text)
	case StageVerifyingOTP:
		return e.handleOTP(ctx, sess, text)
	case StageCheckingBooking:
		return e.handleInquiry(ctx, sess, text)
	case StageCancellingBooking:
		if sess.SecretCode != "" {
			return e.handleCancellationAnswer(ctx, sess, text)
		}
		return e.handleCancellationCode(ctx, sess, text)
	case StageConfirmCancellation:
		return e.handleCancellationAnswer(ctx, sess, text)
	default:
		return turn{reply: e.replies.DeadEnd(sess.Stage)}
	}
}

func (e *Engine) handleInitial(ctx context.Context, sess *Session, text string) turn {
	switch e.classifier.Classify(text) {
	case IntentBooking:
		sess.Stage = StageCollectingDate
		return turn{reply: e.replies.AskDate()}
	case IntentInquiry:
		sess.Stage = StageCheckingBooking
		return turn{reply: e.replies.AskSecretCode()}
	case IntentCancel:
		sess.Stage = StageCancellingBooking
		return turn{reply: e.replies.AskSecretCodeToCancel()}
	case IntentReset:
		return turn{reply: e.replies.Welcome(), reset: true}
	}

	if e.fallback != nil && text != "" {
		reply, err := e.fallback.Respond(ctx, text)
		if err != nil {
			e.collaboratorFailed("fallback", err, "session_id", sess.SessionID)
		} else if reply != "" {
			return turn{reply: reply}
		}
	}
	return turn{reply: e.replies.Welcome()}
}

func (e *Engine) handleDate(ctx context.Context, sess *Session, text string) turn {
	raw, ok := ExtractDate(text)
	if !ok {
		return turn{reply: e.replies.DateNotUnderstood()}
	}
	date, err := bookings.ParseDate(raw)
	if err != nil {
		return turn{reply: e.replies.DateNotUnderstood()}
	}
	if date.Format(bookings.DateLayout) < e.today() {
		return turn{reply: e.replies.DatePast()}
	}

	available, err := e.bookings.CheckDateAvailability(ctx, raw)
	if err != nil {
		e.collaboratorFailed("check_availability", err, "session_id", sess.SessionID, "booking_date", raw)
		sess.Stage = StageBookingError
		return turn{reply: e.replies.ServiceError()}
	}
	if !available {
		return turn{reply: e.replies.DateTaken(raw)}
	}

	sess.BookingDate = raw
	sess.Stage = StageCollectingInfo
	return turn{reply: e.replies.AskInfo(raw)}
}

func (e *Engine) handleInfo(sess *Session, text string) turn {
	name, hasName := ExtractName(text)
	phone, hasPhone := ExtractPhone(text)
	email, hasEmail := ExtractEmail(text)
	if !hasName || !hasPhone || !hasEmail {
		return turn{reply: e.replies.MissingInfo(hasName, hasPhone, hasEmail)}
	}

	sess.CustomerName = name
	sess.CustomerPhone = phone
	sess.CustomerEmail = email
	sess.Stage = StageConfirmingBooking
	return turn{reply: e.replies.ConfirmDetails(sess)}
}

func (e *Engine) handleBookingConfirmation(ctx context.Context, sess *Session, text string) turn {
	yes, no := e.classifier.IsAffirmative(text), e.classifier.IsNegative(text)
	if yes && no {
		return turn{reply: e.replies.AskYesNo()}
	}
	if !yes {
		return turn{reply: e.replies.BookingAborted(), reset: true}
	}

	// The date may have been taken by another booking since it was collected.
	available, err := e.bookings.CheckDateAvailability(ctx, sess.BookingDate)
	if err != nil {
		e.collaboratorFailed("check_availability", err, "session_id", sess.SessionID, "booking_date", sess.BookingDate)
		sess.Stage = StageBookingError
		return turn{reply: e.replies.ServiceError()}
	}
	if !available {
		sess.Stage = StageDateUnavailable
		return turn{reply: e.replies.DeadEnd(StageDateUnavailable)}
	}

	created, err := e.bookings.CreateBooking(ctx, bookings.NewBooking{
		CustomerName:  sess.CustomerName,
		CustomerPhone: sess.CustomerPhone,
		CustomerEmail: sess.CustomerEmail,
		BookingDate:   sess.BookingDate,
	})
	if err != nil {
		e.collaboratorFailed("create_booking", err, "session_id", sess.SessionID)
		sess.Stage = StageBookingError
		return turn{reply: e.replies.ServiceError()}
	}

	otp, err := e.bookings.CreateVerificationCode(ctx, created.BookingID)
	if err != nil {
		e.collaboratorFailed("create_verification_code", err, "session_id", sess.SessionID, "booking_id", created.BookingID)
		sess.Stage = StageBookingError
		return turn{reply: e.replies.ServiceError()}
	}

	sess.BookingID = created.BookingID
	sess.BookingReference = created.Reference
	sess.SecretCode = created.SecretCode
	sess.OTPCode = otp
	sess.Stage = StageVerifyingOTP

	emailSent := e.sendVerification(ctx, sess)
	return turn{reply: e.replies.BookingCreated(sess, emailSent)}
}

func (e *Engine) handleOTP(ctx context.Context, sess *Session, text string) turn {
	code, ok := ExtractCode(text, otpDigits)
	if !ok {
		return turn{reply: e.replies.OTPNotUnderstood()}
	}
	if code != sess.OTPCode {
		return turn{reply: e.replies.OTPInvalid()}
	}

	verified, err := e.bookings.VerifyOTP(ctx, sess.BookingReference, code)
	if errors.Is(err, bookings.ErrDateUnavailable) {
		e.logger.Info("booking date confirmed by another booking first", "session_id", sess.SessionID, "booking_reference", sess.BookingReference)
		sess.Stage = StageDateUnavailable
		return turn{reply: e.replies.DeadEnd(StageDateUnavailable)}
	}
	if err != nil {
		e.collaboratorFailed("verify_otp", err, "session_id", sess.SessionID, "booking_reference", sess.BookingReference)
		sess.Stage = StageVerificationError
		return turn{reply: e.replies.ServiceError()}
	}
	if !verified {
		// Expired and already used codes get the same reply as wrong ones.
		return turn{reply: e.replies.OTPInvalid()}
	}

	sess.Stage = StageBookingConfirmed
	emailSent := e.sendConfirmation(ctx, sess)
	return turn{reply: e.replies.BookingConfirmed(sess, emailSent)}
}

func (e *Engine) handleInquiry(ctx context.Context, sess *Session, text string) turn {
	code, ok := ExtractCode(text, secretCodeDigits)
	if !ok {
		return turn{reply: e.replies.SecretCodeNotUnderstood()}
	}

	b, err := e.bookings.GetBySecretCode(ctx, code)
	if err != nil {
		e.collaboratorFailed("get_booking", err, "session_id", sess.SessionID)
		sess.Stage = StageCheckingError
		return turn{reply: e.replies.ServiceError()}
	}
	if b == nil {
		sess.Stage = StageBookingNotFound
		return turn{reply: e.replies.BookingNotFound()}
	}

	snap := e.snapshot(b)
	if b.Status == bookings.StatusConfirmed && snap.DaysRemaining > 0 {
		sess.Booking = snap
		sess.BookingReference = b.Reference
		sess.BookingDate = b.Date
		sess.SecretCode = code
		sess.Stage = StageCancellingBooking
		return turn{reply: e.replies.OfferCancellation(snap)}
	}
	return turn{reply: e.replies.BookingInfo(snap), reset: true}
}

func (e *Engine) handleCancellationCode(ctx context.Context, sess *Session, text string) turn {
	code, ok := ExtractCode(text, secretCodeDigits)
	if !ok {
		return turn{reply: e.replies.SecretCodeNotUnderstood()}
	}

	b, err := e.bookings.GetBySecretCode(ctx, code)
	if err != nil {
		e.collaboratorFailed("get_booking", err, "session_id", sess.SessionID)
		sess.Stage = StageCheckingError
		return turn{reply: e.replies.ServiceError()}
	}
	if b == nil {
		sess.Stage = StageBookingNotFound
		return turn{reply: e.replies.BookingNotFound()}
	}

	snap := e.snapshot(b)
	sess.Booking = snap
	sess.BookingReference = b.Reference
	sess.BookingDate = b.Date
	sess.SecretCode = code
	sess.Stage = StageConfirmCancellation
	return turn{reply: e.replies.ConfirmCancellation(snap)}
}

// handleCancellationAnswer runs once the secret code is known. A bare cancel
// keyword counts as yes since the question is whether to cancel. A message
// that reads as both yes and no cancels nothing.
func (e *Engine) handleCancellationAnswer(ctx context.Context, sess *Session, text string) turn {
	yes, no := e.classifier.IsAffirmative(text), e.classifier.IsNegative(text)
	if yes && no {
		return turn{reply: e.replies.AskYesNo()}
	}
	if !yes && !no && e.classifier.Classify(text) == IntentCancel {
		yes = true
	}

	switch {
	case yes:
		cancelled, err := e.bookings.CancelBooking(ctx, sess.SecretCode)
		if err != nil {
			e.collaboratorFailed("cancel_booking", err, "session_id", sess.SessionID, "booking_reference", sess.BookingReference)
			sess.Stage = StageCancellationError
			return turn{reply: e.replies.ServiceError()}
		}
		if !cancelled {
			sess.Stage = StageCancellationError
			return turn{reply: e.replies.CancellationFailed()}
		}
		sess.Stage = StageCancellationConfirmed
		return turn{reply: e.replies.BookingCancelled(sess)}
	case no:
		sess.Stage = StageCancellationAborted
		return turn{reply: e.replies.CancellationAborted()}
	default:
		return turn{reply: e.replies.AskYesNo()}
	}
}

func (e *Engine) sendVerification(ctx context.Context, sess *Session) bool {
	if e.mailer == nil {
		return false
	}
	err := e.mailer.SendVerification(ctx, notify.VerificationEmail{
		To:           sess.CustomerEmail,
		CustomerName: sess.CustomerName,
		BookingDate:  sess.BookingDate,
		Reference:    sess.BookingReference,
		OTPCode:      sess.OTPCode,
	})
	if err != nil {
		e.collaboratorFailed("send_verification_email", err, "session_id", sess.SessionID, "booking_reference", sess.BookingReference)
		return false
	}
	return true
}

func (e *Engine) sendConfirmation(ctx context.Context, sess *Session) bool {
	if e.mailer == nil {
		return false
	}
	err := e.mailer.SendConfirmation(ctx, notify.ConfirmationEmail{
		To:           sess.CustomerEmail,
		CustomerName: sess.CustomerName,
		BookingDate:  sess.BookingDate,
		Reference:    sess.BookingReference,
		SecretCode:   sess.SecretCode,
	})
	if err != nil {
		e.collaboratorFailed("send_confirmation_email", err, "session_id", sess.SessionID, "booking_reference", sess.BookingReference)
		return false
	}
	return true
}

func (e *Engine) snapshot(b *bookings.Booking) *BookingSnapshot {
	return &BookingSnapshot{
		Reference:     b.Reference,
		Date:          b.Date,
		Status:        string(b.Status),
		DaysRemaining: bookings.DaysRemaining(b, e.now(), e.location),
	}
}

func (e *Engine) today() string {
	return e.now().In(e.location).Format(bookings.DateLayout)
}

func (e *Engine) collaboratorFailed(operation string, err error, args ...any) {
	e.metrics.ObserveCollaboratorError(operation)
	e.logger.Error("conversation collaborator failed", append([]any{"operation", operation, "error", err}, args...)...)
}
