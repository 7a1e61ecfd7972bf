package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage is a step of the booking conversation.
type Stage string

const (
	StageInitial           Stage = "initial"
	StageCollectingDate    Stage = "collecting_date"
	StageCollectingInfo    Stage = "collecting_info"
	StageConfirmingBooking Stage = "confirming_booking"
	StageVerifyingOTP      Stage = "verifying_otp"
	StageBookingConfirmed  Stage = "booking_confirmed"

	StageCheckingBooking       Stage = "checking_booking"
	StageCancellingBooking     Stage = "cancelling_booking"
	StageConfirmCancellation   Stage = "confirm_cancellation"
	StageCancellationConfirmed Stage = "cancellation_confirmed"
	StageCancellationAborted   Stage = "cancellation_aborted"

	// Dead ends: the user has to start over.
	StageBookingError      Stage = "booking_error"
	StageVerificationError Stage = "verification_error"
	StageCheckingError     Stage = "checking_error"
	StageCancellationError Stage = "cancellation_error"
	StageBookingNotFound   Stage = "booking_not_found"
	StageDateUnavailable   Stage = "date_unavailable"
)

// IsDeadEnd reports whether the stage only accepts a restart.
func (s Stage) IsDeadEnd() bool {
	switch s {
	case StageBookingError, StageVerificationError, StageCheckingError,
		StageCancellationError, StageBookingNotFound, StageDateUnavailable:
		return true
	}
	return false
}

// IsCompleted reports whether a flow finished; the next message starts a new
// conversation.
func (s Stage) IsCompleted() bool {
	switch s {
	case StageBookingConfirmed, StageCancellationConfirmed, StageCancellationAborted:
		return true
	}
	return false
}

// BookingSnapshot is what an inquiry found for a secret code.
type BookingSnapshot struct {
	Reference     string `json:"reference"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	DaysRemaining int    `json:"days_remaining"`
}

// Session is the per-conversation state.
type Session struct {
	SessionID        string           `json:"session_id"`
	Stage            Stage            `json:"stage"`
	BookingDate      string           `json:"booking_date,omitempty"`
	CustomerName     string           `json:"customer_name,omitempty"`
	CustomerPhone    string           `json:"customer_phone,omitempty"`
	CustomerEmail    string           `json:"customer_email,omitempty"`
	BookingID        uuid.UUID        `json:"booking_id"`
	BookingReference string           `json:"booking_reference,omitempty"`
	SecretCode       string           `json:"secret_code,omitempty"`
	OTPCode          string           `json:"otp_code,omitempty"`
	Booking          *BookingSnapshot `json:"booking,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewSession returns a fresh session at the initial stage.
func NewSession(id string) *Session {
	return &Session{SessionID: id, Stage: StageInitial}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Booking != nil {
		b := *s.Booking
		out.Booking = &b
	}
	return &out
}

// SessionStore holds sessions keyed by id. Callers read-modify-write whole
// records; the engine serializes turns per session.
type SessionStore interface {
	// GetOrCreate returns the stored session or a fresh, unsaved one.
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Reset(ctx context.Context, id string) error
}
