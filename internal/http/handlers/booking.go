package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	"github.com/wolfman30/resthouse-booking/internal/notify"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// BookingService is the subset of bookings.Service the public API needs.
type BookingService interface {
	CheckDateAvailability(ctx context.Context, date string) (bool, error)
	CreateBooking(ctx context.Context, req bookings.NewBooking) (*bookings.Created, error)
	CreateVerificationCode(ctx context.Context, bookingID uuid.UUID) (string, error)
	VerifyOTP(ctx context.Context, reference, code string) (bool, error)
	GetByReference(ctx context.Context, reference string) (*bookings.Booking, error)
	GetBySecretCode(ctx context.Context, secretCode string) (*bookings.Booking, error)
	CancelBooking(ctx context.Context, secretCode string) (bool, error)
	AvailableDates(ctx context.Context, start, end string) ([]bookings.DateAvailability, error)
	DaysRemaining(b *bookings.Booking) int
	Today() string
}

// Mailer sends booking emails.
type Mailer interface {
	SendVerification(ctx context.Context, v notify.VerificationEmail) error
	SendConfirmation(ctx context.Context, c notify.ConfirmationEmail) error
}

// BookingHandler serves the public booking REST API used by the booking form
// and the manage-booking page.
type BookingHandler struct {
	bookings BookingService
	mailer   Mailer
	logger   *logging.Logger
}

func NewBookingHandler(svc BookingService, mailer Mailer, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{bookings: svc, mailer: mailer, logger: logger}
}

type createBookingResponse struct {
	Success          bool   `json:"success"`
	BookingReference string `json:"bookingReference"`
	Message          string `json:"message"`
	// OTPCode is only returned when the verification email could not be sent.
	OTPCode string `json:"otpCode,omitempty"`
}

// CreateBooking handles POST /api/booking.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookings.NewBooking
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, _ := bookings.ParseDate(req.BookingDate)
	req.BookingDate = date.Format(bookings.DateLayout)
	if req.BookingDate < h.bookings.Today() {
		jsonError(w, bookings.ErrDatePast.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	available, err := h.bookings.CheckDateAvailability(ctx, req.BookingDate)
	if err != nil {
		h.logger.Error("availability check failed", "error", err, "booking_date", req.BookingDate)
		jsonError(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	if !available {
		jsonError(w, bookings.ErrDateUnavailable.Error(), http.StatusConflict)
		return
	}

	created, err := h.bookings.CreateBooking(ctx, req)
	if err != nil {
		h.logger.Error("create booking failed", "error", err)
		jsonError(w, "failed to create booking", http.StatusInternalServerError)
		return
	}
	otp, err := h.bookings.CreateVerificationCode(ctx, created.BookingID)
	if err != nil {
		h.logger.Error("create verification code failed", "error", err, "booking_id", created.BookingID)
		jsonError(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	resp := createBookingResponse{
		Success:          true,
		BookingReference: created.Reference,
		Message:          "verification code sent to email",
	}
	if err := h.sendVerification(ctx, req, created.Reference, otp); err != nil {
		h.logger.Warn("verification email failed", "error", err, "booking_reference", created.Reference)
		resp.Message = "verification email could not be sent"
		resp.OTPCode = otp
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) sendVerification(ctx context.Context, req bookings.NewBooking, reference, otp string) error {
	if h.mailer == nil {
		return errors.New("mailer not configured")
	}
	return h.mailer.SendVerification(ctx, notify.VerificationEmail{
		To:           req.CustomerEmail,
		CustomerName: req.CustomerName,
		BookingDate:  req.BookingDate,
		Reference:    reference,
		OTPCode:      otp,
	})
}

type verifyRequest struct {
	BookingReference string `json:"bookingReference"`
	OTPCode          string `json:"otpCode"`
}

// Verify handles POST /api/verify.
func (h *BookingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.BookingReference = strings.TrimSpace(req.BookingReference)
	req.OTPCode = strings.TrimSpace(req.OTPCode)
	if req.BookingReference == "" || req.OTPCode == "" {
		jsonError(w, "booking reference and otp code are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ok, err := h.bookings.VerifyOTP(ctx, req.BookingReference, req.OTPCode)
	if errors.Is(err, bookings.ErrDateUnavailable) {
		jsonError(w, bookings.ErrDateUnavailable.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("verify otp failed", "error", err, "booking_reference", req.BookingReference)
		jsonError(w, "failed to verify booking", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "invalid or expired verification code", http.StatusBadRequest)
		return
	}

	b, err := h.bookings.GetByReference(ctx, req.BookingReference)
	if err != nil || b == nil {
		h.logger.Error("load verified booking failed", "error", err, "booking_reference", req.BookingReference)
		jsonError(w, "failed to verify booking", http.StatusInternalServerError)
		return
	}

	emailSent := false
	if h.mailer != nil && b.CustomerEmail != "" {
		err := h.mailer.SendConfirmation(ctx, notify.ConfirmationEmail{
			To:           b.CustomerEmail,
			CustomerName: b.CustomerName,
			BookingDate:  b.Date,
			Reference:    b.Reference,
			SecretCode:   b.SecretCode,
		})
		if err != nil {
			h.logger.Warn("confirmation email failed", "error", err, "booking_reference", b.Reference)
		} else {
			emailSent = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "booking confirmed",
		"secretCode": b.SecretCode,
		"emailSent":  emailSent,
	})
}

type bookingView struct {
	Reference     string `json:"reference"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	CustomerName  string `json:"customerName"`
	DaysRemaining int    `json:"daysRemaining"`
}

// GetBooking handles GET /api/booking/{secretCode}.
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	secretCode := strings.TrimSpace(chi.URLParam(r, "secretCode"))
	if secretCode == "" {
		jsonError(w, "secret code is required", http.StatusBadRequest)
		return
	}

	b, err := h.bookings.GetBySecretCode(r.Context(), secretCode)
	if err != nil {
		h.logger.Error("get booking failed", "error", err)
		jsonError(w, "failed to fetch booking", http.StatusInternalServerError)
		return
	}
	if b == nil {
		jsonError(w, bookings.ErrBookingNotFound.Error(), http.StatusNotFound)
		return
	}

	days := h.bookings.DaysRemaining(b)
	if days < 0 {
		days = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking": bookingView{
			Reference:     b.Reference,
			Date:          b.Date,
			Status:        string(b.Status),
			CustomerName:  b.CustomerName,
			DaysRemaining: days,
		},
	})
}

// CancelBooking handles DELETE /api/booking/{secretCode}.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	secretCode := strings.TrimSpace(chi.URLParam(r, "secretCode"))
	if secretCode == "" {
		jsonError(w, "secret code is required", http.StatusBadRequest)
		return
	}

	ok, err := h.bookings.CancelBooking(r.Context(), secretCode)
	if err != nil {
		h.logger.Error("cancel booking failed", "error", err)
		jsonError(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}
	if !ok {
		jsonError(w, "booking not found or not confirmed", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "booking cancelled"})
}

// Availability handles GET /api/availability?start_date=&end_date=.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	start := strings.TrimSpace(r.URL.Query().Get("start_date"))
	end := strings.TrimSpace(r.URL.Query().Get("end_date"))
	if start == "" || end == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "start_date and end_date are required",
			"dates": []bookings.DateAvailability{},
		})
		return
	}

	dates, err := h.bookings.AvailableDates(r.Context(), start, end)
	switch {
	case errors.Is(err, bookings.ErrInvalidDate), errors.Is(err, bookings.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": err.Error(),
			"dates": []bookings.DateAvailability{},
		})
		return
	case err != nil:
		h.logger.Error("availability lookup failed", "error", err, "start_date", start, "end_date", end)
		jsonError(w, "failed to fetch availability", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}
