package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	"github.com/wolfman30/resthouse-booking/internal/http/middleware"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// AdminBookingStore is what the admin panel needs from the bookings service.
type AdminBookingStore interface {
	List(ctx context.Context) ([]*bookings.Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status bookings.Status) error
}

// AdminCredentials configures the single admin account. PasswordHash (bcrypt)
// takes precedence over the plain Password.
type AdminCredentials struct {
	Username     string
	Password     string
	PasswordHash string
	JWTSecret    string
	SessionTTL   time.Duration
	SecureCookie bool
}

// AdminBookingsHandler serves login/logout and booking management for the admin panel.
type AdminBookingsHandler struct {
	store  AdminBookingStore
	creds  AdminCredentials
	now    func() time.Time
	logger *logging.Logger
}

func NewAdminBookingsHandler(store AdminBookingStore, creds AdminCredentials, logger *logging.Logger) *AdminBookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if creds.SessionTTL <= 0 {
		creds.SessionTTL = 24 * time.Hour
	}
	return &AdminBookingsHandler{store: store, creds: creds, now: time.Now, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/admin/login.
func (h *AdminBookingsHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !h.checkCredentials(req.Username, req.Password) {
		h.logger.Warn("admin login rejected", "username", req.Username, "remote_ip", r.RemoteAddr)
		jsonError(w, "اسم المستخدم أو كلمة المرور غير صحيحة", http.StatusUnauthorized)
		return
	}

	now := h.now()
	token, err := middleware.IssueAdminToken(h.creds.JWTSecret, h.creds.Username, h.creds.SessionTTL, now)
	if err != nil {
		h.logger.Error("admin token signing failed", "error", err)
		jsonError(w, "حدث خطأ أثناء تسجيل الدخول", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(h.creds.SessionTTL),
		MaxAge:   int(h.creds.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.creds.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("admin logged in", "username", h.creds.Username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (h *AdminBookingsHandler) checkCredentials(username, password string) bool {
	if h.creds.Username == "" || password == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(h.creds.Username)) != 1 {
		return false
	}
	if h.creds.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.creds.PasswordHash), []byte(password)) == nil
	}
	if h.creds.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(h.creds.Password)) == 1
}

// Logout handles POST /api/admin/logout.
func (h *AdminBookingsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.creds.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type adminBookingView struct {
	*bookings.Booking
	SecretCode string `json:"secret_code"`
}

// ListBookings handles GET /api/admin/bookings.
func (h *AdminBookingsHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("admin list bookings failed", "error", err)
		jsonError(w, "failed to fetch bookings", http.StatusInternalServerError)
		return
	}
	out := make([]adminBookingView, 0, len(list))
	for _, b := range list {
		out = append(out, adminBookingView{Booking: b, SecretCode: b.SecretCode})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

// DeleteBooking handles DELETE /api/admin/bookings/{id}.
func (h *AdminBookingsHandler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	err := h.store.Delete(r.Context(), id)
	switch {
	case errors.Is(err, bookings.ErrBookingNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.logger.Error("admin delete booking failed", "error", err, "booking_id", id)
		jsonError(w, "failed to delete booking", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// UpdateStatus handles PUT /api/admin/bookings/{id}/status.
func (h *AdminBookingsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, err := bookings.ParseStatus(req.Status)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.store.UpdateStatus(r.Context(), id, status)
	switch {
	case errors.Is(err, bookings.ErrBookingNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bookings.ErrInvalidStatus):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		h.logger.Error("admin update status failed", "error", err, "booking_id", id)
		jsonError(w, "failed to update booking status", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
	}
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid booking id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
