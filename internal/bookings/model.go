package bookings

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the canonical booking date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// DefaultPrice is the price of one day in Libyan dinars.
const DefaultPrice = 250

var (
	// ErrBookingNotFound is returned when no booking matches the lookup.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrInvalidStatus is returned for a status outside pending/confirmed/cancelled.
	ErrInvalidStatus = errors.New("invalid booking status")

	// ErrInvalidDate is returned when a date is not a valid YYYY-MM-DD value.
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrDateUnavailable is returned when a confirmed booking already holds the date.
	ErrDateUnavailable = errors.New("selected date is not available")

	// ErrDatePast is returned when a booking is requested for a day before today.
	ErrDatePast = errors.New("booking date is in the past")

	// ErrInvalidRange is returned when an availability range is reversed or too long.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrMissingFields is returned when a booking request lacks required fields.
	ErrMissingFields = errors.New("customer name, phone, email and booking date are required")

	// ErrDuplicateCode is returned by repositories when a generated reference or
	// secret code collides with an existing row.
	ErrDuplicateCode = errors.New("booking reference or secret code already in use")
)

// Status is the lifecycle state of a booking row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Booking is a single-day reservation of the rest house.
type Booking struct {
	ID            uuid.UUID `json:"id"`
	Reference     string    `json:"booking_reference"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Date          string    `json:"booking_date"`
	Price         int       `json:"price"`
	Status        Status    `json:"status"`
	SecretCode    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewBooking carries the fields collected from the customer.
type NewBooking struct {
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
	BookingDate   string `json:"bookingDate"`
}

// Validate checks that every field is present and the date parses.
func (n NewBooking) Validate() error {
	if strings.TrimSpace(n.CustomerName) == "" ||
		strings.TrimSpace(n.CustomerPhone) == "" ||
		strings.TrimSpace(n.CustomerEmail) == "" ||
		strings.TrimSpace(n.BookingDate) == "" {
		return ErrMissingFields
	}
	if _, err := ParseDate(n.BookingDate); err != nil {
		return err
	}
	return nil
}

// Created is returned after a pending booking has been inserted.
type Created struct {
	BookingID  uuid.UUID
	Reference  string
	SecretCode string
}

// DateAvailability reports whether a calendar day can still be booked.
type DateAvailability struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// DaysRemaining counts whole calendar days from now's date (in loc) to the
// booking date. Past bookings yield a negative number.
func DaysRemaining(b *Booking, now time.Time, loc *time.Location) int {
	if b == nil {
		return 0
	}
	date, err := ParseDate(b.Date)
	if err != nil {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return int(date.Sub(today).Hours() / 24)
}
