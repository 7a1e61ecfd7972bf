package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryCode struct {
	bookingID uuid.UUID
	code      string
	expiresAt time.Time
	verified  bool
	createdAt time.Time
}

// MemoryRepository keeps bookings in process memory. It backs local runs
// without DATABASE_URL and the conversation tests.
type MemoryRepository struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
	codes    []*memoryCode
	now      func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bookings: make(map[uuid.UUID]*Booking),
		now:      time.Now,
	}
}

func (r *MemoryRepository) CountConfirmedOn(_ context.Context, date string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, b := range r.bookings {
		if b.Date == date && b.Status == StatusConfirmed {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) Insert(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bookings {
		if existing.SecretCode == b.SecretCode {
			return ErrDuplicateCode
		}
		// References are only reserved while the booking is live.
		if existing.Reference == b.Reference && existing.Status != StatusCancelled {
			return ErrDuplicateCode
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = r.now().UTC()
	stored := *b
	r.bookings[b.ID] = &stored
	return nil
}

func (r *MemoryRepository) InsertVerificationCode(_ context.Context, bookingID uuid.UUID, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[bookingID]; !ok {
		return ErrBookingNotFound
	}
	r.codes = append(r.codes, &memoryCode{
		bookingID: bookingID,
		code:      code,
		expiresAt: expiresAt,
		createdAt: r.now(),
	})
	return nil
}

func (r *MemoryRepository) ConsumeVerificationCode(_ context.Context, reference, code string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		vc := r.codes[i]
		b, ok := r.bookings[vc.bookingID]
		if !ok || b.Reference != reference || b.Status != StatusPending {
			continue
		}
		if vc.code != code || vc.verified || !vc.expiresAt.After(now) {
			continue
		}
		if r.dateTakenLocked(b) {
			return false, ErrDateUnavailable
		}
		vc.verified = true
		b.Status = StatusConfirmed
		return true, nil
	}
	return false, nil
}

func (r *MemoryRepository) CancelStalePending(_ context.Context, createdBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.bookings {
		if b.Status == StatusPending && b.CreatedAt.Before(createdBefore) {
			b.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

// dateTakenLocked reports whether another booking is confirmed on b's date.
func (r *MemoryRepository) dateTakenLocked(b *Booking) bool {
	for _, other := range r.bookings {
		if other.ID != b.ID && other.Date == b.Date && other.Status == StatusConfirmed {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if status == StatusConfirmed && b.Status != StatusConfirmed && r.dateTakenLocked(b) {
		return ErrDateUnavailable
	}
	b.Status = status
	return nil
}

func (r *MemoryRepository) CancelConfirmed(_ context.Context, secretCode string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.SecretCode == secretCode && b.Status == StatusConfirmed {
			b.Status = StatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) GetBySecretCode(_ context.Context, secretCode string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.SecretCode == secretCode {
			out := *b
			return &out, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (r *MemoryRepository) GetByReference(_ context.Context, reference string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Booking
	for _, b := range r.bookings {
		if b.Reference == reference && (latest == nil || b.CreatedAt.After(latest.CreatedAt)) {
			latest = b
		}
	}
	if latest == nil {
		return nil, ErrBookingNotFound
	}
	out := *latest
	return &out, nil
}

func (r *MemoryRepository) ConfirmedDatesBetween(_ context.Context, start, end string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dates []string
	for _, b := range r.bookings {
		// YYYY-MM-DD compares lexically in date order.
		if b.Status == StatusConfirmed && b.Date >= start && b.Date <= end {
			dates = append(dates, b.Date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Booking, 0, len(r.bookings))
	for _, b := range r.bookings {
		copied := *b
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[id]; !ok {
		return ErrBookingNotFound
	}
	delete(r.bookings, id)
	kept := r.codes[:0]
	for _, vc := range r.codes {
		if vc.bookingID != id {
			kept = append(kept, vc)
		}
	}
	r.codes = kept
	return nil
}
