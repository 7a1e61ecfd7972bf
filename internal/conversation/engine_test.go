package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	"github.com/wolfman30/resthouse-booking/internal/notify"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBookings wraps the real service so individual calls can fail.
type fakeBookings struct {
	*bookings.Service

	availabilityErr error
	createErr       error
	otpErr          error
	verifyErr       error
	lookupErr       error
	cancelErr       error
	panicOnCheck    bool
}

func (f *fakeBookings) CheckDateAvailability(ctx context.Context, date string) (bool, error) {
	if f.panicOnCheck {
		panic("availability exploded")
	}
	if f.availabilityErr != nil {
		return false, f.availabilityErr
	}
	return f.Service.CheckDateAvailability(ctx, date)
}

func (f *fakeBookings) CreateBooking(ctx context.Context, req bookings.NewBooking) (*bookings.Created, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.Service.CreateBooking(ctx, req)
}

func (f *fakeBookings) CreateVerificationCode(ctx context.Context, id uuid.UUID) (string, error) {
	if f.otpErr != nil {
		return "", f.otpErr
	}
	return f.Service.CreateVerificationCode(ctx, id)
}

func (f *fakeBookings) VerifyOTP(ctx context.Context, reference, code string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.Service.VerifyOTP(ctx, reference, code)
}

func (f *fakeBookings) GetBySecretCode(ctx context.Context, code string) (*bookings.Booking, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.Service.GetBySecretCode(ctx, code)
}

func (f *fakeBookings) CancelBooking(ctx context.Context, code string) (bool, error) {
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	return f.Service.CancelBooking(ctx, code)
}

type fakeMailer struct {
	mu            sync.Mutex
	verifyErr     error
	confirmErr    error
	verifications []notify.VerificationEmail
	confirmations []notify.ConfirmationEmail
}

func (m *fakeMailer) SendVerification(_ context.Context, v notify.VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verifyErr != nil {
		return m.verifyErr
	}
	m.verifications = append(m.verifications, v)
	return nil
}

func (m *fakeMailer) SendConfirmation(_ context.Context, c notify.ConfirmationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirmations = append(m.confirmations, c)
	return nil
}

type fakeFallback struct {
	reply string
	err   error
	calls int
}

func (f *fakeFallback) Respond(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type failingSessionStore struct{}

func (failingSessionStore) GetOrCreate(context.Context, string) (*Session, error) {
	return nil, errors.New("redis down")
}
func (failingSessionStore) Save(context.Context, *Session) error { return errors.New("redis down") }
func (failingSessionStore) Reset(context.Context, string) error  { return errors.New("redis down") }

func sequenceCodes(codes ...string) bookings.CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func(digits int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(codes) {
			return "", errors.New("out of codes")
		}
		code := codes[i]
		i++
		if len(code) != digits {
			return "", fmt.Errorf("want %d digits, got %q", digits, code)
		}
		return code, nil
	}
}

// counterCodes never repeats a code of the same length.
func counterCodes() bookings.CodeGenerator {
	var mu sync.Mutex
	next := map[int]int{4: 1000, 6: 100000}
	return func(digits int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n := next[digits]
		next[digits] = n + 1
		return fmt.Sprintf("%0*d", digits, n), nil
	}
}

type engineFixture struct {
	engine   *Engine
	sessions *MemorySessionStore
	bookings *fakeBookings
	mailer   *fakeMailer
	clock    *testClock
}

func newFixture(t *testing.T, codes bookings.CodeGenerator) *engineFixture {
	t.Helper()
	if codes == nil {
		codes = counterCodes()
	}
	clock := &testClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := bookings.NewService(bookings.NewMemoryRepository(), nil,
		bookings.WithClock(clock.Now),
		bookings.WithCodeGenerator(codes),
	)
	fb := &fakeBookings{Service: svc}
	mailer := &fakeMailer{}
	sessions := NewMemorySessionStore()
	engine := NewEngine(EngineConfig{
		Bookings: fb,
		Mailer:   mailer,
		Sessions: sessions,
		Clock:    clock.Now,
	})
	return &engineFixture{engine: engine, sessions: sessions, bookings: fb, mailer: mailer, clock: clock}
}

func (f *engineFixture) send(t *testing.T, sessionID, text string) Result {
	t.Helper()
	return f.engine.Process(context.Background(), sessionID, text)
}

func (f *engineFixture) session(t *testing.T, sessionID string) *Session {
	t.Helper()
	sess, err := f.sessions.GetOrCreate(context.Background(), sessionID)
	require.NoError(t, err)
	return sess
}

func (f *engineFixture) put(t *testing.T, sess *Session) {
	t.Helper()
	require.NoError(t, f.sessions.Save(context.Background(), sess))
}

// reachOTP walks a session up to verifying_otp for date.
func (f *engineFixture) reachOTP(t *testing.T, sessionID, date string) *Session {
	t.Helper()
	require.Equal(t, StageCollectingDate, f.send(t, sessionID, "أريد حجز استراحة").Stage)
	require.Equal(t, StageCollectingInfo, f.send(t, sessionID, date).Stage)
	require.Equal(t, StageConfirmingBooking, f.send(t, sessionID, "محمد علي 0912345678 m@example.com").Stage)
	require.Equal(t, StageVerifyingOTP, f.send(t, sessionID, "نعم").Stage)
	return f.session(t, sessionID)
}

// book completes a booking and returns its secret code.
func (f *engineFixture) book(t *testing.T, sessionID, date string) string {
	t.Helper()
	sess := f.reachOTP(t, sessionID, date)
	require.Equal(t, StageBookingConfirmed, f.send(t, sessionID, sess.OTPCode).Stage)
	return sess.SecretCode
}

func TestEngineBookingScenario(t *testing.T) {
	f := newFixture(t, sequenceCodes("1234", "654321", "4821"))
	c := NewComposer(bookings.DefaultPrice, false, nil)

	res := f.send(t, "web-1", "أريد حجز استراحة في تاريخ 2025-06-01")
	assert.Equal(t, StageCollectingDate, res.Stage)
	assert.Equal(t, c.AskDate(), res.Reply)

	res = f.send(t, "web-1", "2025-06-01")
	assert.Equal(t, StageCollectingInfo, res.Stage)
	assert.Equal(t, "2025-06-01", f.session(t, "web-1").BookingDate)

	res = f.send(t, "web-1", "محمد علي 0912345678 m@example.com")
	assert.Equal(t, StageConfirmingBooking, res.Stage)
	assert.Contains(t, res.Reply, "محمد علي")
	assert.Contains(t, res.Reply, "250")

	res = f.send(t, "web-1", "نعم")
	assert.Equal(t, StageVerifyingOTP, res.Stage)
	assert.Contains(t, res.Reply, "1234")
	assert.NotContains(t, res.Reply, "4821", "otp is emailed, not shown")
	assert.NotContains(t, res.Reply, "654321")
	require.Len(t, f.mailer.verifications, 1)
	assert.Equal(t, "4821", f.mailer.verifications[0].OTPCode)
	assert.Equal(t, "m@example.com", f.mailer.verifications[0].To)

	res = f.send(t, "web-1", "4821")
	assert.Equal(t, StageBookingConfirmed, res.Stage)
	assert.Contains(t, res.Reply, "654321")
	require.Len(t, f.mailer.confirmations, 1)
	assert.Equal(t, "654321", f.mailer.confirmations[0].SecretCode)

	stored, err := f.bookings.GetBySecretCode(context.Background(), "654321")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, bookings.StatusConfirmed, stored.Status)

	available, err := f.bookings.CheckDateAvailability(context.Background(), "2025-06-01")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestEngineCompletedStageStartsOver(t *testing.T) {
	f := newFixture(t, nil)
	f.book(t, "web-1", "2025-06-01")

	res := f.send(t, "web-1", "أريد حجز استراحة")
	assert.Equal(t, StageCollectingDate, res.Stage)
	sess := f.session(t, "web-1")
	assert.Empty(t, sess.SecretCode)
	assert.Empty(t, sess.BookingDate)
}

func TestEngineDateHandling(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.book(t, "owner", "2025-06-01")

	require.Equal(t, StageCollectingDate, f.send(t, "web-2", "حجز استراحة").Stage)

	tests := []struct {
		name  string
		input string
		reply string
	}{
		{"no date", "الأسبوع القادم", c.DateNotUnderstood()},
		{"impossible date", "2025-13-45", c.DateNotUnderstood()},
		{"past date", "2025-04-30", c.DatePast()},
		{"taken date", "2025-06-01", c.DateTaken("2025-06-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.send(t, "web-2", tt.input)
			assert.Equal(t, StageCollectingDate, res.Stage)
			assert.Equal(t, tt.reply, res.Reply)
		})
	}

	res := f.send(t, "web-2", "01/05/2025")
	assert.Equal(t, StageCollectingInfo, res.Stage, "today is bookable")
}

func TestEngineCollectingInfoNeedsAllFields(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.send(t, "web-1", "حجز استراحة")
	f.send(t, "web-1", "2025-06-01")

	res := f.send(t, "web-1", "محمد علي 0912345678")
	assert.Equal(t, StageCollectingInfo, res.Stage)
	assert.Equal(t, c.MissingInfo(true, true, false), res.Reply)
	assert.Empty(t, f.session(t, "web-1").CustomerName)
}

func TestEngineDeclinedConfirmationResets(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.send(t, "web-1", "حجز استراحة")
	f.send(t, "web-1", "2025-06-01")
	f.send(t, "web-1", "محمد علي 0912345678 m@example.com")

	res := f.send(t, "web-1", "لا")
	assert.Equal(t, StageInitial, res.Stage)
	assert.Equal(t, c.BookingAborted(), res.Reply)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestEngineDateTakenBeforeConfirmation(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, "slow", "حجز استراحة")
	f.send(t, "slow", "2025-06-02")
	f.send(t, "slow", "سارة أحمد 0923456789 s@example.com")

	f.book(t, "fast", "2025-06-02")

	res := f.send(t, "slow", "نعم")
	assert.Equal(t, StageDateUnavailable, res.Stage)
	assert.Equal(t, StageDateUnavailable, f.send(t, "slow", "نعم").Stage, "dead end until restart")
	assert.Equal(t, StageInitial, f.send(t, "slow", "من جديد").Stage)
}

func TestEngineSameDateVerifiedTwice(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	a := f.reachOTP(t, "a", "2025-06-01")
	b := f.reachOTP(t, "b", "2025-06-01")

	require.Equal(t, StageBookingConfirmed, f.send(t, "a", a.OTPCode).Stage)

	res := f.send(t, "b", b.OTPCode)
	assert.Equal(t, StageDateUnavailable, res.Stage)
	assert.Equal(t, c.DeadEnd(StageDateUnavailable), res.Reply)

	first, err := f.bookings.GetBySecretCode(context.Background(), a.SecretCode)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusConfirmed, first.Status)
	second, err := f.bookings.GetBySecretCode(context.Background(), b.SecretCode)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusPending, second.Status)
	assert.Len(t, f.mailer.confirmations, 1)
}

func TestEngineUnsureConfirmationCreatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	collect := func(sessionID string) {
		f.send(t, sessionID, "حجز استراحة")
		f.send(t, sessionID, "2025-06-01")
		f.send(t, sessionID, "محمد علي 0912345678 m@example.com")
	}

	collect("unsure")
	res := f.send(t, "unsure", "لست متأكدا")
	assert.Equal(t, StageInitial, res.Stage)
	assert.Equal(t, c.BookingAborted(), res.Reply)

	collect("mixed")
	res = f.send(t, "mixed", "نعم لا")
	assert.Equal(t, StageConfirmingBooking, res.Stage)
	assert.Equal(t, c.AskYesNo(), res.Reply)

	all, err := f.bookings.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEngineWrongAndExpiredOTP(t *testing.T) {
	f := newFixture(t, sequenceCodes("1234", "654321", "4821"))
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.reachOTP(t, "web-1", "2025-06-01")

	res := f.send(t, "web-1", "1111")
	assert.Equal(t, StageVerifyingOTP, res.Stage)
	assert.Equal(t, c.OTPInvalid(), res.Reply)

	res = f.send(t, "web-1", "رمزي")
	assert.Equal(t, StageVerifyingOTP, res.Stage)
	assert.Equal(t, c.OTPNotUnderstood(), res.Reply)

	f.clock.Advance(31 * time.Minute)
	res = f.send(t, "web-1", "4821")
	assert.Equal(t, StageVerifyingOTP, res.Stage)
	assert.Equal(t, c.OTPInvalid(), res.Reply)

	stored, err := f.bookings.GetBySecretCode(context.Background(), "654321")
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusPending, stored.Status)
}

func TestEngineShowsOTPWhenEmailFails(t *testing.T) {
	f := newFixture(t, sequenceCodes("1234", "654321", "4821"))
	f.mailer.verifyErr = errors.New("smtp refused")
	f.mailer.confirmErr = errors.New("smtp refused")

	f.send(t, "web-1", "حجز استراحة")
	f.send(t, "web-1", "2025-06-01")
	f.send(t, "web-1", "محمد علي 0912345678 m@example.com")
	res := f.send(t, "web-1", "نعم")
	assert.Equal(t, StageVerifyingOTP, res.Stage)
	assert.Contains(t, res.Reply, "4821")

	res = f.send(t, "web-1", "4821")
	assert.Equal(t, StageBookingConfirmed, res.Stage)
	assert.Contains(t, res.Reply, "654321")
}

func TestEngineResetFromEveryStage(t *testing.T) {
	stages := []Stage{
		StageCollectingDate, StageCollectingInfo, StageConfirmingBooking, StageVerifyingOTP,
		StageBookingConfirmed, StageCheckingBooking, StageCancellingBooking, StageConfirmCancellation,
		StageCancellationConfirmed, StageCancellationAborted, StageBookingError, StageVerificationError,
		StageCheckingError, StageCancellationError, StageBookingNotFound, StageDateUnavailable,
	}
	c := NewComposer(bookings.DefaultPrice, false, nil)
	for _, stage := range stages {
		for _, keyword := range []string{"من جديد", "restart"} {
			t.Run(string(stage)+"/"+keyword, func(t *testing.T) {
				f := newFixture(t, nil)
				sess := NewSession("web-1")
				sess.Stage = stage
				sess.BookingDate = "2025-06-01"
				sess.SecretCode = "654321"
				f.put(t, sess)

				res := f.send(t, "web-1", keyword)
				assert.Equal(t, StageInitial, res.Stage)
				assert.Equal(t, c.Restarted(), res.Reply)
				assert.Equal(t, 0, f.sessions.Len())
			})
		}
	}
}

func TestEngineDeadEndsRepeat(t *testing.T) {
	c := NewComposer(bookings.DefaultPrice, false, nil)
	for _, stage := range []Stage{StageBookingError, StageVerificationError, StageCheckingError, StageCancellationError, StageBookingNotFound, StageDateUnavailable} {
		t.Run(string(stage), func(t *testing.T) {
			f := newFixture(t, nil)
			sess := NewSession("web-1")
			sess.Stage = stage
			f.put(t, sess)

			res := f.send(t, "web-1", "أريد حجز استراحة")
			assert.Equal(t, stage, res.Stage)
			assert.Equal(t, c.DeadEnd(stage), res.Reply)
		})
	}
}

func TestEngineCollaboratorErrors(t *testing.T) {
	boom := errors.New("database unavailable")
	c := NewComposer(bookings.DefaultPrice, false, nil)

	t.Run("availability", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bookings.availabilityErr = boom
		f.send(t, "web-1", "حجز استراحة")
		res := f.send(t, "web-1", "2025-06-01")
		assert.Equal(t, StageBookingError, res.Stage)
		assert.Equal(t, c.ServiceError(), res.Reply)
	})

	t.Run("create booking", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bookings.createErr = boom
		f.send(t, "web-1", "حجز استراحة")
		f.send(t, "web-1", "2025-06-01")
		f.send(t, "web-1", "محمد علي 0912345678 m@example.com")
		res := f.send(t, "web-1", "نعم")
		assert.Equal(t, StageBookingError, res.Stage)
		assert.Empty(t, f.mailer.verifications)
	})

	t.Run("create otp", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bookings.otpErr = boom
		f.send(t, "web-1", "حجز استراحة")
		f.send(t, "web-1", "2025-06-01")
		f.send(t, "web-1", "محمد علي 0912345678 m@example.com")
		assert.Equal(t, StageBookingError, f.send(t, "web-1", "نعم").Stage)
	})

	t.Run("verify otp", func(t *testing.T) {
		f := newFixture(t, nil)
		sess := f.reachOTP(t, "web-1", "2025-06-01")
		f.bookings.verifyErr = boom
		res := f.send(t, "web-1", sess.OTPCode)
		assert.Equal(t, StageVerificationError, res.Stage)
		assert.Equal(t, c.ServiceError(), res.Reply)
	})

	t.Run("lookup", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bookings.lookupErr = boom
		f.send(t, "web-1", "استعلام عن حجزي")
		assert.Equal(t, StageCheckingError, f.send(t, "web-1", "654321").Stage)
	})

	t.Run("cancel", func(t *testing.T) {
		f := newFixture(t, nil)
		secret := f.book(t, "owner", "2025-06-01")
		f.bookings.cancelErr = boom
		f.send(t, "web-1", "إلغاء")
		f.send(t, "web-1", secret)
		res := f.send(t, "web-1", "نعم")
		assert.Equal(t, StageCancellationError, res.Stage)
		assert.Equal(t, c.ServiceError(), res.Reply)
	})
}

func TestEngineNeverPanics(t *testing.T) {
	f := newFixture(t, nil)
	f.bookings.panicOnCheck = true
	c := NewComposer(bookings.DefaultPrice, false, nil)

	f.send(t, "web-1", "حجز استراحة")
	var res Result
	assert.NotPanics(t, func() {
		res = f.send(t, "web-1", "2025-06-01")
	})
	assert.Equal(t, c.ServiceError(), res.Reply)

	e := NewEngine(EngineConfig{Bookings: f.bookings, Sessions: failingSessionStore{}})
	res = e.Process(context.Background(), "web-2", "مرحبا")
	assert.Equal(t, c.ServiceError(), res.Reply)
	assert.Equal(t, StageInitial, res.Stage)
}

func TestEngineInquiry(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	secret := f.book(t, "owner", "2025-06-01")

	res := f.send(t, "web-1", "استعلام عن حجزي")
	assert.Equal(t, StageCheckingBooking, res.Stage)
	assert.Equal(t, c.AskSecretCode(), res.Reply)

	res = f.send(t, "web-1", "رمزي 12")
	assert.Equal(t, StageCheckingBooking, res.Stage)
	assert.Equal(t, c.SecretCodeNotUnderstood(), res.Reply)

	res = f.send(t, "web-1", secret)
	assert.Equal(t, StageCancellingBooking, res.Stage)
	assert.Contains(t, res.Reply, "متبقي 31 يوم")
	sess := f.session(t, "web-1")
	assert.Equal(t, secret, sess.SecretCode)
	require.NotNil(t, sess.Booking)
	assert.Equal(t, 31, sess.Booking.DaysRemaining)

	res = f.send(t, "web-1", "لا")
	assert.Equal(t, StageCancellationAborted, res.Stage)
	assert.Equal(t, c.CancellationAborted(), res.Reply)

	available, err := f.bookings.CheckDateAvailability(context.Background(), "2025-06-01")
	require.NoError(t, err)
	assert.False(t, available)

	res = f.send(t, "web-1", "hello")
	assert.Equal(t, StageInitial, res.Stage)
	assert.Equal(t, c.Welcome(), res.Reply)
}

func TestEngineInquiryOnBookingDayEnds(t *testing.T) {
	f := newFixture(t, nil)
	secret := f.book(t, "owner", "2025-05-03")
	f.clock.Advance(48 * time.Hour)

	f.send(t, "web-1", "استعلام عن حجزي")
	res := f.send(t, "web-1", secret)
	assert.Equal(t, StageInitial, res.Stage)
	assert.Contains(t, res.Reply, "حجزك هو اليوم")
	assert.Equal(t, 1, f.sessions.Len(), "only the owner session remains")
}

func TestEngineInquiryNotFound(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.send(t, "web-1", "استعلام عن حجزي")
	res := f.send(t, "web-1", "999999")
	assert.Equal(t, StageBookingNotFound, res.Stage)
	assert.Equal(t, c.BookingNotFound(), res.Reply)
}

func TestEngineCancellation(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	secret := f.book(t, "owner", "2025-06-01")

	res := f.send(t, "web-1", "أريد إلغاء")
	assert.Equal(t, StageCancellingBooking, res.Stage)
	assert.Equal(t, c.AskSecretCodeToCancel(), res.Reply)

	res = f.send(t, "web-1", secret)
	assert.Equal(t, StageConfirmCancellation, res.Stage)

	res = f.send(t, "web-1", "ربما")
	assert.Equal(t, StageConfirmCancellation, res.Stage)
	assert.Equal(t, c.AskYesNo(), res.Reply)

	res = f.send(t, "web-1", "نعم")
	assert.Equal(t, StageCancellationConfirmed, res.Stage)
	assert.Contains(t, res.Reply, "2025-06-01")

	stored, err := f.bookings.GetBySecretCode(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusCancelled, stored.Status)

	available, err := f.bookings.CheckDateAvailability(context.Background(), "2025-06-01")
	require.NoError(t, err)
	assert.True(t, available)
}

func TestEngineCancelKeywordAnswersYes(t *testing.T) {
	f := newFixture(t, nil)
	secret := f.book(t, "owner", "2025-06-01")

	f.send(t, "web-1", "cancel")
	f.send(t, "web-1", secret)
	assert.Equal(t, StageCancellationConfirmed, f.send(t, "web-1", "إلغاء").Stage)
}

func TestEngineNegatedConfirmationKeepsBooking(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	secret := f.book(t, "owner", "2025-06-01")

	f.send(t, "web-1", "إلغاء")
	f.send(t, "web-1", secret)

	res := f.send(t, "web-1", "لا أريد التأكيد")
	assert.Equal(t, StageConfirmCancellation, res.Stage)
	assert.Equal(t, c.AskYesNo(), res.Reply)

	stored, err := f.bookings.GetBySecretCode(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusConfirmed, stored.Status)

	assert.Equal(t, StageCancellationAborted, f.send(t, "web-1", "لست متأكدا").Stage)
}

func TestEngineCancelMyBookingStartsCancellation(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)

	res := f.send(t, "web-1", "أريد إلغاء حجزي")
	assert.Equal(t, StageCancellingBooking, res.Stage)
	assert.Equal(t, c.AskSecretCodeToCancel(), res.Reply)
}

func TestEngineCancelPendingBookingFails(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	sess := f.reachOTP(t, "owner", "2025-06-01")

	f.send(t, "web-1", "إلغاء")
	f.send(t, "web-1", sess.SecretCode)
	res := f.send(t, "web-1", "نعم")
	assert.Equal(t, StageCancellationError, res.Stage)
	assert.Equal(t, c.CancellationFailed(), res.Reply)
}

func TestEngineFallback(t *testing.T) {
	f := newFixture(t, nil)
	fallback := &fakeFallback{reply: "أهلاً! كيف أساعدك؟"}
	e := NewEngine(EngineConfig{Bookings: f.bookings, Fallback: fallback})

	res := e.Process(context.Background(), "web-1", "السلام عليكم")
	assert.Equal(t, "أهلاً! كيف أساعدك؟", res.Reply)
	assert.Equal(t, StageInitial, res.Stage)

	res = e.Process(context.Background(), "web-1", "حجز استراحة")
	assert.Equal(t, StageCollectingDate, res.Stage)
	assert.Equal(t, 1, fallback.calls, "keywords win over the fallback")

	fallback.err = errors.New("quota exceeded")
	c := NewComposer(bookings.DefaultPrice, false, nil)
	res = e.Process(context.Background(), "web-2", "hello")
	assert.Equal(t, c.Welcome(), res.Reply)
}

func TestEngineSerializesSameSession(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		replies []string
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := f.engine.HandleMessage(context.Background(), "web-1", "أريد حجز استراحة")
			mu.Lock()
			replies = append(replies, reply)
			mu.Unlock()
		}()
	}
	wg.Wait()

	askDate := 0
	for _, r := range replies {
		if r == c.AskDate() {
			askDate++
		}
	}
	assert.Equal(t, 1, askDate)
	assert.Equal(t, StageCollectingDate, f.session(t, "web-1").Stage)
}

func TestEngineReset(t *testing.T) {
	f := newFixture(t, nil)
	c := NewComposer(bookings.DefaultPrice, false, nil)
	f.send(t, "web-1", "حجز استراحة")
	require.Equal(t, 1, f.sessions.Len())

	reply, err := f.engine.Reset(context.Background(), "web-1")
	require.NoError(t, err)
	assert.Equal(t, c.Welcome(), reply)
	assert.Equal(t, 0, f.sessions.Len())

	e := NewEngine(EngineConfig{Bookings: f.bookings, Sessions: failingSessionStore{}})
	_, err = e.Reset(context.Background(), "web-1")
	assert.Error(t, err)
}
