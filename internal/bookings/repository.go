package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists bookings and their verification codes.
type Repository interface {
	CountConfirmedOn(ctx context.Context, date string) (int, error)
	Insert(ctx context.Context, b *Booking) error
	InsertVerificationCode(ctx context.Context, bookingID uuid.UUID, code string, expiresAt time.Time) error
	// ConsumeVerificationCode marks a matching, unexpired, unused code as verified
	// and confirms its pending booking. It reports false when nothing matched and
	// ErrDateUnavailable when another booking already holds the date.
	ConsumeVerificationCode(ctx context.Context, reference, code string, now time.Time) (bool, error)
	// CancelStalePending cancels pending bookings created before the cutoff,
	// releasing their references.
	CancelStalePending(ctx context.Context, createdBefore time.Time) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	CancelConfirmed(ctx context.Context, secretCode string) (bool, error)
	GetBySecretCode(ctx context.Context, secretCode string) (*Booking, error)
	GetByReference(ctx context.Context, reference string) (*Booking, error)
	ConfirmedDatesBetween(ctx context.Context, start, end string) ([]string, error)
	List(ctx context.Context) ([]*Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// pgxDB is the subset of pgxpool.Pool used by PostgresRepository.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores bookings in PostgreSQL.
type PostgresRepository struct {
	db pgxDB
}

// NewPostgresRepository creates a repository backed by pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting mocks for tests.
func NewPostgresRepositoryWithDB(db pgxDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const bookingColumns = `id, booking_reference, customer_name, customer_phone, customer_email,
		booking_date::text, price, status, secret_code, created_at`

func (r *PostgresRepository) CountConfirmedOn(ctx context.Context, date string) (int, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE booking_date = $1::date AND status = 'confirmed'`,
		date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("bookings: count confirmed: %w", err)
	}
	return int(count), nil
}

func (r *PostgresRepository) Insert(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	query := `
		INSERT INTO bookings (
			id, booking_reference, customer_name, customer_phone, customer_email,
			booking_date, price, status, secret_code
		) VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		b.ID,
		b.Reference,
		b.CustomerName,
		b.CustomerPhone,
		b.CustomerEmail,
		b.Date,
		b.Price,
		string(b.Status),
		b.SecretCode,
	).Scan(&b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("bookings: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertVerificationCode(ctx context.Context, bookingID uuid.UUID, code string, expiresAt time.Time) error {
	query := `
		INSERT INTO verification_codes (id, booking_id, otp_code, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, uuid.New(), bookingID, code, expiresAt); err != nil {
		return fmt.Errorf("bookings: insert verification code: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ConsumeVerificationCode(ctx context.Context, reference, code string, now time.Time) (bool, error) {
	query := `
		WITH target AS (
			SELECT vc.id AS code_id, b.id AS booking_id,
				EXISTS (
					SELECT 1 FROM bookings c
					WHERE c.booking_date = b.booking_date
					  AND c.status = 'confirmed'
					  AND c.id <> b.id
				) AS date_taken
			FROM verification_codes vc
			JOIN bookings b ON b.id = vc.booking_id
			WHERE b.booking_reference = $1
			  AND b.status = 'pending'
			  AND vc.otp_code = $2
			  AND vc.verified = false
			  AND vc.expires_at > $3
			ORDER BY vc.created_at DESC
			LIMIT 1
			FOR UPDATE OF vc, b
		), used AS (
			UPDATE verification_codes
			SET verified = true, verified_at = $3
			WHERE id = (SELECT code_id FROM target WHERE NOT date_taken)
			RETURNING booking_id
		), confirmed AS (
			UPDATE bookings
			SET status = 'confirmed', updated_at = $3
			WHERE id = (SELECT booking_id FROM used)
			RETURNING id
		)
		SELECT
			(SELECT COUNT(*) FROM confirmed),
			COALESCE((SELECT date_taken FROM target), false)
	`
	var (
		confirmed int64
		dateTaken bool
	)
	if err := r.db.QueryRow(ctx, query, reference, code, now).Scan(&confirmed, &dateTaken); err != nil {
		if isConfirmedDateViolation(err) {
			return false, ErrDateUnavailable
		}
		return false, fmt.Errorf("bookings: consume verification code: %w", err)
	}
	if dateTaken {
		return false, ErrDateUnavailable
	}
	return confirmed == 1, nil
}

func (r *PostgresRepository) CancelStalePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	ct, err := r.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled', updated_at = now() WHERE status = 'pending' AND created_at < $1`,
		createdBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("bookings: cancel stale pending: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	ct, err := r.db.Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		if isConfirmedDateViolation(err) {
			return ErrDateUnavailable
		}
		return fmt.Errorf("bookings: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PostgresRepository) CancelConfirmed(ctx context.Context, secretCode string) (bool, error) {
	ct, err := r.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled', updated_at = now() WHERE secret_code = $1 AND status = 'confirmed'`,
		secretCode,
	)
	if err != nil {
		return false, fmt.Errorf("bookings: cancel: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetBySecretCode(ctx context.Context, secretCode string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE secret_code = $1`, secretCode)
	return scanBooking(row)
}

func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_reference = $1 ORDER BY created_at DESC LIMIT 1`,
		reference,
	)
	return scanBooking(row)
}

func (r *PostgresRepository) ConfirmedDatesBetween(ctx context.Context, start, end string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT booking_date::text
		FROM bookings
		WHERE status = 'confirmed' AND booking_date BETWEEN $1::date AND $2::date
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("bookings: confirmed dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("bookings: scan confirmed date: %w", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bookings: delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	if err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.CustomerName,
		&b.CustomerPhone,
		&b.CustomerEmail,
		&b.Date,
		&b.Price,
		&status,
		&b.SecretCode,
		&b.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("bookings: scan: %w", err)
	}
	b.Status = Status(status)
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// confirmedDateIndex allows one confirmed booking per date.
const confirmedDateIndex = "bookings_confirmed_date_key"

func isConfirmedDateViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == confirmedDateIndex
}
