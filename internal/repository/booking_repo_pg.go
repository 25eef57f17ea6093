package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type BookingRepository interface {
	CreatePending(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
	ListByRoomAndRange(ctx context.Context, roomID string, start, end time.Time, exclude []domain.BookingStatus) ([]domain.Booking, error)
	UpdateStatusConditional(ctx context.Context, id string, expected, next domain.BookingStatus, upd domain.BookingUpdate) (*domain.Booking, error)
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error
	ListExpiredPending(ctx context.Context, createdBefore time.Time) ([]domain.Booking, error)
	ListReminderDue(ctx context.Context, from, to time.Time) ([]domain.Booking, error)
	MarkReminderSent(ctx context.Context, id string) (bool, error)
}

type PGBookingRepository struct {
	db DB
}

func NewBookingRepository(db DB) BookingRepository {
	return &PGBookingRepository{db: db}
}

var bookingColumns = []string{
	"id", "user_id", "user_email", "room_id", "room_name", "start_time", "end_time",
	"total_cents", "currency", "status", "payment_id", "payment_status",
	"created_at", "updated_at", "confirmed_at", "cancelled_at", "reminder_sent_at",
}

// CreatePending inserts a PENDING booking. The room is serialized with a
// transaction-scoped advisory lock, so the overlap check and the insert are atomic.
// The bookings_no_overlap exclusion constraint backs this up.
func (r *PGBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, booking.RoomID); err != nil {
		return fmt.Errorf("lock room %s: %w", booking.RoomID, err)
	}

	overlap, err := hasOverlap(ctx, tx, booking.RoomID, booking.StartTime, booking.EndTime)
	if err != nil {
		return err
	}
	if overlap {
		return domain.ErrSlotTaken
	}

	booking.Status = domain.BookingStatusPending
	sql, args, err := psql.Insert("bookings").
		Columns("id", "user_id", "user_email", "room_id", "room_name", "start_time", "end_time", "total_cents", "currency", "status").
		Values(booking.ID, booking.UserID, booking.UserEmail, booking.RoomID, booking.RoomName, booking.StartTime, booking.EndTime, booking.TotalCents, booking.Currency, string(booking.Status)).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create booking query failed: %w", err)
	}
	if err := tx.QueryRow(ctx, sql, args...).Scan(&booking.CreatedAt, &booking.UpdatedAt); err != nil {
		return mapError(err, domain.ErrBookingNotFound)
	}

	return tx.Commit(ctx)
}

func hasOverlap(ctx context.Context, q DB, roomID string, start, end time.Time) (bool, error) {
	sub, args, err := psql.Select("1").
		From("bookings").
		Where(squirrel.Eq{"room_id": roomID}).
		Where(squirrel.NotEq{"status": string(domain.BookingStatusCancelled)}).
		Where(squirrel.Lt{"start_time": end}).
		Where(squirrel.Gt{"end_time": start}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build check overlap query failed: %w", err)
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS ("+sub+")", args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check overlap failed: %w", err)
	}
	return exists, nil
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	sql, args, err := psql.Select(bookingColumns...).From("bookings").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}
	b, err := scanBooking(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapError(err, domain.ErrBookingNotFound)
	}
	return b, nil
}

func (r *PGBookingRepository) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	return r.list(ctx, psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("start_time DESC"))
}

func (r *PGBookingRepository) ListByRoomAndRange(ctx context.Context, roomID string, start, end time.Time, exclude []domain.BookingStatus) ([]domain.Booking, error) {
	query := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"room_id": roomID}).
		Where(squirrel.Lt{"start_time": end}).
		Where(squirrel.Gt{"end_time": start})
	if len(exclude) > 0 {
		query = query.Where(squirrel.NotEq{"status": statusStrings(exclude)})
	}
	return r.list(ctx, query.OrderBy("start_time ASC"))
}

func (r *PGBookingRepository) UpdateStatusConditional(ctx context.Context, id string, expected, next domain.BookingStatus, upd domain.BookingUpdate) (*domain.Booking, error) {
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s is not allowed", domain.ErrInvalidState, expected, next)
	}

	query := psql.Update("bookings").
		Set("status", string(next)).
		Set("updated_at", squirrel.Expr("now()"))
	if upd.PaymentID != nil {
		query = query.Set("payment_id", *upd.PaymentID)
	}
	if upd.PaymentStatus != domain.PaymentStatusNone {
		query = query.Set("payment_status", string(upd.PaymentStatus))
	}
	if upd.ConfirmedAt != nil {
		query = query.Set("confirmed_at", *upd.ConfirmedAt)
	}
	if upd.CancelledAt != nil {
		query = query.Set("cancelled_at", *upd.CancelledAt)
	}

	sql, args, err := query.
		Where(squirrel.Eq{"id": id, "status": string(expected)}).
		Suffix("RETURNING " + joinColumns(bookingColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update booking status query failed: %w", err)
	}

	b, err := scanBooking(r.db.QueryRow(ctx, sql, args...))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update booking status failed: %w", err)
	}

	// Либо брони нет, либо статус уже сменился.
	var current domain.BookingStatus
	if err := r.db.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&current); err != nil {
		return nil, mapError(err, domain.ErrBookingNotFound)
	}
	return nil, fmt.Errorf("%w: booking %s is %s, expected %s", domain.ErrInvalidState, id, current, expected)
}

func (r *PGBookingRepository) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	ct, err := r.db.Exec(ctx, `UPDATE bookings SET payment_status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update booking payment status failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *PGBookingRepository) ListExpiredPending(ctx context.Context, createdBefore time.Time) ([]domain.Booking, error) {
	return r.list(ctx, psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"status": string(domain.BookingStatusPending)}).
		Where(squirrel.LtOrEq{"created_at": createdBefore}).
		OrderBy("created_at ASC"))
}

func (r *PGBookingRepository) ListReminderDue(ctx context.Context, from, to time.Time) ([]domain.Booking, error) {
	return r.list(ctx, psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"status": string(domain.BookingStatusConfirmed), "reminder_sent_at": nil}).
		Where(squirrel.GtOrEq{"start_time": from}).
		Where(squirrel.Lt{"start_time": to}).
		OrderBy("start_time ASC"))
}

// MarkReminderSent reports false when another sweep already claimed the reminder.
func (r *PGBookingRepository) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	ct, err := r.db.Exec(ctx, `UPDATE bookings SET reminder_sent_at = now() WHERE id = $1 AND reminder_sent_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent failed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PGBookingRepository) list(ctx context.Context, query squirrel.SelectBuilder) ([]domain.Booking, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bookings query failed: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	if err := row.Scan(
		&b.ID, &b.UserID, &b.UserEmail, &b.RoomID, &b.RoomName, &b.StartTime, &b.EndTime,
		&b.TotalCents, &b.Currency, &b.Status, &b.PaymentID, &b.PaymentStatus,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CancelledAt, &b.ReminderSentAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
