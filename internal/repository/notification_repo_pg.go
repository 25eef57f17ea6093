package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Masterminds/squirrel"
)

type NotificationRepository interface {
	Create(ctx context.Context, record *domain.NotificationRecord) error
	ListByBooking(ctx context.Context, bookingID string) ([]domain.NotificationRecord, error)
}

type PGNotificationRepository struct {
	db DB
}

func NewNotificationRepository(db DB) NotificationRepository {
	return &PGNotificationRepository{db: db}
}

func (r *PGNotificationRepository) Create(ctx context.Context, rec *domain.NotificationRecord) error {
	sql, args, err := psql.Insert("notifications").
		Columns("id", "type", "user_id", "email", "booking_id", "status", "error", "message_id", "sent_at").
		Values(rec.ID, string(rec.Type), rec.UserID, rec.Email, rec.BookingID, string(rec.Status), rec.Error, rec.MessageID, rec.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create notification query failed: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("create notification failed: %w", err)
	}
	return nil
}

func (r *PGNotificationRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.NotificationRecord, error) {
	sql, args, err := psql.Select("id", "type", "user_id", "email", "booking_id", "status", "error", "message_id", "sent_at").
		From("notifications").
		Where(squirrel.Eq{"booking_id": bookingID}).
		OrderBy("sent_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notifications query failed: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications failed: %w", err)
	}
	defer rows.Close()

	records := make([]domain.NotificationRecord, 0)
	for rows.Next() {
		var rec domain.NotificationRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.UserID, &rec.Email, &rec.BookingID, &rec.Status, &rec.Error, &rec.MessageID, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification failed: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ NotificationRepository = (*PGNotificationRepository)(nil)
